package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podsage/podsage/internal/embedding"
	"github.com/podsage/podsage/internal/vectorstore"
	"github.com/podsage/podsage/pkg/models"
)

func TestAugmenterRun(t *testing.T) {
	emb := embedding.NewDeterministic(testDim)
	corpus := newTestCorpus(t, emb)
	ctx := context.Background()

	t.Run("stitches adjacent chunk text", func(t *testing.T) {
		in := []models.Candidate{{
			ChunkID: "biz-ep1-0", EpisodeID: "biz-ep1", ChunkIndex: 0,
			Text: "Index funds are the simplest way to start investing. Keep costs low.",
		}}
		out, entry := NewAugmenter(corpus, 256).Run(ctx, in, testBudget)
		require.Len(t, out.Candidates, 1)
		assert.Contains(t, out.Candidates[0].Text, "Dollar cost averaging")
		assert.Contains(t, out.Candidates[0].Text, "Index funds")
		assert.Equal(t, "augment", entry.Stage)
		assert.GreaterOrEqual(t, out.Confidence, ThresholdAugmenter)
	})

	t.Run("token budget blocks oversized neighbours", func(t *testing.T) {
		in := []models.Candidate{{
			ChunkID: "biz-ep1-0", EpisodeID: "biz-ep1", ChunkIndex: 0, Text: "original",
		}}
		out, _ := NewAugmenter(corpus, 1).Run(ctx, in, testBudget)
		require.Len(t, out.Candidates, 1)
		assert.Equal(t, "original", out.Candidates[0].Text)
	})

	t.Run("lonely chunk passes through", func(t *testing.T) {
		in := []models.Candidate{{
			ChunkID: "edu-ep2-0", EpisodeID: "edu-ep2", ChunkIndex: 0, Text: "solo",
		}}
		out, _ := NewAugmenter(corpus, 256).Run(ctx, in, testBudget)
		require.Len(t, out.Candidates, 1)
		assert.Equal(t, "solo", out.Candidates[0].Text)
	})

	t.Run("store failure leaves candidates intact", func(t *testing.T) {
		broken := vectorstore.NewFakeStore()
		broken.Err = vectorstore.ErrSearchFailed
		in := []models.Candidate{{ChunkID: "x", EpisodeID: "e", Text: "kept"}}
		out, _ := NewAugmenter(broken, 256).Run(ctx, in, testBudget)
		require.Len(t, out.Candidates, 1)
		assert.Equal(t, "kept", out.Candidates[0].Text)
	})
}
