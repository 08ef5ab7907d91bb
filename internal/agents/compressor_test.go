package agents

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podsage/podsage/internal/embedding"
	"github.com/podsage/podsage/pkg/models"
)

func TestCompressorRun(t *testing.T) {
	emb := embedding.NewDeterministic(testDim)
	ctx := context.Background()
	query := "how do I start investing in index funds"

	t.Run("drops off-topic sentences", func(t *testing.T) {
		in := []models.Candidate{{
			ChunkID:     "c1",
			PodcastName: "Money Talks",
			Text: "Start investing with low cost index funds. " +
				"My cat knocked a glass off the kitchen table yesterday morning. " +
				"Index funds spread investing risk across the whole market.",
		}}
		out, entry := NewCompressor(emb, 2048, 0.2).Run(ctx, in, query, testBudget)
		require.Len(t, out.Candidates, 1)
		assert.Contains(t, out.Candidates[0].Text, "index funds")
		assert.NotContains(t, out.Candidates[0].Text, "cat")
		assert.Contains(t, out.Context, "[Money Talks]")
		assert.Equal(t, "compress", entry.Stage)
		assert.GreaterOrEqual(t, out.Confidence, ThresholdCompressor)
	})

	t.Run("token cap bounds the context", func(t *testing.T) {
		long := strings.Repeat("Index funds make investing in the stock market simple. ", 50)
		in := []models.Candidate{
			{ChunkID: "c1", Text: long},
			{ChunkID: "c2", Text: long},
		}
		out, _ := NewCompressor(emb, 100, 0.2).Run(ctx, in, query, testBudget)
		assert.LessOrEqual(t, out.Tokens, 100)
		assert.NotEmpty(t, out.Context)
	})

	t.Run("all-dropped candidate keeps its lead sentence", func(t *testing.T) {
		in := []models.Candidate{{
			ChunkID: "c1",
			Text:    "The weather was cloudy. The bakery opens at seven.",
		}}
		out, _ := NewCompressor(emb, 2048, 0.99).Run(ctx, in, query, testBudget)
		require.Len(t, out.Candidates, 1)
		assert.Equal(t, "The weather was cloudy.", out.Candidates[0].Text)
	})

	t.Run("embedding failure degrades to truncation", func(t *testing.T) {
		broken := embedding.NewDeterministic(testDim)
		broken.Err = embedding.ErrUnavailable
		in := []models.Candidate{{ChunkID: "c1", Text: "Sentence one. Sentence two."}}
		out, _ := NewCompressor(broken, 2048, 0.2).Run(ctx, in, query, testBudget)
		require.Len(t, out.Candidates, 1)
		assert.Equal(t, "Sentence one. Sentence two.", out.Candidates[0].Text)
		assert.Less(t, out.Confidence, ThresholdCompressor)
	})
}
