package experts

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podsage/podsage/internal/agents"
	"github.com/podsage/podsage/internal/config"
	"github.com/podsage/podsage/internal/embedding"
	"github.com/podsage/podsage/internal/pipeline"
	"github.com/podsage/podsage/internal/vectorstore"
	"github.com/podsage/podsage/internal/vocab"
	"github.com/podsage/podsage/pkg/models"
)

const vocabularyYAML = `
tags:
  - name: investing
    category: business
    synonyms: ["index funds", "投資", "理財"]
  - name: language-learning
    category: education
    synonyms: ["english practice", "英文"]
`

func newVocab(t *testing.T) *vocab.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vocabulary.yaml")
	require.NoError(t, os.WriteFile(path, []byte(vocabularyYAML), 0o644))
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	store, err := vocab.NewStore(path, logger)
	require.NoError(t, err)
	return store
}

func embed(t *testing.T, emb embedding.Client, text string) []float32 {
	t.Helper()
	v, err := emb.Embed(context.Background(), text)
	require.NoError(t, err)
	return v
}

// laggedStore answers successfully, but only after the caller's deadline has
// already passed. The search stage still gets candidates while every stage
// after it sees an expired context.
type laggedStore struct {
	*vectorstore.FakeStore
}

func (s *laggedStore) Search(ctx context.Context, vector []float32, filter vectorstore.Filter, k int) ([]models.Candidate, error) {
	if deadline, ok := ctx.Deadline(); ok {
		time.Sleep(time.Until(deadline) + 20*time.Millisecond)
	}
	return s.FakeStore.Search(context.Background(), vector, filter, k)
}

func pipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		HybridAlpha: 0.7,
		RerankLimit: 5,
		StageBudgets: map[string]int{
			"rewrite": 500,
			"search":  3000,
			"rerank":  1000,
		},
	}
}

func TestExpertRun(t *testing.T) {
	emb := embedding.NewDeterministic(64)
	now := time.Now()
	store := vectorstore.NewFakeStore(
		vectorstore.Chunk{
			ChunkID: "b-0", EpisodeID: "b", PodcastID: "p1", ChunkIndex: 0,
			Category: models.CategoryBusiness, Tags: []string{"investing"},
			Text:        "index funds keep investing simple",
			PublishedAt: now,
			Embedding:   embed(t, emb, "index funds keep investing simple"),
		},
		vectorstore.Chunk{
			ChunkID: "e-0", EpisodeID: "e", PodcastID: "p2", ChunkIndex: 0,
			Category: models.CategoryEducation, Tags: []string{"language-learning"},
			Text:        "practice english with podcasts",
			PublishedAt: now,
			Embedding:   embed(t, emb, "practice english with podcasts"),
		},
	)

	vocabStore := newVocab(t)
	cfg := pipelineConfig()

	newExpert := func(c models.Category) *Expert {
		return New(c,
			agents.NewRewriter(vocabStore),
			agents.NewSearcher(emb, store, cfg.HybridAlpha),
			agents.NewReranker(cfg.RerankLimit),
			cfg,
		)
	}

	t.Run("stays inside its category", func(t *testing.T) {
		expert := newExpert(models.CategoryBusiness)
		trace := pipeline.NewTrace("t1")

		result, err := expert.Run(context.Background(), models.Query{Text: "how to start investing"}, trace)
		require.NoError(t, err)
		require.NotEmpty(t, result.Candidates)
		for _, c := range result.Candidates {
			assert.Equal(t, models.CategoryBusiness, c.Category)
		}
		assert.Greater(t, result.Confidence, 0.0)
		assert.Equal(t, models.CategoryBusiness, result.Category)
	})

	t.Run("prefixes trace stages with the category", func(t *testing.T) {
		expert := newExpert(models.CategoryBusiness)
		trace := pipeline.NewTrace("t2")

		_, err := expert.Run(context.Background(), models.Query{Text: "investing"}, trace)
		require.NoError(t, err)

		_, ok := trace.Stage("business/rewrite")
		assert.True(t, ok)
		_, ok = trace.Stage("business/search")
		assert.True(t, ok)
		_, ok = trace.Stage("business/rerank")
		assert.True(t, ok)
	})

	t.Run("search failure surfaces", func(t *testing.T) {
		broken := vectorstore.NewFakeStore()
		broken.Err = vectorstore.ErrSearchFailed
		expert := New(models.CategoryBusiness,
			agents.NewRewriter(vocabStore),
			agents.NewSearcher(emb, broken, cfg.HybridAlpha),
			agents.NewReranker(cfg.RerankLimit),
			cfg,
		)
		_, err := expert.Run(context.Background(), models.Query{Text: "investing"}, pipeline.NewTrace("t3"))
		assert.ErrorIs(t, err, vectorstore.ErrSearchFailed)
	})

	t.Run("rerank budget overrun marks the result timed out", func(t *testing.T) {
		expert := New(models.CategoryBusiness,
			agents.NewRewriter(vocabStore),
			agents.NewSearcher(emb, &laggedStore{FakeStore: store}, cfg.HybridAlpha),
			agents.NewReranker(cfg.RerankLimit),
			cfg,
		)

		ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
		defer cancel()
		trace := pipeline.NewTrace("t5")

		result, err := expert.Run(ctx, models.Query{Text: "how to start investing"}, trace)
		require.NoError(t, err)
		assert.True(t, result.TimedOut)
		require.NotEmpty(t, result.Candidates)

		entry, ok := trace.Stage("business/rerank")
		require.True(t, ok)
		assert.True(t, entry.TimedOut)
	})

	t.Run("empty corpus scores zero", func(t *testing.T) {
		expert := New(models.CategoryOther,
			agents.NewRewriter(vocabStore),
			agents.NewSearcher(emb, vectorstore.NewFakeStore(), cfg.HybridAlpha),
			agents.NewReranker(cfg.RerankLimit),
			cfg,
		)
		result, err := expert.Run(context.Background(), models.Query{Text: "anything"}, pipeline.NewTrace("t4"))
		require.NoError(t, err)
		assert.Empty(t, result.Candidates)
		assert.Zero(t, result.Confidence)
	})
}
