package agents

import (
	"context"
	"sort"
	"time"

	"github.com/podsage/podsage/internal/pipeline"
	"github.com/podsage/podsage/pkg/models"
)

// Rerank weights. Hybrid relevance dominates, tag agreement and freshness
// adjust at the margin.
const (
	rerankHybridWeight  = 0.6
	rerankTagWeight     = 0.3
	rerankRecencyWeight = 0.1

	// Each additional candidate from an already-seen podcast is discounted
	// so one show cannot fill the whole context window.
	diversityPenalty = 0.85
)

// RerankResult is the top candidates after deterministic re-weighting.
type RerankResult struct {
	Candidates []models.Candidate
	Confidence float64
	TimedOut   bool
}

// Reranker re-weights candidates and keeps the best limit of them. Purely
// deterministic; no model calls.
type Reranker struct {
	limit int
}

func NewReranker(limit int) *Reranker {
	if limit <= 0 {
		limit = 5
	}
	return &Reranker{limit: limit}
}

func (r *Reranker) Run(ctx context.Context, candidates []models.Candidate, budget time.Duration) (RerankResult, pipeline.TraceEntry) {
	ctx, cancel := withBudget(ctx, budget)
	defer cancel()
	start := time.Now()

	rescored := make([]models.Candidate, len(candidates))
	copy(rescored, candidates)
	deltas := make(map[string]float64, len(rescored))

	for i := range rescored {
		c := &rescored[i]
		score := rerankHybridWeight*c.HybridScore +
			rerankTagWeight*c.TagScore +
			rerankRecencyWeight*c.RecencyScore
		deltas[c.ChunkID] = score - c.HybridScore
		c.HybridScore = score
	}

	sort.SliceStable(rescored, func(a, b int) bool {
		if rescored[a].HybridScore != rescored[b].HybridScore {
			return rescored[a].HybridScore > rescored[b].HybridScore
		}
		return rescored[a].ChunkID < rescored[b].ChunkID
	})

	// Apply the podcast diversity discount in rank order, then re-sort so
	// the discount can demote repeats below fresh podcasts.
	seen := make(map[string]int)
	for i := range rescored {
		c := &rescored[i]
		if n := seen[c.PodcastID]; n > 0 {
			discounted := c.HybridScore
			for j := 0; j < n; j++ {
				discounted *= diversityPenalty
			}
			deltas[c.ChunkID] += discounted - c.HybridScore
			c.HybridScore = discounted
		}
		seen[c.PodcastID]++
	}
	sort.SliceStable(rescored, func(a, b int) bool {
		if rescored[a].HybridScore != rescored[b].HybridScore {
			return rescored[a].HybridScore > rescored[b].HybridScore
		}
		return rescored[a].ChunkID < rescored[b].ChunkID
	})

	var dropped []string
	if len(rescored) > r.limit {
		for _, c := range rescored[r.limit:] {
			dropped = append(dropped, c.ChunkID)
		}
		rescored = rescored[:r.limit]
	}
	for i := range rescored {
		rescored[i].SourceStage = "rerank"
	}

	out := RerankResult{
		Candidates: rescored,
		Confidence: MeanTopHybrid(rescored, 3),
		TimedOut:   ctx.Err() != nil,
	}

	return out, pipeline.TraceEntry{
		Stage:       "rerank",
		Elapsed:     time.Since(start),
		InputSize:   len(candidates),
		OutputSize:  len(rescored),
		Confidence:  out.Confidence,
		TimedOut:    out.TimedOut,
		Dropped:     dropped,
		ScoreDeltas: deltas,
	}
}
