package agents

import (
	"context"
	"strings"
	"time"

	"github.com/podsage/podsage/internal/pipeline"
	"github.com/podsage/podsage/internal/vectorstore"
	"github.com/podsage/podsage/pkg/models"
)

// neighborSpan is how far on each side of a chunk the augmenter reaches.
const neighborSpan = 1

// AugmentResult is the candidate set with neighbouring transcript context
// stitched in.
type AugmentResult struct {
	Candidates []models.Candidate
	Confidence float64
	TimedOut   bool
}

// Augmenter widens each candidate with adjacent chunks from the same episode,
// bounded by an extra-token budget per candidate. A candidate whose neighbours
// cannot be fetched passes through unchanged.
type Augmenter struct {
	store       vectorstore.Searcher
	extraTokens int
}

func NewAugmenter(store vectorstore.Searcher, extraTokens int) *Augmenter {
	if extraTokens <= 0 {
		extraTokens = 256
	}
	return &Augmenter{store: store, extraTokens: extraTokens}
}

func (a *Augmenter) Run(ctx context.Context, candidates []models.Candidate, budget time.Duration) (AugmentResult, pipeline.TraceEntry) {
	ctx, cancel := withBudget(ctx, budget)
	defer cancel()
	start := time.Now()

	out := AugmentResult{Candidates: make([]models.Candidate, len(candidates))}
	copy(out.Candidates, candidates)

	augmented := 0
	for i := range out.Candidates {
		if ctx.Err() != nil {
			out.TimedOut = true
			break
		}

		cand := &out.Candidates[i]
		neighbours, err := a.store.Neighbors(ctx, cand.EpisodeID, cand.ChunkIndex, neighborSpan)
		if err != nil || len(neighbours) == 0 {
			continue
		}

		var before, after []string
		spent := 0
		for _, n := range neighbours {
			cost := estimateTokens(n.Text)
			if spent+cost > a.extraTokens {
				break
			}
			spent += cost
			if n.ChunkIndex < cand.ChunkIndex {
				before = append(before, n.Text)
			} else {
				after = append(after, n.Text)
			}
		}
		if len(before) == 0 && len(after) == 0 {
			continue
		}

		parts := append(append(before, cand.Text), after...)
		cand.Text = strings.Join(parts, " ")
		cand.SourceStage = "augment"
		augmented++
	}

	out.Confidence = ThresholdAugmenter
	if len(candidates) > 0 {
		out.Confidence += 0.2 * float64(augmented) / float64(len(candidates))
	}

	return out, pipeline.TraceEntry{
		Stage:      "augment",
		Elapsed:    time.Since(start),
		InputSize:  len(candidates),
		OutputSize: len(out.Candidates),
		Confidence: out.Confidence,
		TimedOut:   out.TimedOut,
	}
}
