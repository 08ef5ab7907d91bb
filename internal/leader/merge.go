package leader

import (
	"sort"

	"github.com/podsage/podsage/internal/experts"
	"github.com/podsage/podsage/pkg/models"
)

// mergedCandidate keeps the provenance needed for deterministic ordering.
type mergedCandidate struct {
	models.Candidate
	expertConfidence float64
	categoryRank     int
	mergeScore       float64
}

// mergeExpertResults unions candidate sets, dedupes by chunk_id keeping the
// strongest claim, and ranks by expert_confidence times hybrid_score. Ties
// break by category rank then chunk_id, so identical inputs always merge to
// the identical list regardless of expert completion order.
func mergeExpertResults(results []experts.Result, limit int) []models.Candidate {
	best := make(map[string]mergedCandidate)

	for _, r := range results {
		for _, c := range r.Candidates {
			mc := mergedCandidate{
				Candidate:        c,
				expertConfidence: r.Confidence,
				categoryRank:     r.Category.Rank(),
				mergeScore:       r.Confidence * c.HybridScore,
			}
			prev, seen := best[c.ChunkID]
			if !seen || mc.mergeScore > prev.mergeScore ||
				(mc.mergeScore == prev.mergeScore && mc.categoryRank < prev.categoryRank) {
				best[c.ChunkID] = mc
			}
		}
	}

	merged := make([]mergedCandidate, 0, len(best))
	for _, mc := range best {
		merged = append(merged, mc)
	}
	sort.Slice(merged, func(a, b int) bool {
		if merged[a].mergeScore != merged[b].mergeScore {
			return merged[a].mergeScore > merged[b].mergeScore
		}
		if merged[a].categoryRank != merged[b].categoryRank {
			return merged[a].categoryRank < merged[b].categoryRank
		}
		if merged[a].expertConfidence != merged[b].expertConfidence {
			return merged[a].expertConfidence > merged[b].expertConfidence
		}
		return merged[a].ChunkID < merged[b].ChunkID
	})

	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}

	out := make([]models.Candidate, len(merged))
	for i, mc := range merged {
		out[i] = mc.Candidate
		out[i].SourceStage = "merge"
	}
	return out
}

// bestHybrid is the strongest hybrid score in the merged set; one input to
// the confidence gate.
func bestHybrid(candidates []models.Candidate) float64 {
	var best float64
	for _, c := range candidates {
		if c.HybridScore > best {
			best = c.HybridScore
		}
	}
	return best
}
