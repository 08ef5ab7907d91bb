package leader

import (
	"sort"

	"github.com/podsage/podsage/internal/vocab"
	"github.com/podsage/podsage/pkg/models"
)

// Multi-category rule: a secondary category joins the dispatch when its
// normalized score clears the floor and is close enough to the primary's.
const (
	secondaryFloor     = 0.4
	secondaryOfPrimary = 0.6
)

// Classify scores the query against the vocabulary per category and applies
// the multi-category rule. A query with no tag evidence lands on Other with
// zero confidence; the gate downstream keeps it away from source=rag.
func Classify(v *vocab.Vocabulary, text string) (models.CategoryDecision, float64) {
	matches := v.Match(text)

	scores := make(map[models.Category]float64)
	var total float64
	for _, m := range matches {
		weighted := m.Score * m.Tag.Weight
		scores[m.Tag.Category] += weighted
		total += weighted
	}

	if total == 0 {
		return models.CategoryDecision{Primary: models.CategoryOther}, 0
	}

	type scored struct {
		category   models.Category
		confidence float64
	}
	ranked := make([]scored, 0, len(scores))
	for c, s := range scores {
		ranked = append(ranked, scored{category: c, confidence: s / total})
	}
	sort.Slice(ranked, func(a, b int) bool {
		if ranked[a].confidence != ranked[b].confidence {
			return ranked[a].confidence > ranked[b].confidence
		}
		return ranked[a].category.Rank() < ranked[b].category.Rank()
	})

	decision := models.CategoryDecision{Primary: ranked[0].category}
	primary := ranked[0].confidence

	for _, r := range ranked[1:] {
		if r.confidence >= secondaryFloor && r.confidence >= secondaryOfPrimary*primary {
			decision.Secondaries = append(decision.Secondaries, models.CategoryConfidence{
				Category:   r.category,
				Confidence: r.confidence,
			})
		}
	}
	decision.IsMulti = len(decision.Secondaries) > 0

	return decision, primary
}
