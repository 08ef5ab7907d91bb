// Package vectorstore provides ANN search over chunk embeddings with
// category/tag metadata filtering. The pipeline reads from the index but
// never writes; ingestion owns the collection contents.
package vectorstore

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/podsage/podsage/pkg/models"
)

var (
	ErrInvalidDimension = errors.New("invalid vector dimension")
	ErrSearchFailed     = errors.New("vector search failed")
	ErrConnectionFailed = errors.New("failed to connect to vector index")
)

// Filter restricts a search to a conjunction of equality/IN predicates. Zero
// values mean "no constraint".
type Filter struct {
	Category  models.Category
	Tags      []string
	Language  string
	PodcastID string
}

// Searcher is the read-side contract the pipeline depends on.
type Searcher interface {
	// Search returns at most k candidates with semantic_score in [0,1],
	// ordered score-descending with chunk_id breaking ties so identical
	// queries return identical orderings.
	Search(ctx context.Context, vector []float32, filter Filter, k int) ([]models.Candidate, error)

	// Neighbors returns chunks from the same episode whose index is within
	// span of chunkIndex, excluding the chunk itself, ordered by chunk index.
	Neighbors(ctx context.Context, episodeID string, chunkIndex, span int) ([]models.Candidate, error)
}

// recencyHalfLife converts a publication timestamp into a [0,1] recency score
// used by the reranker.
const recencyHalfLife = 180 * 24 * time.Hour

func recencyScore(publishedAt time.Time, now time.Time) float64 {
	if publishedAt.IsZero() || publishedAt.After(now) {
		return 0.5
	}
	age := now.Sub(publishedAt)
	return math.Exp2(-float64(age) / float64(recencyHalfLife))
}

// clampScore maps raw cosine similarity onto [0,1].
func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
