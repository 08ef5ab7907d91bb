// Package recommender scores episodes per user with user-kNN collaborative
// filtering over an atomically refreshed interaction snapshot.
package recommender

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/podsage/podsage/internal/config"
	"github.com/podsage/podsage/pkg/models"
)

// InteractionSource supplies the interaction history a snapshot is built from.
type InteractionSource interface {
	ListInteractions(ctx context.Context, limit int) ([]models.UserInteraction, error)
}

// ScoredEpisode is one recommendation candidate with its normalized CF score.
type ScoredEpisode struct {
	EpisodeID string
	Score     float64
	ColdStart bool
}

type Engine struct {
	source InteractionSource
	cfg    config.RecommenderConfig
	logger *logrus.Logger

	snapshot atomic.Pointer[Snapshot]
	version  atomic.Int64
}

func NewEngine(source InteractionSource, cfg config.RecommenderConfig, logger *logrus.Logger) *Engine {
	e := &Engine{source: source, cfg: cfg, logger: logger}
	e.snapshot.Store(BuildSnapshot(nil, cfg, 0, time.Now()))
	return e
}

// Refresh rebuilds the snapshot from the interaction source and swaps it in.
// In-flight Recommend calls keep reading the previous snapshot; on failure the
// previous snapshot stays current.
func (e *Engine) Refresh(ctx context.Context) error {
	interactions, err := e.source.ListInteractions(ctx, e.cfg.MaxInteractions)
	if err != nil {
		return fmt.Errorf("loading interactions: %w", err)
	}

	version := e.version.Add(1)
	snap := BuildSnapshot(interactions, e.cfg, version, time.Now())
	e.snapshot.Store(snap)

	e.logger.WithFields(logrus.Fields{
		"version":      version,
		"users":        len(snap.userIndex),
		"episodes":     len(snap.episodeIndex),
		"interactions": len(interactions),
	}).Info("Interaction snapshot refreshed")
	return nil
}

// Snapshot returns the current immutable snapshot.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// KnownEpisodes lists every episode present in the current snapshot, in
// first-seen order. Standalone recommendation requests score this pool.
func (e *Engine) KnownEpisodes() []string {
	ids := e.snapshot.Load().episodeIDs
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Recommend scores the candidate episodes for the user. Users below the
// interaction floor get popularity scores instead of neighbour predictions.
// Scores are normalized to [0,1]; results are ordered score-descending with
// episode ID breaking ties.
func (e *Engine) Recommend(userID string, candidateEpisodes []string, topK int) []ScoredEpisode {
	snap := e.snapshot.Load()

	var scored []ScoredEpisode
	if snap.UserInteractionCount(userID) < e.cfg.MinInteractions {
		scored = snap.popularityScores(candidateEpisodes)
	} else {
		scored = snap.predictScores(userID, candidateEpisodes, e.cfg.Neighbourhood)
	}

	sort.SliceStable(scored, func(a, b int) bool {
		if scored[a].Score != scored[b].Score {
			return scored[a].Score > scored[b].Score
		}
		return scored[a].EpisodeID < scored[b].EpisodeID
	})

	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

func (s *Snapshot) popularityScores(candidates []string) []ScoredEpisode {
	var max float64
	for _, mass := range s.popularity {
		if mass > max {
			max = mass
		}
	}

	scored := make([]ScoredEpisode, 0, len(candidates))
	for _, id := range candidates {
		score := 0.0
		if max > 0 {
			score = s.popularity[id] / max
		}
		scored = append(scored, ScoredEpisode{EpisodeID: id, Score: score, ColdStart: true})
	}
	return scored
}

func (s *Snapshot) predictScores(userID string, candidates []string, k int) []ScoredEpisode {
	u, ok := s.userIndex[userID]
	if !ok {
		return s.popularityScores(candidates)
	}
	if k <= 0 {
		k = 10
	}

	type neighbour struct {
		idx int
		sim float64
	}
	var neighbours []neighbour
	for v := range s.userCounts {
		if v == u {
			continue
		}
		if sim := s.similarity(u, v); sim > 0 {
			neighbours = append(neighbours, neighbour{idx: v, sim: sim})
		}
	}
	sort.Slice(neighbours, func(a, b int) bool {
		if neighbours[a].sim != neighbours[b].sim {
			return neighbours[a].sim > neighbours[b].sim
		}
		return neighbours[a].idx < neighbours[b].idx
	})
	if len(neighbours) > k {
		neighbours = neighbours[:k]
	}

	scored := make([]ScoredEpisode, 0, len(candidates))
	for _, id := range candidates {
		e, known := s.episodeIndex[id]
		if !known {
			scored = append(scored, ScoredEpisode{EpisodeID: id})
			continue
		}
		if s.rated[u][e] {
			// Already consumed; score from the user's own rating so it
			// can still surface when the pool is thin.
			scored = append(scored, ScoredEpisode{EpisodeID: id, Score: clampRating(s.ratings.At(u, e)) / 5})
			continue
		}

		var num, den float64
		for _, n := range neighbours {
			if !s.rated[n.idx][e] {
				continue
			}
			num += n.sim * (s.ratings.At(n.idx, e) - s.userMeans[n.idx])
			den += math.Abs(n.sim)
		}

		prediction := s.userMeans[u]
		if den > 0 {
			prediction += num / den
		}
		scored = append(scored, ScoredEpisode{EpisodeID: id, Score: clampRating(prediction) / 5})
	}
	return scored
}

func clampRating(r float64) float64 {
	if r < 0 {
		return 0
	}
	if r > 5 {
		return 5
	}
	return r
}
