package leader

import (
	"context"
	"sort"

	"github.com/podsage/podsage/internal/recommender"
	"github.com/podsage/podsage/pkg/models"
)

const (
	maxEpisodePool     = 6
	minRecommendations = 1
	maxRecommendations = 3
	recommendThreshold = 0.7

	retrievalWeight = 0.5
	cfWeight        = 0.5
)

// Recommender is the collaborative-filtering surface the leader needs.
type Recommender interface {
	Recommend(userID string, candidateEpisodes []string, topK int) []recommender.ScoredEpisode
}

// EpisodeStore resolves episode metadata for response shaping.
type EpisodeStore interface {
	GetEpisodesByIDs(ctx context.Context, ids []string) ([]models.Episode, error)
}

// recommend turns ranked candidates into 1..3 episode recommendations.
// Retrieval order seeds the list; a known user_id blends in CF scores.
func (l *Leader) recommend(ctx context.Context, query models.Query, candidates []models.Candidate) []models.EpisodeRecommendation {
	type pooled struct {
		episodeID   string
		podcastName string
		retrieval   float64
	}

	// Dedup by episode preserving candidate order, cap the pool.
	var pool []pooled
	seen := make(map[string]struct{})
	for _, c := range candidates {
		if _, dup := seen[c.EpisodeID]; dup {
			continue
		}
		seen[c.EpisodeID] = struct{}{}
		pool = append(pool, pooled{episodeID: c.EpisodeID, podcastName: c.PodcastName})
		if len(pool) == maxEpisodePool {
			break
		}
	}
	if len(pool) == 0 {
		return nil
	}

	// Positional retrieval score: first place 1.0, falling linearly.
	for i := range pool {
		pool[i].retrieval = float64(len(pool)-i) / float64(len(pool))
	}

	finals := make(map[string]float64, len(pool))
	for _, p := range pool {
		finals[p.episodeID] = p.retrieval
	}

	if query.UserID != "" {
		ids := make([]string, len(pool))
		for i, p := range pool {
			ids[i] = p.episodeID
		}
		for _, s := range l.recommender.Recommend(query.UserID, ids, len(ids)) {
			for _, p := range pool {
				if p.episodeID == s.EpisodeID {
					finals[s.EpisodeID] = retrievalWeight*p.retrieval + cfWeight*s.Score
				}
			}
		}
		sort.SliceStable(pool, func(a, b int) bool {
			if finals[pool[a].episodeID] != finals[pool[b].episodeID] {
				return finals[pool[a].episodeID] > finals[pool[b].episodeID]
			}
			return pool[a].episodeID < pool[b].episodeID
		})
	}

	// The count follows the score floor but stays within 1..3.
	count := 0
	for _, p := range pool {
		if finals[p.episodeID] >= recommendThreshold {
			count++
		}
	}
	if count < minRecommendations {
		count = minRecommendations
	}
	if count > maxRecommendations {
		count = maxRecommendations
	}
	if count > len(pool) {
		count = len(pool)
	}
	pool = pool[:count]

	// Resolve metadata; a store failure degrades to candidate-level fields.
	ids := make([]string, len(pool))
	for i, p := range pool {
		ids[i] = p.episodeID
	}
	meta := make(map[string]models.Episode)
	if l.episodes != nil {
		if eps, err := l.episodes.GetEpisodesByIDs(ctx, ids); err == nil {
			for _, ep := range eps {
				meta[ep.EpisodeID] = ep
			}
		} else {
			l.logger.WithError(err).Warn("Episode metadata lookup failed")
		}
	}

	recs := make([]models.EpisodeRecommendation, 0, len(pool))
	for _, p := range pool {
		rec := models.EpisodeRecommendation{
			EpisodeID:   p.episodeID,
			PodcastName: p.podcastName,
			Score:       finals[p.episodeID],
		}
		if ep, ok := meta[p.episodeID]; ok {
			rec.PodcastName = ep.PodcastName
			rec.EpisodeTitle = ep.Title
			rec.AudioURI = ep.AudioURI
			rec.ImageURI = ep.ImageURI
		}
		recs = append(recs, rec)
	}
	return recs
}
