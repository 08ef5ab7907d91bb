package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/podsage/podsage/internal/recommender"
	"github.com/podsage/podsage/pkg/models"
)

const (
	defaultRecommendationCount = 3
	maxRecommendationCount     = 20
)

// RecommenderEngine is the CF surface the standalone endpoint needs.
type RecommenderEngine interface {
	Recommend(userID string, candidateEpisodes []string, topK int) []recommender.ScoredEpisode
	KnownEpisodes() []string
}

// EpisodeResolver resolves episode metadata for the response.
type EpisodeResolver interface {
	GetEpisodesByIDs(ctx context.Context, ids []string) ([]models.Episode, error)
}

type RecommendationHandler struct {
	engine   RecommenderEngine
	episodes EpisodeResolver
	logger   *logrus.Logger
}

func NewRecommendationHandler(engine RecommenderEngine, episodes EpisodeResolver, logger *logrus.Logger) *RecommendationHandler {
	return &RecommendationHandler{
		engine:   engine,
		episodes: episodes,
		logger:   logger,
	}
}

// Get serves GET /recommendations?user_id=&category=&top_k=.
func (h *RecommendationHandler) Get(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "MISSING_USER_ID",
				"message": "user_id is required",
			},
		})
		return
	}

	topK := defaultRecommendationCount
	if raw := c.Query("top_k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"code":    "INVALID_TOP_K",
					"message": "top_k must be a positive integer",
				},
			})
			return
		}
		topK = parsed
		if topK > maxRecommendationCount {
			topK = maxRecommendationCount
		}
	}

	var categoryFilter models.Category
	filterByCategory := false
	if raw := c.Query("category"); raw != "" {
		categoryFilter = models.ParseCategory(raw)
		filterByCategory = true
	}

	candidates := h.engine.KnownEpisodes()
	if len(candidates) == 0 {
		c.JSON(http.StatusOK, gin.H{
			"user_id":         userID,
			"recommendations": []models.EpisodeRecommendation{},
		})
		return
	}

	scored := h.engine.Recommend(userID, candidates, 0)
	coldStart := len(scored) > 0 && scored[0].ColdStart

	// Over-fetch metadata so a category filter still fills topK slots.
	fetch := topK
	if filterByCategory {
		fetch = topK * 4
	}
	if fetch > len(scored) {
		fetch = len(scored)
	}
	ids := make([]string, fetch)
	for i := 0; i < fetch; i++ {
		ids[i] = scored[i].EpisodeID
	}

	meta := make(map[string]models.Episode, len(ids))
	if eps, err := h.episodes.GetEpisodesByIDs(c.Request.Context(), ids); err == nil {
		for _, ep := range eps {
			meta[ep.EpisodeID] = ep
		}
	} else {
		h.logger.WithError(err).Warn("Episode metadata lookup failed")
	}

	recs := make([]models.EpisodeRecommendation, 0, topK)
	for i := 0; i < fetch && len(recs) < topK; i++ {
		s := scored[i]
		ep, known := meta[s.EpisodeID]
		if filterByCategory && (!known || ep.Category != categoryFilter) {
			continue
		}
		rec := models.EpisodeRecommendation{
			EpisodeID: s.EpisodeID,
			Score:     s.Score,
		}
		if known {
			rec.PodcastName = ep.PodcastName
			rec.EpisodeTitle = ep.Title
			rec.AudioURI = ep.AudioURI
			rec.ImageURI = ep.ImageURI
		}
		recs = append(recs, rec)
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":         userID,
		"cold_start":      coldStart,
		"recommendations": recs,
	})
}
