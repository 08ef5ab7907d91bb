package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/podsage/podsage/internal/services"
	"github.com/podsage/podsage/internal/validation"
)

type Handlers struct {
	Query          *QueryHandler
	Interaction    *InteractionHandler
	Recommendation *RecommendationHandler
	Health         *HealthHandler
	Metrics        gin.HandlerFunc
}

func New(
	logger *logrus.Logger,
	runner QueryRunner,
	recorder Recorder,
	publisher Publisher,
	engine RecommenderEngine,
	episodes EpisodeResolver,
	health *services.HealthService,
	validator *validation.SchemaValidator,
	maxQueryLength int,
) *Handlers {
	return &Handlers{
		Query:          NewQueryHandler(runner, validator, maxQueryLength, logger),
		Interaction:    NewInteractionHandler(recorder, publisher, validator, logger),
		Recommendation: NewRecommendationHandler(engine, episodes, logger),
		Health:         NewHealthHandler(logger, health),
		Metrics:        gin.WrapH(promhttp.Handler()),
	}
}
