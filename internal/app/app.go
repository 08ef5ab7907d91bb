// Package app wires the pipeline together: storage, vocabulary, embedding,
// the expert tree, the leader, and the HTTP surface.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/podsage/podsage/internal/agents"
	"github.com/podsage/podsage/internal/config"
	"github.com/podsage/podsage/internal/database"
	"github.com/podsage/podsage/internal/embedding"
	"github.com/podsage/podsage/internal/episodes"
	"github.com/podsage/podsage/internal/experts"
	"github.com/podsage/podsage/internal/handlers"
	"github.com/podsage/podsage/internal/leader"
	"github.com/podsage/podsage/internal/llm"
	"github.com/podsage/podsage/internal/messaging"
	"github.com/podsage/podsage/internal/middleware"
	"github.com/podsage/podsage/internal/pipeline"
	"github.com/podsage/podsage/internal/recommender"
	"github.com/podsage/podsage/internal/services"
	"github.com/podsage/podsage/internal/validation"
	"github.com/podsage/podsage/internal/vectorstore"
	"github.com/podsage/podsage/internal/vocab"
	"github.com/podsage/podsage/internal/websearch"
	"github.com/podsage/podsage/pkg/models"
)

type App struct {
	config   *config.Config
	logger   *logrus.Logger
	db       *database.Database
	vectors  *vectorstore.MilvusStore
	bus      *messaging.Bus
	engine   *recommender.Engine
	handlers *handlers.Handlers
	router   *gin.Engine

	cancelBackground context.CancelFunc
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config: cfg,
		logger: setupLogger(cfg),
	}

	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelInit()

	vectors, err := vectorstore.NewMilvusStore(initCtx, cfg.VectorIndex, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	app.vectors = vectors

	vocabulary, err := vocab.NewStore(cfg.Vocabulary.Path, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load tag vocabulary: %w", err)
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	embedder, err := embedding.NewOpenAIClient(cfg.Embedding, apiKey, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
	}

	pool, err := llm.NewPool(cfg.LLM, apiKey, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize llm pool: %w", err)
	}

	store := episodes.NewStore(db.PG, app.logger)
	app.engine = recommender.NewEngine(store, cfg.Recommender, app.logger)

	// The snapshot may be empty on a fresh deployment; that is not fatal.
	if err := app.engine.Refresh(initCtx); err != nil {
		app.logger.WithError(err).Warn("Initial recommender refresh failed")
	}

	var fallback websearch.Client = websearch.Disabled{}
	if cfg.WebSearch.Enabled {
		fallback = websearch.NewCached(
			websearch.NewHTTPProvider(cfg.WebSearch, app.logger),
			db.Redis, cfg.WebSearch.CacheTTL, app.logger,
		)
	}

	// One expert per category, all sharing the worker implementations.
	expertSet := make([]*experts.Expert, 0, len(models.Categories))
	for _, category := range models.Categories {
		expertSet = append(expertSet, experts.New(
			category,
			agents.NewRewriter(vocabulary),
			agents.NewSearcher(embedder, vectors, cfg.Pipeline.HybridAlpha),
			agents.NewReranker(cfg.Pipeline.RerankLimit),
			cfg.Pipeline,
		))
	}

	answerTokens := 0
	if len(cfg.LLM.Backends) > 0 {
		answerTokens = cfg.LLM.Backends[0].MaxTokens
	}

	lead := leader.New(
		vocabulary,
		expertSet,
		agents.NewAugmenter(vectors, cfg.Pipeline.AugmentTokens),
		agents.NewCompressor(embedder, cfg.Pipeline.ContextTokens, cfg.Pipeline.CompressorThreshold),
		agents.NewAnswerer(pool, answerTokens),
		app.engine,
		store,
		fallback,
		cfg.Pipeline,
		cfg.WebSearch.Enabled,
		app.logger,
	)

	runner := pipeline.NewRunner(lead, cfg.Pipeline.RequestTimeout, pipeline.NewMetrics(), app.logger)

	var queryRunner handlers.QueryRunner = runner
	if cfg.Pipeline.ResponseCacheTTL > 0 {
		queryRunner = pipeline.NewCachedRunner(runner, db.Redis, cfg.Pipeline.ResponseCacheTTL, app.logger)
	}

	validator, err := validation.NewSchemaValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to compile request schemas: %w", err)
	}

	health := services.NewHealthService(app.logger)
	health.RegisterCritical("vector_index", vectors.Ping)
	health.RegisterNonCritical("postgresql", func(ctx context.Context) error {
		return db.PG.Ping(ctx)
	})
	health.RegisterNonCritical("redis", func(ctx context.Context) error {
		return db.Redis.Ping(ctx).Err()
	})

	backgroundCtx, cancelBackground := context.WithCancel(context.Background())
	app.cancelBackground = cancelBackground
	health.StartMetricsCollection(backgroundCtx, db.PG)

	var publisher handlers.Publisher
	if cfg.Kafka.Enabled {
		bus, err := messaging.NewBus(cfg, app.logger)
		if err != nil {
			cancelBackground()
			return nil, fmt.Errorf("failed to initialize message bus: %w", err)
		}
		app.bus = bus
		publisher = bus

		handler := messaging.NewInteractionHandler(store, app.engine, cfg.Pipeline.SnapshotRefreshInterval, app.logger)
		go func() {
			if err := bus.Consume(backgroundCtx, handler.Handle); err != nil && backgroundCtx.Err() == nil {
				app.logger.WithError(err).Error("Interaction consumer stopped")
			}
		}()
	}

	go app.refreshLoop(backgroundCtx)

	app.handlers = handlers.New(
		app.logger,
		queryRunner,
		store,
		publisher,
		app.engine,
		store,
		health,
		validator,
		cfg.Pipeline.MaxQueryLength,
	)

	app.setupRouter()

	return app, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

// refreshLoop rebuilds the recommender snapshot on the configured interval so
// interactions recorded outside the Kafka path still land eventually.
func (a *App) refreshLoop(ctx context.Context) {
	interval := a.config.Pipeline.SnapshotRefreshInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refreshCtx, cancel := context.WithTimeout(ctx, time.Minute)
			if err := a.engine.Refresh(refreshCtx); err != nil {
				a.logger.WithError(err).Warn("Scheduled recommender refresh failed")
			}
			cancel()
		}
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	if a.cancelBackground != nil {
		a.cancelBackground()
	}

	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.logger.WithError(err).Error("Error closing message bus")
		}
	}

	if a.vectors != nil {
		if err := a.vectors.Close(); err != nil {
			a.logger.WithError(err).Error("Error closing vector index")
		}
	}

	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing database connections")
		return err
	}

	return nil
}

func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func (a *App) setupRouter() {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.CORS(a.config))

	router.GET("/health", a.handlers.Health.Check)
	router.GET("/metrics", a.handlers.Metrics)

	limiter := services.NewRateLimiter(
		a.db.Redis,
		a.config.Pipeline.QPSCeilingPerClient,
		a.config.Pipeline.RateLimitWindow,
		a.logger,
	)

	api := router.Group("/api/v1")
	{
		api.Use(middleware.RateLimit(limiter, a.config.Pipeline.QPSCeilingPerClient, a.logger))

		api.POST("/query", a.handlers.Query.Handle)
		api.POST("/interactions", a.handlers.Interaction.Record)
		api.GET("/recommendations", a.handlers.Recommendation.Get)
	}

	a.router = router
}
