package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/podsage/podsage/pkg/models"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Vocabulary  VocabularyConfig  `mapstructure:"vocabulary"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	VectorIndex VectorIndexConfig `mapstructure:"vector_index"`
	Recommender RecommenderConfig `mapstructure:"recommender"`
	LLM         LLMConfig         `mapstructure:"llm"`
	WebSearch   WebSearchConfig   `mapstructure:"web_search"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Security    SecurityConfig    `mapstructure:"security"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConnections int           `mapstructure:"max_connections"`
	MaxIdleTime    time.Duration `mapstructure:"max_idle_time"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type RedisConfig struct {
	URL        string        `mapstructure:"url"`
	MaxRetries int           `mapstructure:"max_retries"`
	PoolSize   int           `mapstructure:"pool_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topics  struct {
		UserInteractions string `mapstructure:"user_interactions"`
	} `mapstructure:"topics"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type VocabularyConfig struct {
	Path string `mapstructure:"path"`
}

type EmbeddingConfig struct {
	Model      string        `mapstructure:"model"`
	Dimension  int           `mapstructure:"dimension"`
	MaxRetries int           `mapstructure:"max_retries"`
	Timeout    time.Duration `mapstructure:"timeout"`
	PoolSize   int           `mapstructure:"pool_size"`
	PoolWait   time.Duration `mapstructure:"pool_wait"`
}

type VectorIndexConfig struct {
	Address    string `mapstructure:"address"`
	Collection string `mapstructure:"collection"`
	Dimension  int    `mapstructure:"dimension"`

	// NProbe tunes search breadth; the HNSW index applies it as ef.
	NProbe int `mapstructure:"nprobe"`
}

type RecommenderConfig struct {
	Neighbourhood   int           `mapstructure:"neighbourhood"`
	MinInteractions int           `mapstructure:"min_interactions"`
	HalfLife        time.Duration `mapstructure:"half_life"`
	MaxInteractions int           `mapstructure:"max_interactions"`
}

type LLMBackendConfig struct {
	Name        string  `mapstructure:"name"`
	Endpoint    string  `mapstructure:"endpoint"`
	ModelID     string  `mapstructure:"model_id"`
	Priority    int     `mapstructure:"priority"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
	MaxInFlight int     `mapstructure:"max_in_flight"`
}

type LLMConfig struct {
	Backends  []LLMBackendConfig `mapstructure:"backends"`
	Timeout   time.Duration      `mapstructure:"timeout"`
	MinLength int                `mapstructure:"min_length"`
	Retries   int                `mapstructure:"retries"`
}

type WebSearchConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Endpoint   string        `mapstructure:"endpoint"`
	APIKey     string        `mapstructure:"api_key"`
	MaxResults int           `mapstructure:"max_results"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
}

type PipelineConfig struct {
	HybridAlpha             float64        `mapstructure:"hybrid_alpha"`
	StageBudgets            map[string]int `mapstructure:"stage_budgets_ms"`
	MergeLimit              int            `mapstructure:"merge_limit"`
	RerankLimit             int            `mapstructure:"rerank_limit"`
	ContextTokens           int            `mapstructure:"context_tokens"`
	AugmentTokens           int            `mapstructure:"augment_tokens"`
	CompressorThreshold     float64        `mapstructure:"compressor_threshold"`
	RAGThreshold            float64        `mapstructure:"confidence_threshold_rag"`
	FallbackThreshold       float64        `mapstructure:"confidence_threshold_fallback"`
	GateRetrievalWeight     float64        `mapstructure:"gate_retrieval_weight"`
	GateAnswerWeight        float64        `mapstructure:"gate_answer_weight"`
	RequestTimeout          time.Duration  `mapstructure:"request_timeout"`
	MaxQueryLength          int            `mapstructure:"max_query_length"`
	QPSCeilingPerClient     int            `mapstructure:"qps_ceiling_per_client"`
	RateLimitWindow         time.Duration  `mapstructure:"rate_limit_window"`
	ResponseCacheTTL        time.Duration  `mapstructure:"response_cache_ttl"`
	SnapshotRefreshInterval time.Duration  `mapstructure:"snapshot_refresh_interval"`
}

type SecurityConfig struct {
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// StageBudget returns the configured budget for a named stage, or a safe
// default when none is set.
func (p PipelineConfig) StageBudget(stage string) time.Duration {
	if ms, ok := p.StageBudgets[stage]; ok && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return 2 * time.Second
}

func Load() (*Config, error) {
	viper.SetConfigName("app")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional, continue with env vars and defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("%w: %v", models.ErrConfig, err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrConfig, err)
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(cfg *Config) error {
	if cfg.Embedding.Dimension != cfg.VectorIndex.Dimension {
		return fmt.Errorf("%w: embedding dimension %d does not match vector index dimension %d",
			models.ErrConfig, cfg.Embedding.Dimension, cfg.VectorIndex.Dimension)
	}
	if cfg.Pipeline.HybridAlpha < 0 || cfg.Pipeline.HybridAlpha > 1 {
		return fmt.Errorf("%w: hybrid_alpha must be in [0,1], got %f",
			models.ErrConfig, cfg.Pipeline.HybridAlpha)
	}
	if len(cfg.LLM.Backends) == 0 {
		return fmt.Errorf("%w: at least one llm backend is required", models.ErrConfig)
	}
	return nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "development")

	// Database defaults
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.max_idle_time", "15m")
	viper.SetDefault("database.max_lifetime", "1h")
	viper.SetDefault("database.connect_timeout", "10s")

	// Redis defaults
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.timeout", "5s")

	// Kafka defaults
	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.topics.user_interactions", "user-interactions")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	// Vocabulary defaults
	viper.SetDefault("vocabulary.path", "./config/vocabulary.yaml")

	// Embedding defaults
	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("embedding.dimension", 768)
	viper.SetDefault("embedding.max_retries", 3)
	viper.SetDefault("embedding.timeout", "10s")
	viper.SetDefault("embedding.pool_size", 16)
	viper.SetDefault("embedding.pool_wait", "2s")

	// Vector index defaults
	viper.SetDefault("vector_index.address", "localhost:19530")
	viper.SetDefault("vector_index.collection", "podcast_chunks")
	viper.SetDefault("vector_index.dimension", 768)
	viper.SetDefault("vector_index.nprobe", 16)

	// Recommender defaults
	viper.SetDefault("recommender.neighbourhood", 10)
	viper.SetDefault("recommender.min_interactions", 5)
	viper.SetDefault("recommender.half_life", "720h") // 30 days
	viper.SetDefault("recommender.max_interactions", 100000)

	// LLM defaults
	viper.SetDefault("llm.timeout", "15s")
	viper.SetDefault("llm.min_length", 20)
	viper.SetDefault("llm.retries", 3)

	// Web search defaults
	viper.SetDefault("web_search.enabled", true)
	viper.SetDefault("web_search.max_results", 5)
	viper.SetDefault("web_search.cache_ttl", "1h")

	// Pipeline defaults
	viper.SetDefault("pipeline.hybrid_alpha", 0.7)
	viper.SetDefault("pipeline.stage_budgets_ms", map[string]int{
		"rewrite":  500,
		"search":   3000,
		"augment":  2000,
		"rerank":   1000,
		"compress": 3000,
		"answer":   15000,
	})
	viper.SetDefault("pipeline.merge_limit", 8)
	viper.SetDefault("pipeline.rerank_limit", 5)
	viper.SetDefault("pipeline.context_tokens", 2048)
	viper.SetDefault("pipeline.augment_tokens", 512)
	viper.SetDefault("pipeline.compressor_threshold", 0.35)
	viper.SetDefault("pipeline.confidence_threshold_rag", 0.7)
	viper.SetDefault("pipeline.confidence_threshold_fallback", 0.7)
	viper.SetDefault("pipeline.gate_retrieval_weight", 0.6)
	viper.SetDefault("pipeline.gate_answer_weight", 0.4)
	viper.SetDefault("pipeline.request_timeout", "30s")
	viper.SetDefault("pipeline.max_query_length", 2000)
	viper.SetDefault("pipeline.qps_ceiling_per_client", 10)
	viper.SetDefault("pipeline.rate_limit_window", "1s")
	viper.SetDefault("pipeline.response_cache_ttl", "5m")
	viper.SetDefault("pipeline.snapshot_refresh_interval", "15m")

	// Security defaults
	viper.SetDefault("security.cors.allowed_origins", []string{"*"})
	viper.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	viper.SetDefault("security.cors.allowed_headers", []string{"*"})
}
