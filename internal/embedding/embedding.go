// Package embedding produces fixed-dimension dense vectors for query and
// chunk text. Vectors are L2-normalized so downstream cosine scores stay in
// a stable range.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"gonum.org/v1/gonum/floats"

	"github.com/podsage/podsage/internal/config"
	"github.com/podsage/podsage/pkg/models"
)

var (
	ErrEmptyInput  = errors.New("no text provided for embedding")
	ErrUnavailable = errors.New("embedding backend unavailable")
)

// Client is the narrow contract the pipeline depends on. Implementations must
// return the same vector for the same input.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// OpenAIClient embeds text through the OpenAI embeddings API with bounded
// concurrency and retry-with-backoff at this boundary only; callers above
// never retry, they fall back.
type OpenAIClient struct {
	client     openai.Client
	model      string
	dimension  int
	maxRetries int
	timeout    time.Duration
	pool       *semaphore.Weighted
	poolWait   time.Duration
	logger     *logrus.Logger
}

func NewOpenAIClient(cfg config.EmbeddingConfig, apiKey string, logger *logrus.Logger) (*OpenAIClient, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive", models.ErrConfig)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: missing embedding API key", models.ErrConfig)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 16
	}

	return &OpenAIClient{
		client:     openai.NewClient(option.WithAPIKey(apiKey)),
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		maxRetries: cfg.MaxRetries,
		timeout:    cfg.Timeout,
		pool:       semaphore.NewWeighted(int64(poolSize)),
		poolWait:   cfg.PoolWait,
		logger:     logger,
	}, nil
}

func (c *OpenAIClient) Dimension() int { return c.dimension }

func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	acquireCtx, cancel := context.WithTimeout(ctx, c.poolWait)
	defer cancel()
	if err := c.pool.Acquire(acquireCtx, 1); err != nil {
		return nil, fmt.Errorf("%w: embedding pool saturated", models.ErrResourceExhausted)
	}
	defer c.pool.Release(1)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff(attempt)):
			}
		}

		vectors, err := c.embedOnce(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err

		c.logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"texts":   len(texts),
		}).Warn("Embedding request failed")

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *OpenAIClient) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Embeddings.New(callCtx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model:          c.model,
		Dimensions:     openai.Int(int64(c.dimension)),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if len(data.Embedding) != c.dimension {
			return nil, fmt.Errorf("backend returned dimension %d, configured %d",
				len(data.Embedding), c.dimension)
		}
		vectors[int(data.Index)] = Normalize(data.Embedding)
	}

	return vectors, nil
}

// Normalize L2-normalizes a vector and converts it to float32. Zero vectors
// pass through unchanged.
func Normalize(v []float64) []float32 {
	norm := floats.Norm(v, 2)
	out := make([]float32, len(v))
	if norm == 0 {
		for i, x := range v {
			out[i] = float32(x)
		}
		return out
	}
	scaled := make([]float64, len(v))
	copy(scaled, v)
	floats.Scale(1/norm, scaled)
	for i, x := range scaled {
		out[i] = float32(x)
	}
	return out
}

func backoff(attempt int) time.Duration {
	base := 100 * time.Millisecond << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(base) / 2))
	return base + jitter
}
