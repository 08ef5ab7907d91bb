package llm

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/podsage/podsage/internal/config"
	"github.com/podsage/podsage/pkg/models"
)

// backend is one OpenAI-compatible endpoint with its own admission semaphore.
// A slow backend saturates its own slots without starving the others.
type backend struct {
	name        string
	model       string
	priority    int
	maxTokens   int
	temperature float64
	slots       *semaphore.Weighted
	client      openai.Client
}

// Pool tries backends in ascending priority order. A backend at capacity or
// returning an error is skipped for this request, not removed from the pool.
type Pool struct {
	backends  []*backend
	timeout   time.Duration
	minLength int
	retries   int
	logger    *logrus.Logger
}

func NewPool(cfg config.LLMConfig, apiKey string, logger *logrus.Logger) (*Pool, error) {
	if len(cfg.Backends) == 0 {
		return nil, fmt.Errorf("%w: no LLM backends configured", models.ErrConfig)
	}

	backends := make([]*backend, 0, len(cfg.Backends))
	for _, bc := range cfg.Backends {
		// The pool owns retry and failover; the SDK must not retry underneath it.
		opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
		if bc.Endpoint != "" {
			opts = append(opts, option.WithBaseURL(bc.Endpoint))
		}

		inFlight := bc.MaxInFlight
		if inFlight <= 0 {
			inFlight = 4
		}

		backends = append(backends, &backend{
			name:        bc.Name,
			model:       bc.ModelID,
			priority:    bc.Priority,
			maxTokens:   bc.MaxTokens,
			temperature: bc.Temperature,
			slots:       semaphore.NewWeighted(int64(inFlight)),
			client:      openai.NewClient(opts...),
		})
	}
	sort.SliceStable(backends, func(a, b int) bool {
		return backends[a].priority < backends[b].priority
	})

	return &Pool{
		backends:  backends,
		timeout:   cfg.Timeout,
		minLength: cfg.MinLength,
		retries:   cfg.Retries,
		logger:    logger,
	}, nil
}

func (p *Pool) Complete(ctx context.Context, req Request) (Result, error) {
	var lastErr error

	attempts := p.retries + 1
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(backoff(attempt)):
			}
		}

		for _, b := range p.backends {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}

			if !b.slots.TryAcquire(1) {
				continue
			}
			text, err := p.completeOn(ctx, b, req)
			b.slots.Release(1)

			if err != nil {
				lastErr = err
				p.logger.WithError(err).WithField("backend", b.name).Warn("LLM backend failed")
				continue
			}

			// A degenerate response must not mask a healthy backend
			// further down the order.
			if reason := rejectReason(text, p.minLength); reason != "" {
				lastErr = fmt.Errorf("backend %s response rejected: %s", b.name, reason)
				p.logger.WithFields(logrus.Fields{
					"backend": b.name,
					"reason":  reason,
				}).Warn("LLM response failed sanity check")
				continue
			}

			return Result{
				Text:       text,
				Confidence: scoreConfidence(text, p.minLength),
				Backend:    b.name,
			}, nil
		}
	}

	if lastErr != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrLLMUnavailable, lastErr)
	}
	return Result{}, ErrLLMUnavailable
}

func (p *Pool) completeOn(ctx context.Context, b *backend, req Request) (string, error) {
	callCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.User))

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(b.model),
		Messages: messages,
	}
	if b.temperature > 0 {
		params.Temperature = openai.Float(b.temperature)
	}
	maxTokens := b.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}

	completion, err := b.client.Chat.Completions.New(callCtx, params)
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("backend %s returned no choices", b.name)
	}
	return completion.Choices[0].Message.Content, nil
}

func backoff(attempt int) time.Duration {
	base := 100 * time.Millisecond << (attempt - 1)
	return base + time.Duration(rand.Int63n(int64(base)/2))
}
