package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/podsage/podsage/pkg/models"
)

// Strategy is the orchestration the runner drives; the leader implements it.
type Strategy interface {
	Run(ctx context.Context, query models.Query, trace *Trace) (models.Response, error)
}

// Runner owns the request scope: it applies the overall deadline, collects
// the trace, sanitizes response invariants and records metrics. Cancelling
// the caller's context cancels every in-flight worker under the strategy.
type Runner struct {
	strategy Strategy
	timeout  time.Duration
	metrics  *Metrics
	logger   *logrus.Logger
}

func NewRunner(strategy Strategy, timeout time.Duration, metrics *Metrics, logger *logrus.Logger) *Runner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Runner{strategy: strategy, timeout: timeout, metrics: metrics, logger: logger}
}

func (r *Runner) Run(ctx context.Context, query models.Query) (models.Response, *Trace, error) {
	trace := NewTrace(query.ID.String())

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	response, err := r.strategy.Run(ctx, query, trace)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			trace.Append(TraceEntry{Stage: "runner", TimedOut: true, Elapsed: trace.Elapsed()})
			r.metrics.observe(trace, "timeout")
			return models.Response{}, trace, fmt.Errorf("%w: request budget exhausted", models.ErrTimeout)
		}
		r.metrics.observe(trace, "error")
		return models.Response{}, trace, err
	}

	if ctx.Err() == context.DeadlineExceeded {
		trace.Append(TraceEntry{Stage: "runner", TimedOut: true, Elapsed: trace.Elapsed()})
	}

	response = sanitize(response, trace.ID)
	r.metrics.observe(trace, string(response.Source))

	r.logger.WithFields(logrus.Fields{
		"trace_id":   trace.ID,
		"source":     response.Source,
		"confidence": response.Confidence,
		"elapsed_ms": trace.Elapsed().Milliseconds(),
	}).Info("Query completed")

	return response, trace, nil
}

// sanitize enforces the response invariants regardless of how the strategy
// assembled it: recommendation count bounds, confidence range, trace id.
func sanitize(resp models.Response, traceID string) models.Response {
	if resp.TraceID == "" {
		resp.TraceID = traceID
	}
	if len(resp.Recommendations) > 3 {
		resp.Recommendations = resp.Recommendations[:3]
	}
	if resp.Source != models.SourceRAG && len(resp.Recommendations) == 0 {
		resp.Recommendations = []models.EpisodeRecommendation{}
	}
	if resp.Confidence < 0 {
		resp.Confidence = 0
	}
	if resp.Confidence > 1 {
		resp.Confidence = 1
	}
	return resp
}
