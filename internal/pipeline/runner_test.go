package pipeline

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podsage/podsage/pkg/models"
)

type strategyFunc func(ctx context.Context, query models.Query, trace *Trace) (models.Response, error)

func (f strategyFunc) Run(ctx context.Context, query models.Query, trace *Trace) (models.Response, error) {
	return f(ctx, query, trace)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testQuery() models.Query {
	return models.Query{ID: uuid.New(), Text: "q"}
}

func TestRunnerRun(t *testing.T) {
	metrics := NewMetrics()

	t.Run("passes through a healthy response", func(t *testing.T) {
		runner := NewRunner(strategyFunc(func(ctx context.Context, q models.Query, trace *Trace) (models.Response, error) {
			trace.Append(TraceEntry{Stage: "classify"})
			return models.Response{Answer: "a", Source: models.SourceRAG, Confidence: 0.9,
				Recommendations: []models.EpisodeRecommendation{{EpisodeID: "e1"}}}, nil
		}), time.Second, metrics, testLogger())

		resp, trace, err := runner.Run(context.Background(), testQuery())
		require.NoError(t, err)
		assert.Equal(t, "a", resp.Answer)
		assert.Equal(t, trace.ID, resp.TraceID)
		_, ok := trace.Stage("classify")
		assert.True(t, ok)
	})

	t.Run("caps recommendations at three", func(t *testing.T) {
		runner := NewRunner(strategyFunc(func(ctx context.Context, q models.Query, trace *Trace) (models.Response, error) {
			return models.Response{Source: models.SourceRAG, Confidence: 0.8,
				Recommendations: make([]models.EpisodeRecommendation, 5)}, nil
		}), time.Second, metrics, testLogger())

		resp, _, err := runner.Run(context.Background(), testQuery())
		require.NoError(t, err)
		assert.Len(t, resp.Recommendations, 3)
	})

	t.Run("clamps confidence into the unit interval", func(t *testing.T) {
		runner := NewRunner(strategyFunc(func(ctx context.Context, q models.Query, trace *Trace) (models.Response, error) {
			return models.Response{Source: models.SourceWebFallback, Confidence: 1.7}, nil
		}), time.Second, metrics, testLogger())

		resp, _, err := runner.Run(context.Background(), testQuery())
		require.NoError(t, err)
		assert.Equal(t, 1.0, resp.Confidence)
	})

	t.Run("deadline reaches the strategy", func(t *testing.T) {
		runner := NewRunner(strategyFunc(func(ctx context.Context, q models.Query, trace *Trace) (models.Response, error) {
			<-ctx.Done()
			return models.Response{}, ctx.Err()
		}), 20*time.Millisecond, metrics, testLogger())

		_, trace, err := runner.Run(context.Background(), testQuery())
		assert.ErrorIs(t, err, models.ErrTimeout)
		entry, ok := trace.Stage("runner")
		require.True(t, ok)
		assert.True(t, entry.TimedOut)
	})

	t.Run("strategy errors pass through", func(t *testing.T) {
		boom := errors.New("boom")
		runner := NewRunner(strategyFunc(func(ctx context.Context, q models.Query, trace *Trace) (models.Response, error) {
			return models.Response{}, boom
		}), time.Second, metrics, testLogger())

		_, _, err := runner.Run(context.Background(), testQuery())
		assert.ErrorIs(t, err, boom)
	})
}

func TestTrace(t *testing.T) {
	trace := NewTrace("id-1")
	trace.Append(TraceEntry{Stage: "a", Confidence: 0.1})
	trace.Append(TraceEntry{Stage: "b"})
	trace.Append(TraceEntry{Stage: "a", Confidence: 0.9})

	entries := trace.Entries()
	require.Len(t, entries, 3)

	latest, ok := trace.Stage("a")
	require.True(t, ok)
	assert.Equal(t, 0.9, latest.Confidence)

	_, ok = trace.Stage("missing")
	assert.False(t, ok)
}
