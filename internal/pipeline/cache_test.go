package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podsage/podsage/pkg/models"
)

type countingRunner struct {
	calls int
	resp  models.Response
	err   error
}

func (r *countingRunner) Run(ctx context.Context, query models.Query) (models.Response, *Trace, error) {
	r.calls++
	trace := NewTrace(query.ID.String())
	resp := r.resp
	resp.TraceID = trace.ID
	return resp, trace, r.err
}

func cacheFixture(t *testing.T, inner *countingRunner) *CachedRunner {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCachedRunner(inner, rdb, time.Minute, testLogger())
}

func TestCachedRunner(t *testing.T) {
	t.Run("replays identical queries without re-running the pipeline", func(t *testing.T) {
		inner := &countingRunner{resp: models.Response{
			Answer: "cached answer", Source: models.SourceRAG, Confidence: 0.85,
			Recommendations: []models.EpisodeRecommendation{{EpisodeID: "e1"}},
		}}
		cached := cacheFixture(t, inner)

		first := models.Query{ID: uuid.New(), Text: "how to invest", UserID: "u1", Lang: "en"}
		resp, _, err := cached.Run(context.Background(), first)
		require.NoError(t, err)
		assert.Equal(t, "cached answer", resp.Answer)
		assert.Equal(t, 1, inner.calls)

		second := models.Query{ID: uuid.New(), Text: "how to invest", UserID: "u1", Lang: "en"}
		resp, trace, err := cached.Run(context.Background(), second)
		require.NoError(t, err)
		assert.Equal(t, 1, inner.calls)
		assert.Equal(t, "cached answer", resp.Answer)
		assert.Equal(t, second.ID.String(), resp.TraceID)

		entry, ok := trace.Stage("cache")
		require.True(t, ok)
		assert.Equal(t, 0.85, entry.Confidence)
	})

	t.Run("different user misses the cache", func(t *testing.T) {
		inner := &countingRunner{resp: models.Response{Answer: "a", Source: models.SourceRAG, Confidence: 0.8}}
		cached := cacheFixture(t, inner)

		_, _, err := cached.Run(context.Background(), models.Query{ID: uuid.New(), Text: "q", UserID: "u1"})
		require.NoError(t, err)
		_, _, err = cached.Run(context.Background(), models.Query{ID: uuid.New(), Text: "q", UserID: "u2"})
		require.NoError(t, err)
		assert.Equal(t, 2, inner.calls)
	})

	t.Run("default answers are not cached", func(t *testing.T) {
		inner := &countingRunner{resp: models.Response{
			Answer: models.DefaultAnswer, Source: models.SourceDefault, Confidence: 0,
		}}
		cached := cacheFixture(t, inner)

		query := models.Query{ID: uuid.New(), Text: "q", UserID: "u1"}
		_, _, err := cached.Run(context.Background(), query)
		require.NoError(t, err)
		_, _, err = cached.Run(context.Background(), models.Query{ID: uuid.New(), Text: "q", UserID: "u1"})
		require.NoError(t, err)
		assert.Equal(t, 2, inner.calls)
	})

	t.Run("pipeline errors pass through uncached", func(t *testing.T) {
		boom := errors.New("boom")
		inner := &countingRunner{err: boom}
		cached := cacheFixture(t, inner)

		_, _, err := cached.Run(context.Background(), models.Query{ID: uuid.New(), Text: "q"})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("redis outage falls through to the pipeline", func(t *testing.T) {
		inner := &countingRunner{resp: models.Response{Answer: "a", Source: models.SourceRAG, Confidence: 0.8}}
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		cached := NewCachedRunner(inner, rdb, time.Minute, testLogger())
		mr.Close()

		resp, _, err := cached.Run(context.Background(), models.Query{ID: uuid.New(), Text: "q"})
		require.NoError(t, err)
		assert.Equal(t, "a", resp.Answer)
		assert.Equal(t, 1, inner.calls)
	})
}
