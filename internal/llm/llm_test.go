package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podsage/podsage/internal/config"
	"github.com/podsage/podsage/pkg/models"
)

func TestScoreConfidence(t *testing.T) {
	tests := []struct {
		name string
		text string
		want func(t *testing.T, got float64)
	}{
		{
			name: "empty scores zero",
			text: "   ",
			want: func(t *testing.T, got float64) { assert.Zero(t, got) },
		},
		{
			name: "refusal scores low",
			text: "I'm sorry, but I can't help with that question.",
			want: func(t *testing.T, got float64) { assert.InDelta(t, 0.1, got, 1e-9) },
		},
		{
			name: "cjk refusal scores low",
			text: "抱歉，我沒有相關資訊。",
			want: func(t *testing.T, got float64) { assert.InDelta(t, 0.1, got, 1e-9) },
		},
		{
			name: "short answer scores below threshold",
			text: "Index funds.",
			want: func(t *testing.T, got float64) { assert.InDelta(t, 0.3, got, 1e-9) },
		},
		{
			name: "substantive answer scores high",
			text: strings.Repeat("Start with low-cost index funds and contribute monthly. ", 4),
			want: func(t *testing.T, got float64) {
				assert.GreaterOrEqual(t, got, 0.5)
				assert.LessOrEqual(t, got, 1.0)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.want(t, scoreConfidence(tt.text, 20))
		})
	}
}

func TestRejectReason(t *testing.T) {
	assert.Equal(t, "empty response", rejectReason("   ", 20))
	assert.Equal(t, "refusal", rejectReason("I cannot answer that question for you.", 20))
	assert.Equal(t, "below length floor", rejectReason("ok", 20))
	assert.Empty(t, rejectReason(strings.Repeat("solid answer ", 5), 20))
}

func TestMock(t *testing.T) {
	ctx := context.Background()

	t.Run("keyed reply", func(t *testing.T) {
		mock := NewMock().Respond("investing", "Dollar cost averaging into broad index funds is a sensible default.")
		got, err := mock.Complete(ctx, Request{User: "how should I start investing?"})
		require.NoError(t, err)
		assert.Contains(t, got.Text, "index funds")
		assert.Equal(t, "mock", got.Backend)
		assert.Greater(t, got.Confidence, 0.0)
	})

	t.Run("error injection", func(t *testing.T) {
		mock := NewMock()
		mock.Err = ErrLLMUnavailable
		_, err := mock.Complete(ctx, Request{User: "anything"})
		assert.ErrorIs(t, err, ErrLLMUnavailable)
	})

	t.Run("records calls", func(t *testing.T) {
		mock := NewMock()
		_, err := mock.Complete(ctx, Request{System: "sys", User: "first"})
		require.NoError(t, err)
		_, err = mock.Complete(ctx, Request{User: "second"})
		require.NoError(t, err)
		calls := mock.Calls()
		require.Len(t, calls, 2)
		assert.Equal(t, "first", calls[0].User)
	})

	t.Run("cancelled context wins over canned reply", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := NewMock().Complete(cancelled, Request{User: "x"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// chatStub serves the OpenAI chat completions shape.
func chatStub(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			http.Error(w, "backend down", status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"model":   "stub",
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": content}}},
		})
	}))
}

func TestPoolComplete(t *testing.T) {
	answer := "Episode 12 covers index funds in depth, including expense ratios and rebalancing."

	t.Run("no backends rejected at construction", func(t *testing.T) {
		_, err := NewPool(config.LLMConfig{}, "key", testLogger())
		assert.ErrorIs(t, err, models.ErrConfig)
	})

	t.Run("uses highest priority backend first", func(t *testing.T) {
		primary := chatStub(t, http.StatusOK, answer)
		defer primary.Close()
		secondary := chatStub(t, http.StatusOK, "secondary answer text that is long enough to score")
		defer secondary.Close()

		pool, err := NewPool(config.LLMConfig{
			Backends: []config.LLMBackendConfig{
				{Name: "secondary", Endpoint: secondary.URL, ModelID: "stub", Priority: 2, MaxInFlight: 1},
				{Name: "primary", Endpoint: primary.URL, ModelID: "stub", Priority: 1, MaxInFlight: 1},
			},
			Timeout:   5 * time.Second,
			MinLength: 20,
		}, "key", testLogger())
		require.NoError(t, err)

		got, err := pool.Complete(context.Background(), Request{User: "tell me about index funds"})
		require.NoError(t, err)
		assert.Equal(t, "primary", got.Backend)
		assert.Equal(t, answer, got.Text)
		assert.Greater(t, got.Confidence, 0.5)
	})

	t.Run("falls through to next backend on failure", func(t *testing.T) {
		broken := chatStub(t, http.StatusInternalServerError, "")
		defer broken.Close()
		healthy := chatStub(t, http.StatusOK, answer)
		defer healthy.Close()

		pool, err := NewPool(config.LLMConfig{
			Backends: []config.LLMBackendConfig{
				{Name: "broken", Endpoint: broken.URL, ModelID: "stub", Priority: 1, MaxInFlight: 1},
				{Name: "healthy", Endpoint: healthy.URL, ModelID: "stub", Priority: 2, MaxInFlight: 1},
			},
			Timeout:   5 * time.Second,
			MinLength: 20,
		}, "key", testLogger())
		require.NoError(t, err)

		got, err := pool.Complete(context.Background(), Request{User: "q"})
		require.NoError(t, err)
		assert.Equal(t, "healthy", got.Backend)
	})

	t.Run("short response fails over to the next backend", func(t *testing.T) {
		terse := chatStub(t, http.StatusOK, "ok")
		defer terse.Close()
		healthy := chatStub(t, http.StatusOK, answer)
		defer healthy.Close()

		pool, err := NewPool(config.LLMConfig{
			Backends: []config.LLMBackendConfig{
				{Name: "terse", Endpoint: terse.URL, ModelID: "stub", Priority: 1, MaxInFlight: 1},
				{Name: "healthy", Endpoint: healthy.URL, ModelID: "stub", Priority: 2, MaxInFlight: 1},
			},
			Timeout:   5 * time.Second,
			MinLength: 20,
		}, "key", testLogger())
		require.NoError(t, err)

		got, err := pool.Complete(context.Background(), Request{User: "tell me about index funds"})
		require.NoError(t, err)
		assert.Equal(t, "healthy", got.Backend)
		assert.Equal(t, answer, got.Text)
	})

	t.Run("refusal fails over to the next backend", func(t *testing.T) {
		refusing := chatStub(t, http.StatusOK, "I'm sorry, but I can't help with that question at all.")
		defer refusing.Close()
		healthy := chatStub(t, http.StatusOK, answer)
		defer healthy.Close()

		pool, err := NewPool(config.LLMConfig{
			Backends: []config.LLMBackendConfig{
				{Name: "refusing", Endpoint: refusing.URL, ModelID: "stub", Priority: 1, MaxInFlight: 1},
				{Name: "healthy", Endpoint: healthy.URL, ModelID: "stub", Priority: 2, MaxInFlight: 1},
			},
			Timeout:   5 * time.Second,
			MinLength: 20,
		}, "key", testLogger())
		require.NoError(t, err)

		got, err := pool.Complete(context.Background(), Request{User: "q"})
		require.NoError(t, err)
		assert.Equal(t, "healthy", got.Backend)
	})

	t.Run("only degenerate responses yields unavailable", func(t *testing.T) {
		terse := chatStub(t, http.StatusOK, "ok")
		defer terse.Close()

		pool, err := NewPool(config.LLMConfig{
			Backends: []config.LLMBackendConfig{
				{Name: "terse", Endpoint: terse.URL, ModelID: "stub", Priority: 1, MaxInFlight: 1},
			},
			Timeout:   5 * time.Second,
			MinLength: 20,
		}, "key", testLogger())
		require.NoError(t, err)

		_, err = pool.Complete(context.Background(), Request{User: "q"})
		assert.ErrorIs(t, err, ErrLLMUnavailable)
	})

	t.Run("retry sweeps are spaced by backoff", func(t *testing.T) {
		broken := chatStub(t, http.StatusInternalServerError, "")
		defer broken.Close()

		pool, err := NewPool(config.LLMConfig{
			Backends: []config.LLMBackendConfig{
				{Name: "broken", Endpoint: broken.URL, ModelID: "stub", Priority: 1, MaxInFlight: 1},
			},
			Timeout:   5 * time.Second,
			MinLength: 20,
			Retries:   1,
		}, "key", testLogger())
		require.NoError(t, err)

		start := time.Now()
		_, err = pool.Complete(context.Background(), Request{User: "q"})
		assert.ErrorIs(t, err, ErrLLMUnavailable)
		assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("cancellation interrupts the backoff wait", func(t *testing.T) {
		broken := chatStub(t, http.StatusInternalServerError, "")
		defer broken.Close()

		pool, err := NewPool(config.LLMConfig{
			Backends: []config.LLMBackendConfig{
				{Name: "broken", Endpoint: broken.URL, ModelID: "stub", Priority: 1, MaxInFlight: 1},
			},
			Timeout:   5 * time.Second,
			MinLength: 20,
			Retries:   10,
		}, "key", testLogger())
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err = pool.Complete(ctx, Request{User: "q"})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("all backends failing yields unavailable", func(t *testing.T) {
		broken := chatStub(t, http.StatusInternalServerError, "")
		defer broken.Close()

		pool, err := NewPool(config.LLMConfig{
			Backends: []config.LLMBackendConfig{
				{Name: "broken", Endpoint: broken.URL, ModelID: "stub", Priority: 1, MaxInFlight: 1},
			},
			Timeout:   5 * time.Second,
			MinLength: 20,
			Retries:   1,
		}, "key", testLogger())
		require.NoError(t, err)

		_, err = pool.Complete(context.Background(), Request{User: "q"})
		assert.ErrorIs(t, err, ErrLLMUnavailable)
	})
}
