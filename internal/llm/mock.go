package llm

import (
	"context"
	"strings"
	"sync"
)

// Mock is a deterministic Client for tests. With no configuration it echoes a
// short canned completion; Respond installs keyed replies and Err forces the
// unavailable path.
type Mock struct {
	mu      sync.Mutex
	replies map[string]string
	calls   []Request

	// Err, if set, is returned by every call.
	Err error

	// Confidence overrides the heuristic score when positive.
	Confidence float64
}

func NewMock() *Mock {
	return &Mock{replies: make(map[string]string)}
}

// Respond returns reply whenever the user prompt contains substring.
func (m *Mock) Respond(substring, reply string) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[substring] = reply
	return m
}

// Calls returns every request seen so far, in order.
func (m *Mock) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *Mock) Complete(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if m.Err != nil {
		return Result{}, m.Err
	}

	m.mu.Lock()
	m.calls = append(m.calls, req)
	text := ""
	for substring, reply := range m.replies {
		if strings.Contains(req.User, substring) {
			text = reply
			break
		}
	}
	m.mu.Unlock()

	if text == "" {
		text = "Based on the retrieved podcast segments, here is a short grounded answer."
	}

	confidence := m.Confidence
	if confidence <= 0 {
		confidence = scoreConfidence(text, 20)
	}
	return Result{Text: text, Confidence: confidence, Backend: "mock"}, nil
}
