// Package llm routes chat completions across a priority-ordered pool of
// OpenAI-compatible backends with per-backend admission control.
package llm

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrLLMUnavailable means every backend in the pool either rejected the
// request or was at capacity. Callers fall back; they do not retry.
var ErrLLMUnavailable = errors.New("no LLM backend available")

// Request is a single chat completion call.
type Request struct {
	System string
	User   string

	// MaxTokens overrides the backend default when positive.
	MaxTokens int
}

// Result carries the generated text plus a heuristic confidence in [0,1].
type Result struct {
	Text       string
	Confidence float64
	Backend    string
}

// Client is the generation contract the workers depend on.
type Client interface {
	Complete(ctx context.Context, req Request) (Result, error)
}

// refusalMarkers are phrases that indicate the model declined rather than
// answered. Matched case-insensitively against the head of the output.
var refusalMarkers = []string{
	"i can't",
	"i cannot",
	"i'm sorry",
	"i am sorry",
	"i'm unable",
	"i am unable",
	"as an ai",
	"無法回答",
	"抱歉",
}

// isRefusal reports whether the head of the output opens with a refusal.
func isRefusal(trimmed string) bool {
	head := strings.ToLower(trimmed)
	if len(head) > 64 {
		head = head[:64]
	}
	for _, marker := range refusalMarkers {
		if strings.Contains(head, marker) {
			return true
		}
	}
	return false
}

// rejectReason names why a response fails the sanity checks, or returns ""
// when it passes. A rejected response counts as a backend failure so the
// pool keeps sweeping lower-priority backends.
func rejectReason(text string, minLength int) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "empty response"
	}
	if isRefusal(trimmed) {
		return "refusal"
	}
	if minLength <= 0 {
		minLength = 20
	}
	if utf8.RuneCountInString(trimmed) < minLength {
		return "below length floor"
	}
	return ""
}

// scoreConfidence grades generated text without a second model call. Output
// below the length floor or opening with a refusal scores low; everything
// else scales with length up to a saturation point.
func scoreConfidence(text string, minLength int) float64 {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}

	n := utf8.RuneCountInString(trimmed)
	if isRefusal(trimmed) {
		return 0.1
	}

	if minLength <= 0 {
		minLength = 20
	}
	if n < minLength {
		return 0.3
	}

	// Saturates at 4x the floor.
	score := 0.5 + 0.5*float64(n-minLength)/float64(3*minLength)
	if score > 1 {
		score = 1
	}
	return score
}
