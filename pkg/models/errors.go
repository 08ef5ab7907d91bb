package models

import "errors"

// Error kinds recovered at the leader boundary. Only ErrConfig is fatal.
var (
	// ErrInput marks a malformed request. Surfaced as HTTP 400.
	ErrInput = errors.New("invalid input")

	// ErrResourceExhausted marks pool saturation or a QPS ceiling hit. HTTP 429.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrTimeout marks a per-stage or overall budget expiry. Degrades to
	// fallback then default; HTTP 408 only when nothing at all is available.
	ErrTimeout = errors.New("timeout")

	// ErrBackendUnavailable marks an exhausted LLM, embedding, vector, or
	// recommender backend. The request falls back; the health check flips
	// to degraded.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrConfig marks a startup configuration failure. The process exits
	// non-zero.
	ErrConfig = errors.New("invalid configuration")

	// ErrInvariant marks a programming error such as a duplicate episode in
	// the final list. Logged with full trace; the response is sanitized.
	ErrInvariant = errors.New("invariant violation")
)
