// Package pipeline owns per-request execution: the append-only trace, stage
// budgets, and the runner that drives a leader strategy under the request
// deadline.
package pipeline

import (
	"sync"
	"time"
)

// TraceEntry records one stage execution. Score deltas are keyed by chunk_id
// and hold the change in hybrid score the stage applied.
type TraceEntry struct {
	Stage       string             `json:"stage"`
	Elapsed     time.Duration      `json:"elapsed"`
	InputSize   int                `json:"input_size"`
	OutputSize  int                `json:"output_size"`
	Confidence  float64            `json:"confidence,omitempty"`
	TimedOut    bool               `json:"timed_out,omitempty"`
	Fallback    string             `json:"fallback_reason,omitempty"`
	Dropped     []string           `json:"dropped,omitempty"`
	ScoreDeltas map[string]float64 `json:"score_deltas,omitempty"`
}

// Trace is the append-only per-query record. Experts append concurrently, so
// appends are serialized; entries are never mutated after the fact.
type Trace struct {
	ID string

	mu      sync.Mutex
	entries []TraceEntry
	started time.Time
}

func NewTrace(id string) *Trace {
	return &Trace{ID: id, started: time.Now()}
}

func (t *Trace) Append(entry TraceEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, entry)
}

// Entries returns a copy; the trace keeps growing underneath.
func (t *Trace) Entries() []TraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Stage reports the most recent entry for the named stage.
func (t *Trace) Stage(name string) (TraceEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].Stage == name {
			return t.entries[i], true
		}
	}
	return TraceEntry{}, false
}

func (t *Trace) Elapsed() time.Duration {
	return time.Since(t.started)
}
