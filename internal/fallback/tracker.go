// Package fallback counts degraded code paths so a session never hides the
// corners it had to cut: binary-file skips, lossy decodes, failed git
// commands, missing ripgrep, mock LLM substitution, planner retries.
package fallback

import (
	"log/slog"
	"sort"
	"sync"

	"code-review-pipeline/internal/metrics"
)

// Entry is the accumulated state for one fallback key.
type Entry struct {
	Key         string         `json:"key"`
	Count       int            `json:"count"`
	LastMessage string         `json:"last_message"`
	LastMeta    map[string]any `json:"last_meta,omitempty"`
}

// Tracker is a process-wide thread-safe counter of degraded paths.
// Counters are reset at session start and summarised at session end.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*Entry
}

func NewTracker() *Tracker {
	return &Tracker{records: make(map[string]*Entry)}
}

// Record notes one occurrence of a degraded path.
func (t *Tracker) Record(key, message string, meta map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[key]
	if !ok {
		r = &Entry{Key: key}
		t.records[key] = r
	}
	r.Count++
	r.LastMessage = message
	r.LastMeta = meta
	metrics.FallbacksTotal.WithLabelValues(key).Inc()
	slog.Debug("fallback recorded", "key", key, "message", message, "count", r.Count)
}

// Reset clears all counters. Called at session start.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[string]*Entry)
}

// Summary returns the entries sorted by key, and the total occurrence count.
func (t *Tracker) Summary() ([]Entry, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.records))
	total := 0
	for _, r := range t.records {
		out = append(out, *r)
		total += r.Count
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, total
}

var defaultTracker = NewTracker()

// Default returns the process-wide tracker.
func Default() *Tracker { return defaultTracker }

// Record notes a degraded path on the process-wide tracker.
func Record(key, message string, meta map[string]any) {
	defaultTracker.Record(key, message, meta)
}

// Reset clears the process-wide tracker.
func Reset() {
	defaultTracker.Reset()
}
