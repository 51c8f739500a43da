// Package usage accounts LLM token consumption per call and per session.
// Providers re-announce usage inconsistently during streaming (cumulative for
// some, per-chunk for others, all zeros for a few), so per-call numbers are
// max-merged and all-zero reports are treated as invalid.
package usage

import "sync"

// Tokens is one usage record. Field aliases (prompt_tokens/input_tokens,
// completion_tokens/output_tokens) are normalised at ingestion.
type Tokens struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// IsZero reports whether all counters are zero; such records are suppressed.
func (t Tokens) IsZero() bool {
	return t.InputTokens == 0 && t.OutputTokens == 0 && t.TotalTokens == 0
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// Merge max-merges another record into t.
func (t Tokens) Merge(other Tokens) Tokens {
	return Tokens{
		InputTokens:  maxI64(t.InputTokens, other.InputTokens),
		OutputTokens: maxI64(t.OutputTokens, other.OutputTokens),
		TotalTokens:  maxI64(t.TotalTokens, other.TotalTokens),
	}
}

// Aggregator keeps per-call records keyed by (stage, call index) and derives
// session totals. Safe for concurrent use.
type Aggregator struct {
	mu    sync.Mutex
	calls map[callKey]Tokens
	order []callKey
}

type callKey struct {
	Stage string
	Index int
}

func NewAggregator() *Aggregator {
	return &Aggregator{calls: make(map[callKey]Tokens)}
}

// Observe max-merges a streaming usage update into the call's record.
// All-zero updates are ignored. Returns the merged call record and whether
// the update changed it.
func (a *Aggregator) Observe(stage string, callIndex int, t Tokens) (Tokens, bool) {
	if t.IsZero() {
		a.mu.Lock()
		cur := a.calls[callKey{stage, callIndex}]
		a.mu.Unlock()
		return cur, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	k := callKey{stage, callIndex}
	if _, ok := a.calls[k]; !ok {
		a.order = append(a.order, k)
	}
	merged := a.calls[k].Merge(t)
	changed := merged != a.calls[k]
	a.calls[k] = merged
	return merged, changed
}

// Call returns the record for one call.
func (a *Aggregator) Call(stage string, callIndex int) Tokens {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[callKey{stage, callIndex}]
}

// SessionTotal sums all call records. Calls whose total_tokens was never
// reported contribute input+output instead.
func (a *Aggregator) SessionTotal() Tokens {
	a.mu.Lock()
	defer a.mu.Unlock()
	var sum Tokens
	for _, t := range a.calls {
		sum.InputTokens += t.InputTokens
		sum.OutputTokens += t.OutputTokens
		if t.TotalTokens > 0 {
			sum.TotalTokens += t.TotalTokens
		} else {
			sum.TotalTokens += t.InputTokens + t.OutputTokens
		}
	}
	return sum
}

// CallCount returns how many distinct LLM calls reported usage.
func (a *Aggregator) CallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}
