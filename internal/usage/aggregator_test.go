package usage

import "testing"

func TestObserveMaxMerges(t *testing.T) {
	agg := NewAggregator()

	got, changed := agg.Observe("review", 0, Tokens{InputTokens: 100, OutputTokens: 10, TotalTokens: 110})
	if !changed || got.TotalTokens != 110 {
		t.Fatalf("first observe = %+v changed=%v", got, changed)
	}

	// Cumulative re-announcement grows the record.
	got, changed = agg.Observe("review", 0, Tokens{InputTokens: 100, OutputTokens: 25, TotalTokens: 125})
	if !changed || got.OutputTokens != 25 {
		t.Errorf("cumulative observe = %+v changed=%v", got, changed)
	}

	// A stale, smaller update never shrinks the record and is not a change.
	got, changed = agg.Observe("review", 0, Tokens{InputTokens: 50, OutputTokens: 5, TotalTokens: 55})
	if changed {
		t.Error("stale update reported as change")
	}
	if got.InputTokens != 100 || got.OutputTokens != 25 || got.TotalTokens != 125 {
		t.Errorf("record shrank: %+v", got)
	}
}

func TestObserveIgnoresZeroUsage(t *testing.T) {
	agg := NewAggregator()
	if _, changed := agg.Observe("planner", 0, Tokens{}); changed {
		t.Error("all-zero usage reported as change")
	}
	if agg.CallCount() != 0 {
		t.Errorf("call count = %d after zero-only updates", agg.CallCount())
	}
}

func TestSessionTotal(t *testing.T) {
	agg := NewAggregator()
	agg.Observe("planner", 0, Tokens{InputTokens: 200, OutputTokens: 40, TotalTokens: 240})
	agg.Observe("review", 0, Tokens{InputTokens: 300, OutputTokens: 60, TotalTokens: 360})
	agg.Observe("review", 1, Tokens{InputTokens: 10, OutputTokens: 5}) // no total reported

	got := agg.SessionTotal()
	want := Tokens{InputTokens: 510, OutputTokens: 105, TotalTokens: 615}
	if got != want {
		t.Errorf("session total = %+v, want %+v", got, want)
	}
	if agg.CallCount() != 3 {
		t.Errorf("call count = %d, want 3", agg.CallCount())
	}
	if c := agg.Call("review", 1); c.InputTokens != 10 {
		t.Errorf("call record = %+v", c)
	}
}
