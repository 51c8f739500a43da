// Package events is the in-process observable the pipeline streams progress
// through. Every event is a flat map with a "type" discriminator so the
// consumer side (SSE, GUI) can forward it without re-marshalling.
package events

import "log/slog"

// Event is one pipeline event. Marshals directly to the wire schema.
type Event map[string]any

// Type returns the event discriminator.
func (e Event) Type() string {
	t, _ := e["type"].(string)
	return t
}

// Observer consumes events. It runs synchronously on the pipeline's goroutine;
// a slow observer slows the pipeline, a panicking one is swallowed.
type Observer func(Event)

// Bus fans events out to a single observer. The kernel never blocks on
// delivery beyond the observer's own synchronous cost, and observer panics
// are recovered and logged rather than propagated.
type Bus struct {
	observer Observer
}

// NewBus wraps an observer; a nil observer yields a bus that drops everything.
func NewBus(observer Observer) *Bus {
	return &Bus{observer: observer}
}

// Emit delivers one event.
func (b *Bus) Emit(e Event) {
	if b == nil || b.observer == nil || e == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event observer panicked", "event_type", e.Type(), "panic", r)
		}
	}()
	b.observer(e)
}

// Event type discriminators.
const (
	TypeStageStart        = "pipeline_stage_start"
	TypeStageEnd          = "pipeline_stage_end"
	TypeDiffUnitsSnapshot = "diff_units_snapshot"
	TypeBundleItem        = "bundle_item"
	TypeIntentDelta       = "intent_delta"
	TypePlannerDelta      = "planner_delta"
	TypeDelta             = "delta"
	TypeToolResult        = "tool_result"
	TypeUsageSummary      = "usage_summary"
	TypeSessionTitle      = "session_title"
	TypeWarning           = "warning"
	TypeError             = "error"
	TypeScannerProgress   = "scanner_progress"
	TypeFallbackSummary   = "fallback_summary"
)

// Pipeline stage names, in execution order.
const (
	StageDiff    = "diff"
	StageRules   = "rules"
	StageIntent  = "intent"
	StagePlanner = "planner"
	StageFusion  = "fusion"
	StageContext = "context"
	StageReview  = "review"
)

func StageStart(stage string) Event {
	return Event{"type": TypeStageStart, "stage": stage}
}

func StageEnd(stage string, summary map[string]any) Event {
	e := Event{"type": TypeStageEnd, "stage": stage}
	if summary != nil {
		e["summary"] = summary
	}
	return e
}

func BundleItem(unitID string, level, location string) Event {
	return Event{
		"type":                TypeBundleItem,
		"unit_id":             unitID,
		"final_context_level": level,
		"location":            location,
	}
}

// Delta builds a streaming increment event of the given type (intent_delta,
// planner_delta, or delta).
func Delta(eventType, contentDelta, reasoningDelta string, callIndex int) Event {
	e := Event{"type": eventType}
	if contentDelta != "" {
		e["content_delta"] = contentDelta
	}
	if reasoningDelta != "" {
		e["reasoning_delta"] = reasoningDelta
	}
	if callIndex >= 0 {
		e["call_index"] = callIndex
	}
	return e
}

func ToolResult(callIndex int, toolName string, arguments any, content string, errMsg string) Event {
	e := Event{
		"type":       TypeToolResult,
		"call_index": callIndex,
		"tool_name":  toolName,
		"arguments":  arguments,
		"content":    content,
	}
	if errMsg != "" {
		e["error"] = errMsg
	}
	return e
}

func UsageSummary(stage string, callIndex int, usage, callUsage, sessionUsage any) Event {
	e := Event{
		"type":          TypeUsageSummary,
		"usage_stage":   stage,
		"usage":         usage,
		"call_usage":    callUsage,
		"session_usage": sessionUsage,
	}
	if callIndex >= 0 {
		e["call_index"] = callIndex
	}
	return e
}

func SessionTitle(title, traceID string) Event {
	return Event{"type": TypeSessionTitle, "title": title, "trace_id": traceID}
}

func Warning(stage, message string) Event {
	e := Event{"type": TypeWarning, "message": message}
	if stage != "" {
		e["stage"] = stage
	}
	return e
}

func Error(stage, message string) Event {
	e := Event{"type": TypeError, "message": message}
	if stage != "" {
		e["stage"] = stage
	}
	return e
}

func Cancelled(stage, message string) Event {
	e := Error(stage, message)
	e["cancelled"] = true
	return e
}

// FallbackSummary reports the degraded paths a session hit, emitted once at
// session end. records is the fallback tracker's sorted record list.
func FallbackSummary(records any, total int) Event {
	return Event{"type": TypeFallbackSummary, "records": records, "total": total}
}

func ScannerProgress(status, scanner, file string, durationMs int64, issueCount int) Event {
	e := Event{"type": TypeScannerProgress, "status": status, "scanner": scanner}
	if file != "" {
		e["file"] = file
	}
	if durationMs > 0 {
		e["duration_ms"] = durationMs
	}
	if status == "complete" {
		e["issue_count"] = issueCount
	}
	return e
}
