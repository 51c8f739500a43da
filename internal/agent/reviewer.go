// Package agent runs the review loop: streamed LLM calls, tool-call
// arbitration, and the final report. Tools the model asks for are either
// auto-approved, granted by the caller's approver, or answered with a
// synthetic denial so the model always sees a result for every call.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"code-review-pipeline/internal/domain"
	"code-review-pipeline/internal/events"
	"code-review-pipeline/internal/llm"
	"code-review-pipeline/internal/metrics"
	"code-review-pipeline/internal/streamproc"
	"code-review-pipeline/internal/toolrt"
	"code-review-pipeline/internal/usage"
)

// DeniedMessage is the synthetic tool result injected for calls nobody
// approved. The model sees the refusal instead of a silent drop.
const DeniedMessage = "denied: no approver / auto_approve"

// ToolRequest is one pending tool call presented to the approver.
type ToolRequest struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Approver decides which pending tool calls may run, returning the approved
// call IDs. A nil approver denies everything not auto-approved.
type Approver func(ctx context.Context, pending []ToolRequest) []string

// Reviewer owns the conversation state of one review session.
type Reviewer struct {
	Client   llm.Client
	Registry *toolrt.Registry
	Bus      *events.Bus
	Agg      *usage.Aggregator

	CallTimeout time.Duration // per LLM call (default: 120s)
	MaxRounds   int           // loop cap (default: 20)

	ToolNames      []string // filter on the registry; empty = all tools
	AutoApprove    []string // tool names that never need the approver
	AutoApproveAll bool
	Approver       Approver
}

// NewReviewer builds a reviewer with defaulted guards.
func NewReviewer(client llm.Client, registry *toolrt.Registry, bus *events.Bus, agg *usage.Aggregator) *Reviewer {
	return &Reviewer{
		Client:      client,
		Registry:    registry,
		Bus:         bus,
		Agg:         agg,
		CallTimeout: 120 * time.Second,
		MaxRounds:   20,
	}
}

// Run drives the loop to the final report. History carries prior turns from
// the caller; systemPrompt and userMessage open the conversation.
func (r *Reviewer) Run(ctx context.Context, systemPrompt, userMessage string, history []domain.Message) (string, error) {
	msgs := []llm.ChatMessage{llm.System(systemPrompt)}
	for _, m := range history {
		switch m.Role {
		case llm.RoleUser:
			msgs = append(msgs, llm.User(m.Content))
		case llm.RoleAssistant:
			msgs = append(msgs, llm.Assistant(m.Content))
		}
	}
	msgs = append(msgs, llm.User(userMessage))

	tools := r.Registry.Defs(r.ToolNames)

	for round := 1; round <= r.MaxRounds; round++ {
		msg, err := r.callOnce(ctx, msgs, tools, round)
		if err != nil {
			metrics.LLMCalls.WithLabelValues(events.StageReview, "error").Inc()
			return "", err
		}
		metrics.LLMCalls.WithLabelValues(events.StageReview, "success").Inc()
		r.observeUsage(msg.Usage, round)

		if len(msg.ToolCalls) == 0 {
			msgs = append(msgs, llm.Assistant(msg.Content))
			if msg.FinishReason == "stop" || msg.FinishReason == "" {
				return msg.Content, nil
			}
			slog.Debug("review call ended without stop", "round", round, "finish_reason", msg.FinishReason)
			continue
		}

		msgs = append(msgs, assistantWithCalls(msg))
		results := r.dispatchTools(ctx, msg.ToolCalls)
		for i, res := range results {
			r.Bus.Emit(events.ToolResult(i, res.Name, msg.ToolCalls[i].Arguments, res.Content, res.Error))
			msgs = append(msgs, llm.ToolResult(res.CallID, resultContent(res)))
		}
	}
	return "", fmt.Errorf("review loop exceeded %d rounds without a final answer", r.MaxRounds)
}

// callOnce streams one LLM call under the hard per-call timeout.
func (r *Reviewer) callOnce(ctx context.Context, msgs []llm.ChatMessage, tools []llm.ToolDef, round int) (streamproc.NormalizedMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.CallTimeout)
	defer cancel()

	stream, err := r.Client.StreamChat(callCtx, llm.Request{Messages: msgs, Tools: tools})
	if err != nil {
		return streamproc.NormalizedMessage{}, fmt.Errorf("review call %d: %w", round, err)
	}
	defer stream.Close()

	proc := streamproc.New(func(content, reasoning string) {
		r.Bus.Emit(events.Delta(events.TypeDelta, content, reasoning, round))
	})
	for {
		ch, recvErr := stream.Recv()
		if recvErr != nil {
			if errors.Is(recvErr, io.EOF) {
				break
			}
			if callCtx.Err() == context.DeadlineExceeded {
				return streamproc.NormalizedMessage{}, fmt.Errorf("review call %d timed out after %s", round, r.CallTimeout)
			}
			return streamproc.NormalizedMessage{}, fmt.Errorf("review call %d: %w", round, recvErr)
		}
		proc.Feed(ch)
	}

	msg := proc.Message()
	for _, tc := range msg.ToolCalls {
		if tc.Invalid {
			r.Bus.Emit(events.Warning(events.StageReview,
				fmt.Sprintf("tool call %s carried invalid JSON arguments", tc.Name)))
		}
	}
	return msg, nil
}

// dispatchTools partitions calls into approved and denied, runs the approved
// set concurrently, and returns one result per call in the original order.
func (r *Reviewer) dispatchTools(ctx context.Context, calls []streamproc.ParsedToolCall) []toolrt.Result {
	autoSet := make(map[string]bool, len(r.AutoApprove))
	for _, n := range r.AutoApprove {
		autoSet[n] = true
	}

	approved := make([]bool, len(calls))
	var pending []ToolRequest
	for i, tc := range calls {
		if r.AutoApproveAll || autoSet[tc.Name] {
			approved[i] = true
			continue
		}
		pending = append(pending, ToolRequest{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
	}

	if len(pending) > 0 && r.Approver != nil {
		granted := make(map[string]bool)
		for _, id := range r.Approver(ctx, pending) {
			granted[id] = true
		}
		for i, tc := range calls {
			if !approved[i] && granted[tc.ID] {
				approved[i] = true
			}
		}
	}

	var toRun []toolrt.Call
	var runIdx []int
	for i, tc := range calls {
		if approved[i] {
			toRun = append(toRun, toolrt.Call{ID: tc.ID, Name: tc.Name, Args: tc.Arguments})
			runIdx = append(runIdx, i)
		}
	}

	results := make([]toolrt.Result, len(calls))
	for i, tc := range calls {
		if !approved[i] {
			results[i] = toolrt.Result{CallID: tc.ID, Name: tc.Name, Error: DeniedMessage}
		}
	}
	for j, res := range r.Registry.Execute(ctx, toRun) {
		results[runIdx[j]] = res
	}
	return results
}

func assistantWithCalls(msg streamproc.NormalizedMessage) llm.ChatMessage {
	out := llm.ChatMessage{Role: llm.RoleAssistant, Content: msg.Content}
	for i, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			Index:     i,
			ID:        tc.ID,
			Name:      tc.Name,
			Arguments: tc.RawArguments,
		})
	}
	return out
}

func resultContent(res toolrt.Result) string {
	if res.Error != "" {
		return "error: " + res.Error
	}
	return res.Content
}

// observeUsage records token counts; all-zero usage never produces an event.
func (r *Reviewer) observeUsage(u *usage.Tokens, round int) {
	if u == nil || u.IsZero() {
		return
	}
	merged, changed := r.Agg.Observe(events.StageReview, round, *u)
	if !changed {
		return
	}
	metrics.TokensTotal.WithLabelValues(events.StageReview, "input").Add(float64(u.InputTokens))
	metrics.TokensTotal.WithLabelValues(events.StageReview, "output").Add(float64(u.OutputTokens))
	r.Bus.Emit(events.UsageSummary(events.StageReview, round, u, merged, r.Agg.SessionTotal()))
}
