// Package planner runs the single planning LLM call: metadata in, a
// per-unit context plan out. The call is guarded by first-token and idle
// timeouts and retried once; any failure degrades to an empty plan so the
// pipeline keeps moving.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"code-review-pipeline/internal/config"
	"code-review-pipeline/internal/domain"
	"code-review-pipeline/internal/events"
	"code-review-pipeline/internal/fallback"
	"code-review-pipeline/internal/llm"
	"code-review-pipeline/internal/metrics"
	"code-review-pipeline/internal/streamproc"
	"code-review-pipeline/internal/usage"
)

const systemPrompt = `You are a code-review planning assistant. You receive metadata about changed code units (no diff bodies) plus a project summary. For each unit decide how much surrounding context the reviewer needs.

Respond with JSON only:
{"plan":[{"unit_id":"<id>","llm_context_level":"diff_only|function|file_context|full_file","extra_requests":[{"type":"callers|previous_version|search","query":"..."}],"skip_review":false,"reason":"<short>"}]}

Only include units worth adjusting; omitted units keep their rule suggestion.`

// timeoutError distinguishes which guard fired.
type timeoutError struct {
	Kind string // "first_token" or "idle"
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("planner stream timeout (%s)", e.Kind)
}

// Planner owns the plan call for one session.
type Planner struct {
	client   llm.Client
	cfg      config.PlannerConfig
	bus      *events.Bus
	agg      *usage.Aggregator
	thinking bool
}

// New builds a planner. thinking widens the first-token timeout for
// reasoning models.
func New(client llm.Client, cfg config.PlannerConfig, bus *events.Bus, agg *usage.Aggregator, thinking bool) *Planner {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	if cfg.FirstTokenTimeout <= 0 {
		cfg.FirstTokenTimeout = 20 * time.Second
	}
	if cfg.ThinkingFirstToken <= 0 {
		cfg.ThinkingFirstToken = 120 * time.Second
	}
	return &Planner{client: client, cfg: cfg, bus: bus, agg: agg, thinking: thinking}
}

// Run produces the validated plan. On unrecoverable failure the result
// carries an empty plan and the error message; the caller proceeds with
// rule suggestions alone.
func (p *Planner) Run(ctx context.Context, index *domain.ReviewIndex, intentMD, userPrompt string) domain.PlanResult {
	known := make(map[string]bool, len(index.Units))
	for _, u := range index.Units {
		known[u.UnitID] = true
	}

	req, err := p.buildRequest(index, intentMD, userPrompt)
	if err != nil {
		return domain.PlanResult{Error: err.Error()}
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			p.bus.Emit(events.Warning(events.StagePlanner,
				fmt.Sprintf("planner retry %d/%d: %v", attempt, p.cfg.MaxAttempts, lastErr)))
			select {
			case <-time.After(p.cfg.RetryDelay):
			case <-ctx.Done():
				return domain.PlanResult{Error: ctx.Err().Error()}
			}
		}

		content, err := p.streamOnce(ctx, req, attempt)
		if err != nil {
			lastErr = err
			var te *timeoutError
			if errors.As(err, &te) {
				fallback.Record("planner_timeout", "planner stream timed out",
					map[string]any{"timeout_kind": te.Kind, "attempt": attempt})
			}
			metrics.LLMCalls.WithLabelValues(events.StagePlanner, "error").Inc()
			if ctx.Err() != nil {
				break
			}
			continue
		}
		metrics.LLMCalls.WithLabelValues(events.StagePlanner, "success").Inc()

		doc, ok := ExtractJSONObject(content)
		if !ok {
			lastErr = fmt.Errorf("no JSON object in planner output")
			slog.Warn("planner output unparseable", "attempt", attempt, "content_len", len(content))
			continue
		}
		return domain.PlanResult{Plan: ParsePlan(doc, known)}
	}

	fallback.Record("planner_failed", "planner degraded to empty plan", map[string]any{"error": fmt.Sprint(lastErr)})
	return domain.PlanResult{Error: fmt.Sprint(lastErr)}
}

func (p *Planner) buildRequest(index *domain.ReviewIndex, intentMD, userPrompt string) (llm.Request, error) {
	indexJSON, err := json.Marshal(index)
	if err != nil {
		return llm.Request{}, fmt.Errorf("marshal review index: %w", err)
	}

	user := "## Changed units\n" + string(indexJSON)
	if intentMD != "" {
		user = "## Project summary\n" + intentMD + "\n\n" + user
	}
	if userPrompt != "" {
		user += "\n\n## Reviewer focus\n" + userPrompt
	}

	return llm.Request{
		Messages: []llm.ChatMessage{
			llm.System(systemPrompt),
			llm.User(user),
		},
		Temperature:        llm.Float(0.2),
		ResponseFormatJSON: true,
	}, nil
}

// streamOnce runs one guarded streaming attempt.
func (p *Planner) streamOnce(ctx context.Context, req llm.Request, attempt int) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := p.client.StreamChat(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	proc := streamproc.New(func(content, reasoning string) {
		p.bus.Emit(events.Delta(events.TypePlannerDelta, content, reasoning, -1))
	})

	chunks := make(chan llm.Chunk)
	errCh := make(chan error, 1)
	go func() {
		for {
			ch, recvErr := stream.Recv()
			if recvErr != nil {
				errCh <- recvErr
				return
			}
			select {
			case chunks <- ch:
			case <-ctx.Done():
				return
			}
		}
	}()

	firstToken := p.cfg.FirstTokenTimeout
	if p.thinking {
		firstToken = p.cfg.ThinkingFirstToken
	}
	guard := time.NewTimer(firstToken)
	defer guard.Stop()
	kind := "first_token"

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()

		case recvErr := <-errCh:
			if recvErr == io.EOF {
				msg := proc.Message()
				p.observeUsage(msg.Usage, attempt)
				return msg.Content, nil
			}
			return "", recvErr

		case ch := <-chunks:
			proc.Feed(ch)
			kind = "idle"
			if !guard.Stop() {
				select {
				case <-guard.C:
				default:
				}
			}
			guard.Reset(p.cfg.IdleTimeout)

		case <-guard.C:
			cancel()
			return "", &timeoutError{Kind: kind}
		}
	}
}

// observeUsage records token counts; all-zero usage never produces an event.
func (p *Planner) observeUsage(u *usage.Tokens, attempt int) {
	if u == nil || u.IsZero() {
		return
	}
	merged, changed := p.agg.Observe(events.StagePlanner, attempt, *u)
	if !changed {
		return
	}
	metrics.TokensTotal.WithLabelValues(events.StagePlanner, "input").Add(float64(u.InputTokens))
	metrics.TokensTotal.WithLabelValues(events.StagePlanner, "output").Add(float64(u.OutputTokens))
	p.bus.Emit(events.UsageSummary(events.StagePlanner, attempt, u, merged, p.agg.SessionTotal()))
}
