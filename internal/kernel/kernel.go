// Package kernel orchestrates one review session end to end: diff collection,
// rule suggestions, the intent and planner agents, fusion, context scheduling,
// and the tool-driven review loop. Progress streams through the event bus; the
// caller owns transport and persistence policy.
package kernel

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"code-review-pipeline/internal/agent"
	"code-review-pipeline/internal/config"
	"code-review-pipeline/internal/diff"
	"code-review-pipeline/internal/domain"
	"code-review-pipeline/internal/events"
	"code-review-pipeline/internal/fallback"
	"code-review-pipeline/internal/fusion"
	"code-review-pipeline/internal/gitcli"
	"code-review-pipeline/internal/intent"
	"code-review-pipeline/internal/llm"
	"code-review-pipeline/internal/logs"
	"code-review-pipeline/internal/metrics"
	"code-review-pipeline/internal/mockllm"
	"code-review-pipeline/internal/planner"
	"code-review-pipeline/internal/rules"
	"code-review-pipeline/internal/scanner"
	"code-review-pipeline/internal/sched"
	"code-review-pipeline/internal/storage"
	"code-review-pipeline/internal/toolrt"
	"code-review-pipeline/internal/usage"
)

// Session status values, mirrored into metrics and storage.
const (
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// Kernel runs review sessions against one configuration. Safe for concurrent
// use; each Run builds its own per-session state.
type Kernel struct {
	Cfg   *config.Config
	Store storage.Repository // nil disables persistence

	// Overrides for the LLM seams. When nil they are built from config,
	// degrading to the mock client when no provider is reachable.
	ReviewClient  llm.Client
	PlannerClient llm.Client
	Summarizer    intent.Summarizer
}

// New builds a kernel. store may be nil.
func New(cfg *config.Config, store storage.Repository) *Kernel {
	return &Kernel{Cfg: cfg, Store: store}
}

// Result is the terminal record of one session.
type Result struct {
	TraceID  string
	Report   string
	Title    string
	Status   string
	Usage    usage.Tokens
	Duration time.Duration
}

// Run executes one review session. The returned error is non-nil only for
// hard failures (no repository, diff collection failed, review loop failed,
// cancellation); degraded paths are reported through fallback records and the
// session still completes. The Result is always non-nil.
func (k *Kernel) Run(ctx context.Context, req *domain.ReviewRequest, observer events.Observer, approver agent.Approver) (*Result, error) {
	root := req.ProjectRoot
	if root == "" {
		root = "."
	}
	traceID := req.SessionID
	if traceID == "" {
		traceID = NewTraceID()
	}

	fallback.Reset()
	agg := usage.NewAggregator()
	sess := logs.NewSession(k.Cfg.LogDir, "review", traceID)
	bus := events.NewBus(func(e events.Event) {
		mirror(sess, e)
		if observer != nil {
			observer(e)
		}
	})

	sess.API(logs.RecordRequest, req)
	sess.Human("# Review session %s\n\n- project: %s\n- diff mode: %s\n", traceID, root, req.DiffMode)

	res := &Result{TraceID: traceID, Status: StatusSuccess}
	started := time.Now()
	defer func() {
		res.Usage = agg.SessionTotal()
		res.Duration = time.Since(started)
		records, total := fallback.Default().Summary()
		bus.Emit(events.FallbackSummary(records, total))
		metrics.ReviewSessionsTotal.WithLabelValues(res.Status).Inc()
		k.persist(req, res)
		sess.Human("\n---\nstatus: %s, usage: %d tokens, fallbacks: %d\n", res.Status, res.Usage.TotalTokens, total)
		sess.Close(map[string]any{
			"status":      res.Status,
			"usage":       res.Usage,
			"duration_ms": res.Duration.Milliseconds(),
			"fallbacks":   total,
		})
	}()

	git, err := gitcli.NewClient(root, k.Cfg.Git.CommandTimeout)
	if err != nil {
		return k.fail(ctx, res, bus, events.StageDiff, err)
	}

	// Stage: diff collection.
	var units []*domain.ReviewUnit
	var dc *gitcli.DiffContext
	err = k.stage(bus, events.StageDiff, func() (map[string]any, error) {
		dc, err = git.CollectDiff(ctx, gitcli.DiffOptions{
			Mode:       req.DiffMode,
			CommitFrom: req.CommitFrom,
			CommitTo:   req.CommitTo,
			BaseBranch: k.Cfg.Git.BaseBranch,
		})
		if err != nil {
			return nil, err
		}
		patches := diff.ParsePatches(dc.Text)
		units = diff.NewCollector(root, k.Cfg.Collector).Collect(patches)
		diff.SortUnits(units)
		return map[string]any{"mode": dc.Mode, "units": len(units)}, nil
	})
	if err != nil {
		return k.fail(ctx, res, bus, events.StageDiff, err)
	}

	// Stage: rule suggestions and the session index.
	var index *domain.ReviewIndex
	err = k.stage(bus, events.StageRules, func() (map[string]any, error) {
		rules.NewEngine().Apply(units)
		index = diff.BuildIndex(traceID, root, dc.Mode, units)
		bus.Emit(events.Event{"type": events.TypeDiffUnitsSnapshot, "index": index})
		return map[string]any{
			"files": index.Summary.FilesChanged,
			"lines": index.Summary.TotalLines,
		}, nil
	})
	if err != nil {
		return k.fail(ctx, res, bus, events.StageRules, err)
	}

	if len(units) == 0 {
		res.Report = "No reviewable changes found."
		bus.Emit(events.Warning("", res.Report))
		return res, nil
	}

	// Background static scan. Detached from the pipeline; cancelled with the
	// session context and drained briefly at session end.
	if req.EnableStaticScan && len(k.Cfg.Scanners) > 0 {
		scanCtx, scanCancel := context.WithCancel(ctx)
		scanDone := scanner.NewRunner(k.Cfg.Scanners, root, bus).Start(scanCtx, filesOf(units))
		defer func() {
			scanCancel()
			select {
			case <-scanDone:
			case <-time.After(2 * time.Second):
			}
		}()
	}

	reviewClient := k.reviewClient(req, bus)
	plannerClient, thinking := k.plannerClient(req, reviewClient)

	// Stage: project intent summary.
	intentMD := ""
	if req.WantsAgent(domain.AgentIntent) {
		if sum := k.summarizer(req, bus); sum != nil {
			_ = k.stage(bus, events.StageIntent, func() (map[string]any, error) {
				intentMD = intent.New(k.Cfg.DataDir, git, bus, sum).ProjectSummary(ctx, root)
				return map[string]any{"chars": len(intentMD)}, nil
			})
		}
	}
	if err := ctx.Err(); err != nil {
		return k.fail(ctx, res, bus, events.StageIntent, err)
	}

	// Stage: context planner.
	var plan domain.PlanResult
	if req.WantsAgent(domain.AgentPlanner) {
		_ = k.stage(bus, events.StagePlanner, func() (map[string]any, error) {
			plan = planner.New(plannerClient, k.Cfg.Planner, bus, agg, thinking).Run(ctx, index, intentMD, req.Prompt)
			s := map[string]any{"items": len(plan.Plan)}
			if plan.Error != "" {
				s["degraded"] = plan.Error
			}
			return s, nil
		})
	}
	if err := ctx.Err(); err != nil {
		return k.fail(ctx, res, bus, events.StagePlanner, err)
	}

	// Stage: fusion of rule and planner decisions.
	var fused []domain.FusedPlanItem
	_ = k.stage(bus, events.StageFusion, func() (map[string]any, error) {
		fused = fusion.Fuse(units, plan.Plan)
		skipped := 0
		for _, f := range fused {
			if f.SkipReview {
				skipped++
			}
		}
		return map[string]any{"items": len(fused), "skipped": skipped}, nil
	})

	// Stage: context bundle assembly.
	var bundle []domain.ContextBundleEntry
	_ = k.stage(bus, events.StageContext, func() (map[string]any, error) {
		bundle = sched.New(root, k.Cfg.Scheduler, git, bus).Build(ctx, units, fused)
		return map[string]any{"entries": len(bundle)}, nil
	})
	if err := ctx.Err(); err != nil {
		return k.fail(ctx, res, bus, events.StageContext, err)
	}

	if !req.WantsAgent(domain.AgentReviewer) {
		res.Report = planOnlyReport(index, fused)
		return res, nil
	}

	// Stage: the review loop.
	registry := toolrt.NewRegistry()
	toolrt.RegisterBuiltins(registry, root, git)
	closeBridges := k.connectMCP(ctx, registry, bus)
	defer closeBridges()

	err = k.stage(bus, events.StageReview, func() (map[string]any, error) {
		rv := agent.NewReviewer(reviewClient, registry, bus, agg)
		rv.CallTimeout = k.Cfg.LLM.CallTimeout
		rv.MaxRounds = k.Cfg.LLM.MaxRounds
		rv.ToolNames = req.ToolNames
		rv.AutoApprove = k.Cfg.Tools.AutoApprove
		rv.AutoApproveAll = req.AutoApprove
		rv.Approver = approver

		report, err := rv.Run(ctx, reviewSystemPrompt, buildUserMessage(req.Prompt, intentMD, index, bundle), req.MessageHistory)
		if err != nil {
			return nil, err
		}
		res.Report = report
		return map[string]any{"chars": len(report)}, nil
	})
	if err != nil {
		return k.fail(ctx, res, bus, events.StageReview, err)
	}

	if title := agent.ExtractTitle(res.Report); title != "" {
		res.Title = title
		bus.Emit(events.SessionTitle(title, traceID))
	}
	sess.Human("\n%s\n", res.Report)
	return res, nil
}

// stage brackets fn with stage events and the duration metric. fn's error is
// reported on the bus and returned; stages whose failure only degrades the
// session ignore the return.
func (k *Kernel) stage(bus *events.Bus, name string, fn func() (map[string]any, error)) error {
	bus.Emit(events.StageStart(name))
	start := time.Now()
	summary, err := fn()
	metrics.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		bus.Emit(events.Error(name, err.Error()))
		return err
	}
	bus.Emit(events.StageEnd(name, summary))
	return nil
}

// fail finalises res for a hard failure, distinguishing cancellation.
func (k *Kernel) fail(ctx context.Context, res *Result, bus *events.Bus, stage string, err error) (*Result, error) {
	if ctx.Err() != nil {
		res.Status = StatusCancelled
		bus.Emit(events.Cancelled(stage, "review cancelled"))
		return res, ctx.Err()
	}
	res.Status = StatusError
	return res, err
}

// reviewClient resolves the reviewer's LLM, degrading to the mock client when
// no provider is reachable.
func (k *Kernel) reviewClient(req *domain.ReviewRequest, bus *events.Bus) llm.Client {
	if k.ReviewClient != nil {
		return k.ReviewClient
	}
	c, err := llm.NewFromConfig(k.Cfg, req.LLMPreference)
	if err != nil {
		fallback.Record("llm_unavailable", err.Error(), nil)
		bus.Emit(events.Warning("", "no LLM provider reachable, running degraded: "+err.Error()))
		return mockllm.NewDegraded()
	}
	return c
}

// plannerClient resolves the planner's LLM, falling back to the reviewer's
// client when the planner preference cannot be served.
func (k *Kernel) plannerClient(req *domain.ReviewRequest, reviewClient llm.Client) (llm.Client, bool) {
	pref := req.PlannerLLMPreference
	if pref == "" {
		pref = req.LLMPreference
	}
	thinking := llm.IsThinkingModel(k.Cfg, pref)
	if k.PlannerClient != nil {
		return k.PlannerClient, thinking
	}
	c, err := llm.NewFromConfig(k.Cfg, pref)
	if err != nil {
		fallback.Record("planner_llm_unavailable", err.Error(), nil)
		return reviewClient, thinking
	}
	return c, thinking
}

// summarizer resolves the intent agent's summarizer. Returns nil when no
// provider with an API key is configured; the intent stage is then skipped.
func (k *Kernel) summarizer(req *domain.ReviewRequest, bus *events.Bus) intent.Summarizer {
	if k.Summarizer != nil {
		return k.Summarizer
	}
	_, p, model, err := k.Cfg.ResolvePreference(req.LLMPreference)
	if err != nil || p.APIKey == "" {
		fallback.Record("intent_skipped", "no LLM provider for the intent agent", nil)
		return nil
	}
	sum, err := intent.NewLangChainSummarizer(p.Endpoint, p.APIKey, model, bus)
	if err != nil {
		fallback.Record("intent_skipped", err.Error(), nil)
		return nil
	}
	return sum
}

// connectMCP bridges the configured MCP servers into the registry. Connection
// failures degrade the session rather than failing it.
func (k *Kernel) connectMCP(ctx context.Context, registry *toolrt.Registry, bus *events.Bus) func() {
	var bridges []*toolrt.MCPBridge
	for _, mc := range k.Cfg.Tools.MCPServers {
		b, err := toolrt.ConnectMCP(ctx, mc)
		if err != nil {
			fallback.Record("mcp_connect_failed", err.Error(), map[string]any{"server": mc.Name})
			bus.Emit(events.Warning(events.StageReview, fmt.Sprintf("mcp server %q unavailable: %v", mc.Name, err)))
			continue
		}
		if err := b.RegisterTools(ctx, registry); err != nil {
			fallback.Record("mcp_tools_failed", err.Error(), map[string]any{"server": mc.Name})
			bus.Emit(events.Warning(events.StageReview, fmt.Sprintf("mcp server %q tool listing failed: %v", mc.Name, err)))
			b.Close() //nolint:errcheck
			continue
		}
		bridges = append(bridges, b)
	}
	return func() {
		for _, b := range bridges {
			b.Close() //nolint:errcheck
		}
	}
}

func (k *Kernel) persist(req *domain.ReviewRequest, res *Result) {
	if k.Store == nil {
		return
	}
	timeout := k.Cfg.Storage.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	rec := &storage.SessionRecord{
		TraceID:    res.TraceID,
		Request:    req,
		Report:     res.Report,
		Title:      res.Title,
		Usage:      res.Usage,
		CreatedAt:  time.Now().UTC(),
		DurationMs: res.Duration.Milliseconds(),
		Status:     res.Status,
	}
	if err := k.Store.SaveSession(ctx, rec); err != nil {
		slog.Warn("save session failed", "trace_id", res.TraceID, "error", err)
	}
}

// mirror routes events into the session's log files: streaming deltas into
// the sampled api log, everything else onto the pipeline timeline.
func mirror(sess *logs.Session, e events.Event) {
	switch e.Type() {
	case events.TypeDelta, events.TypeIntentDelta, events.TypePlannerDelta:
		sess.Chunk(e)
	case events.TypeUsageSummary:
		sess.FlushChunks()
		sess.API(logs.RecordResponseSummary, e)
	case events.TypeToolResult:
		sess.API(logs.RecordToolsExecution, e)
	default:
		sess.Pipeline(e.Type(), map[string]any(e))
	}
}

func filesOf(units []*domain.ReviewUnit) map[string]domain.Language {
	files := make(map[string]domain.Language)
	for _, u := range units {
		files[u.FilePath] = u.Language
	}
	return files
}

// NewTraceID returns a session identifier like "20260824_153012_a1b2c3d4".
func NewTraceID() string {
	var b [4]byte
	rand.Read(b[:]) //nolint:errcheck // crypto/rand never fails on supported platforms
	return time.Now().Format("20060102_150405") + "_" + hex.EncodeToString(b[:])
}
