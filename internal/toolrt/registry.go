// Package toolrt is the tool runtime: a registry of callable tools and a
// concurrent executor that always answers every call, errors included, in
// input order.
package toolrt

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"code-review-pipeline/internal/llm"
	"code-review-pipeline/internal/metrics"
)

// Call is one tool invocation requested by the model.
type Call struct {
	ID   string
	Name string
	Args map[string]any
}

// Result is the outcome of one call. Exactly one of Content/Error is
// meaningful; both are returned to the model.
type Result struct {
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Content    string `json:"content,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Handler is one registered tool.
type Handler struct {
	Def Def
	Run func(ctx context.Context, args map[string]any) (string, error)
}

// Def describes a tool to the model.
type Def struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Registry maps tool names to handlers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]*Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]*Handler)}
}

// Register adds a handler. A later registration with the same name wins.
func (r *Registry) Register(h *Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Def.Name] = h
}

// Has reports whether a tool name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Defs returns tool definitions for the model. An empty filter returns all
// tools; unknown names in the filter are ignored. Output is name-sorted so
// prompts are stable.
func (r *Registry) Defs(names []string) []llm.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := func(string) bool { return true }
	if len(names) > 0 {
		set := make(map[string]bool, len(names))
		for _, n := range names {
			set[n] = true
		}
		wanted = func(n string) bool { return set[n] }
	}

	var out []llm.ToolDef
	for name, h := range r.handlers {
		if !wanted(name) {
			continue
		}
		out = append(out, llm.ToolDef{
			Name:        h.Def.Name,
			Description: h.Def.Description,
			Parameters:  h.Def.Parameters,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs all calls concurrently and returns results in input order.
// An unregistered tool or a handler error becomes an error result; Execute
// itself fails only on context cancellation.
func (r *Registry) Execute(ctx context.Context, calls []Call) []Result {
	results := make([]Result, len(calls))

	g, ctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = r.runOne(ctx, call)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // goroutines never return errors
	return results
}

// runOne uses a named return so the deferred duration write lands on the
// value the caller receives.
func (r *Registry) runOne(ctx context.Context, call Call) (res Result) {
	res = Result{CallID: call.ID, Name: call.Name}
	start := time.Now()
	defer func() { res.DurationMS = time.Since(start).Milliseconds() }()

	r.mu.RLock()
	h, ok := r.handlers[call.Name]
	r.mu.RUnlock()
	if !ok {
		res.Error = fmt.Sprintf("unknown tool %q", call.Name)
		metrics.ToolCalls.WithLabelValues(call.Name, "unknown").Inc()
		return res
	}

	content, err := h.Run(ctx, call.Args)
	if err != nil {
		res.Error = err.Error()
		metrics.ToolCalls.WithLabelValues(call.Name, "error").Inc()
		return res
	}
	res.Content = content
	metrics.ToolCalls.WithLabelValues(call.Name, "success").Inc()
	return res
}
