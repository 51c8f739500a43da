package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReviewSessionsTotal counts review sessions, labeled by outcome.
	ReviewSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "review_sessions_total",
		Help: "The total number of review sessions",
	}, []string{"status"}) // status: success, error, cancelled

	// StageDuration measures wall time per pipeline stage.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "review_stage_duration_seconds",
		Help:    "Time spent in each pipeline stage",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	// LLMCalls counts LLM invocations per stage and outcome.
	LLMCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "review_llm_calls_total",
		Help: "The total number of LLM calls",
	}, []string{"stage", "status"}) // status: success, error, timeout

	// ToolCalls counts tool executions, labeled by tool and outcome.
	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "review_tool_calls_total",
		Help: "The total number of tool executions",
	}, []string{"tool", "status"}) // status: success, error, denied

	// HTTPRequests counts review API requests by disposition.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "review_http_requests_total",
		Help: "The total number of review API requests",
	}, []string{"status"}) // status: accepted, rejected, dropped_concurrency

	// FallbacksTotal counts degraded code paths by key.
	FallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "review_fallbacks_total",
		Help: "The total number of degraded-path occurrences",
	}, []string{"key"})

	// TokensTotal counts tokens consumed, by stage and direction.
	TokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "review_tokens_total",
		Help: "The total number of LLM tokens consumed",
	}, []string{"stage", "direction"}) // direction: input, output
)
