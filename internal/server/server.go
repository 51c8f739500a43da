// Package server exposes the review kernel over HTTP. One POST starts a
// session and streams its event bus back as server-sent events; persisted
// sessions are readable afterwards.
package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"code-review-pipeline/internal/config"
	"code-review-pipeline/internal/domain"
	"code-review-pipeline/internal/events"
	"code-review-pipeline/internal/kernel"
	"code-review-pipeline/internal/metrics"
	"code-review-pipeline/internal/storage"
)

// Server wires the kernel and storage behind the HTTP API.
type Server struct {
	cfg    *config.Config
	kernel *kernel.Kernel
	store  storage.Repository // nil disables the read endpoints

	sem chan struct{} // caps concurrent review sessions
	wg  sync.WaitGroup
}

// New creates a server. store may be nil.
func New(cfg *config.Config, k *kernel.Kernel, store storage.Repository) *Server {
	limit := cfg.Server.ConcurrencyLimit
	if limit <= 0 {
		limit = 4
	}
	return &Server{cfg: cfg, kernel: k, store: store, sem: make(chan struct{}, limit)}
}

// WaitForCompletion blocks until all in-flight review sessions finish.
func (s *Server) WaitForCompletion() {
	s.wg.Wait()
}

// Routes builds the HTTP mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/review", s.handleReview)
	mux.HandleFunc("/reviews/recent", s.handleRecent)
	mux.HandleFunc("/reviews/", s.handleSession)

	// Liveness probe (Kubernetes: startup/liveness)
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK")) //nolint:errcheck
	})

	// Readiness probe; storage must answer when configured.
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if s.store != nil {
			if _, err := s.store.ListRecentSessions(r.Context(), 1); err != nil {
				slog.Warn("storage unhealthy", "error", err)
				http.Error(w, "Storage Unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Ready")) //nolint:errcheck
	})

	// Root handler catches misconfigured clients with a hint in the log but
	// still answers 404.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			slog.Warn("received request at root path",
				"method", r.Method,
				"msg", "reviews start at POST /review",
			)
		}
		http.NotFound(w, r)
	})

	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

var validDiffModes = map[string]bool{
	"": true, domain.DiffModeAuto: true, domain.DiffModeWorking: true,
	domain.DiffModeStaged: true, domain.DiffModePR: true, domain.DiffModeCommit: true,
}

// handleReview starts a session and streams its events until it finishes.
// The connection context cancels the session, so a client disconnect stops
// the pipeline.
func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Warn("read body failed", "error", err)
		http.Error(w, "Error reading request body", http.StatusBadRequest)
		metrics.HTTPRequests.WithLabelValues("rejected").Inc()
		return
	}
	if !utf8.Valid(body) {
		http.Error(w, "Invalid encoding", http.StatusBadRequest)
		metrics.HTTPRequests.WithLabelValues("rejected").Inc()
		return
	}

	var req domain.ReviewRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		metrics.HTTPRequests.WithLabelValues("rejected").Inc()
		return
	}
	if !validDiffModes[req.DiffMode] {
		http.Error(w, fmt.Sprintf("Unknown diff_mode %q", req.DiffMode), http.StatusBadRequest)
		metrics.HTTPRequests.WithLabelValues("rejected").Inc()
		return
	}
	if req.DiffMode == domain.DiffModeCommit && req.CommitFrom == "" {
		http.Error(w, "commit diff_mode requires commit_from", http.StatusBadRequest)
		metrics.HTTPRequests.WithLabelValues("rejected").Inc()
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	select {
	case s.sem <- struct{}{}:
	default:
		slog.Warn("concurrency limit, request dropped")
		metrics.HTTPRequests.WithLabelValues("dropped_concurrency").Inc()
		http.Error(w, "Server busy, please retry later", http.StatusTooManyRequests)
		return
	}
	defer func() { <-s.sem }()
	metrics.HTTPRequests.WithLabelValues("accepted").Inc()

	s.wg.Add(1)
	defer s.wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic in review handler", "panic", rec, "stack", string(debug.Stack()))
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Scanner events arrive from background goroutines, so writes are locked.
	var mu sync.Mutex
	send := func(e events.Event) {
		data, err := json.Marshal(e)
		if err != nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "data: %s\n\n", data) //nolint:errcheck
		flusher.Flush()
	}

	res, runErr := s.kernel.Run(r.Context(), &req, send, nil)

	end := events.Event{
		"type":     "session_end",
		"trace_id": res.TraceID,
		"status":   res.Status,
		"usage":    res.Usage,
	}
	if res.Title != "" {
		end["title"] = res.Title
	}
	if runErr != nil {
		end["error"] = runErr.Error()
	}
	send(end)
}

// handleRecent lists the most recent persisted sessions.
func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "Storage not configured", http.StatusServiceUnavailable)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	sessions, err := s.store.ListRecentSessions(r.Context(), limit)
	if err != nil {
		slog.Error("list sessions failed", "error", err)
		http.Error(w, "Storage error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, sessions)
}

// handleSession returns one persisted session by trace ID.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "Storage not configured", http.StatusServiceUnavailable)
		return
	}

	traceID := strings.TrimPrefix(r.URL.Path, "/reviews/")
	if traceID == "" || strings.Contains(traceID, "/") {
		http.NotFound(w, r)
		return
	}

	rec, err := s.store.GetSession(r.Context(), traceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.NotFound(w, r)
			return
		}
		slog.Error("get session failed", "error", err, "trace_id", traceID)
		http.Error(w, "Storage error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, rec)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}
