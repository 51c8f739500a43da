package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"code-review-pipeline/internal/config"
	"code-review-pipeline/internal/kernel"
	"code-review-pipeline/internal/mockllm"
	"code-review-pipeline/internal/storage"
	"code-review-pipeline/internal/usage"
)

func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	git := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=dev", "GIT_AUTHOR_EMAIL=dev@example.com",
			"GIT_COMMITTER_NAME=dev", "GIT_COMMITTER_EMAIL=dev@example.com",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "svc.py"), []byte("def run():\n    pass\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	git("init", "-q")
	git("add", "-A")
	git("commit", "-q", "-m", "initial")
	if err := os.WriteFile(filepath.Join(dir, "svc.py"), []byte("def run():\n    return 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func newTestServer(t *testing.T) (*httptest.Server, storage.Repository, string) {
	t.Helper()
	repo := initRepo(t)

	cfg := &config.Config{}
	cfg.DataDir = t.TempDir()
	cfg.LogDir = t.TempDir()
	cfg.Server.MaxBodySize = 1 << 20
	cfg.Git.CommandTimeout = 30 * time.Second
	cfg.Git.BaseBranch = "main"
	cfg.LLM.CallTimeout = 5 * time.Second
	cfg.LLM.MaxRounds = 5
	cfg.Planner.IdleTimeout = 5 * time.Second
	cfg.Planner.FirstTokenTimeout = 5 * time.Second
	cfg.Planner.MaxAttempts = 1
	cfg.Storage.Timeout = 5 * time.Second

	store, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	k := kernel.New(cfg, store)
	k.ReviewClient = mockllm.New(mockllm.Script{
		Content: "# Return value change\n\nsvc.py now returns 1, fine.",
		Usage:   &usage.Tokens{InputTokens: 50, OutputTokens: 10, TotalTokens: 60},
	})
	k.PlannerClient = mockllm.New(mockllm.Script{
		Content: `{"plan":[]}`,
		Usage:   &usage.Tokens{InputTokens: 30, OutputTokens: 5, TotalTokens: 35},
	})
	k.Summarizer = func(ctx context.Context, system, user string) (string, error) {
		return "A tiny python module.", nil
	}

	ts := httptest.NewServer(New(cfg, k, store).Routes())
	t.Cleanup(ts.Close)
	return ts, store, repo
}

func postReview(t *testing.T, ts *httptest.Server, payload string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/review", "application/json", bytes.NewBufferString(payload))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestReviewStreamsEvents(t *testing.T) {
	ts, _, repo := newTestServer(t)

	resp := postReview(t, ts, `{"prompt":"check it","project_root":`+jsonString(repo)+`,"diff_mode":"working"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	text := string(body)
	for _, want := range []string{
		`"type":"pipeline_stage_start"`,
		`"stage":"review"`,
		`"type":"session_title"`,
		`"type":"fallback_summary"`,
		`"type":"session_end"`,
		`"status":"success"`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("stream missing %s", want)
		}
	}
	for _, line := range strings.Split(text, "\n") {
		if line != "" && !strings.HasPrefix(line, "data: ") {
			t.Errorf("non-SSE line %q", line)
		}
	}
}

func TestReviewRejectsBadInput(t *testing.T) {
	ts, _, repo := newTestServer(t)

	resp, err := http.Get(ts.URL + "/review")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /review = %d", resp.StatusCode)
	}

	cases := []struct {
		name, payload string
	}{
		{"bad json", `{"prompt":`},
		{"unknown diff mode", `{"diff_mode":"sideways"}`},
		{"commit without from", `{"project_root":` + jsonString(repo) + `,"diff_mode":"commit"}`},
	}
	for _, tc := range cases {
		resp := postReview(t, ts, tc.payload)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tc.name, resp.StatusCode)
		}
	}
}

func TestRecentAndSessionLookup(t *testing.T) {
	ts, _, repo := newTestServer(t)

	resp := postReview(t, ts, `{"project_root":`+jsonString(repo)+`,"diff_mode":"working","session_id":"tr-http-1"}`)
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	resp.Body.Close()

	recent, err := http.Get(ts.URL + "/reviews/recent?limit=5")
	if err != nil {
		t.Fatal(err)
	}
	defer recent.Body.Close()
	if recent.StatusCode != http.StatusOK {
		t.Fatalf("recent status = %d", recent.StatusCode)
	}
	var list []storage.SessionRecord
	if err := json.NewDecoder(recent.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].TraceID != "tr-http-1" {
		t.Errorf("recent = %+v", list)
	}

	one, err := http.Get(ts.URL + "/reviews/tr-http-1")
	if err != nil {
		t.Fatal(err)
	}
	defer one.Body.Close()
	if one.StatusCode != http.StatusOK {
		t.Errorf("get session = %d", one.StatusCode)
	}

	missing, err := http.Get(ts.URL + "/reviews/no-such-trace")
	if err != nil {
		t.Fatal(err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("missing session = %d, want 404", missing.StatusCode)
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts, _, _ := newTestServer(t)

	for _, path := range []string{"/health/live", "/health/ready"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s = %d", path, resp.StatusCode)
		}
	}

	root, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	root.Body.Close()
	if root.StatusCode != http.StatusNotFound {
		t.Errorf("root = %d, want 404", root.StatusCode)
	}
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
