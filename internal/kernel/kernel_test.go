package kernel

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"code-review-pipeline/internal/config"
	"code-review-pipeline/internal/domain"
	"code-review-pipeline/internal/events"
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
	writeFile(t, dir, "handlers.py", "def handle(req):\n    return req.body\n")
	writeFile(t, dir, "README.md", "# demo service\n")
	git("init", "-q")
	git("add", "-A")
	git("commit", "-q", "-m", "initial")
	return dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.DataDir = t.TempDir()
	cfg.LogDir = t.TempDir()
	cfg.Git.CommandTimeout = 30 * time.Second
	cfg.Git.BaseBranch = "main"
	cfg.LLM.CallTimeout = 5 * time.Second
	cfg.LLM.MaxRounds = 5
	cfg.Planner.IdleTimeout = 5 * time.Second
	cfg.Planner.FirstTokenTimeout = 5 * time.Second
	cfg.Planner.ThinkingFirstToken = 5 * time.Second
	cfg.Planner.MaxAttempts = 1
	cfg.Storage.Timeout = 5 * time.Second
	return cfg
}

func scripted(content string) *mockllm.Client {
	return mockllm.New(mockllm.Script{
		Content: content,
		Usage:   &usage.Tokens{InputTokens: 100, OutputTokens: 20, TotalTokens: 120},
	})
}

func stageStarts(evs []events.Event) []string {
	var stages []string
	for _, e := range evs {
		if e.Type() == events.TypeStageStart {
			stages = append(stages, e["stage"].(string))
		}
	}
	return stages
}

func TestRunFullSession(t *testing.T) {
	dir := initRepo(t)
	writeFile(t, dir, "handlers.py", "def handle(req):\n    body = req.body\n    return body.strip()\n")

	cfg := testConfig(t)
	store, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	k := New(cfg, store)
	k.ReviewClient = scripted("# Tighten request handling\n\nhandlers.py looks fine overall.")
	k.PlannerClient = scripted(`{"plan":[]}`)
	k.Summarizer = func(ctx context.Context, system, user string) (string, error) {
		return "A small python request handler.", nil
	}

	var evs []events.Event
	req := &domain.ReviewRequest{
		Prompt:      "check error handling",
		ProjectRoot: dir,
		DiffMode:    domain.DiffModeWorking,
	}
	res, err := k.Run(context.Background(), req, func(e events.Event) { evs = append(evs, e) }, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusSuccess {
		t.Errorf("status = %s", res.Status)
	}
	if !strings.Contains(res.Report, "looks fine overall") {
		t.Errorf("report = %q", res.Report)
	}
	if res.Title != "Tighten request handling" {
		t.Errorf("title = %q", res.Title)
	}
	if res.Usage.TotalTokens == 0 {
		t.Error("session usage not aggregated")
	}

	want := []string{"diff", "rules", "intent", "planner", "fusion", "context", "review"}
	got := stageStarts(evs)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("stages = %v, want %v", got, want)
	}

	var titles, fallbacks int
	for _, e := range evs {
		switch e.Type() {
		case events.TypeSessionTitle:
			titles++
		case events.TypeFallbackSummary:
			fallbacks++
		}
	}
	if titles != 1 || fallbacks != 1 {
		t.Errorf("title events = %d, fallback summaries = %d", titles, fallbacks)
	}

	saved, err := store.GetSession(context.Background(), res.TraceID)
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if saved.Status != StatusSuccess || saved.Report != res.Report {
		t.Errorf("persisted = %+v", saved)
	}

	apiLogs, _ := filepath.Glob(filepath.Join(cfg.LogDir, "api_log", "*.jsonl"))
	if len(apiLogs) != 1 {
		t.Errorf("api logs = %v, want one file", apiLogs)
	}
}

func TestRunDegradesWithoutProvider(t *testing.T) {
	dir := initRepo(t)
	writeFile(t, dir, "handlers.py", "def handle(req):\n    return None\n")

	cfg := testConfig(t)
	cfg.LLM.DefaultProvider = "openai"
	cfg.LLM.Providers = map[string]config.ProviderConfig{
		"openai": {Endpoint: "https://api.openai.com/v1", DefaultModel: "gpt-4o"},
	}

	k := New(cfg, nil)
	var evs []events.Event
	req := &domain.ReviewRequest{
		ProjectRoot: dir,
		DiffMode:    domain.DiffModeWorking,
		Agents:      []string{domain.AgentReviewer},
	}
	res, err := k.Run(context.Background(), req, func(e events.Event) { evs = append(evs, e) }, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusSuccess {
		t.Errorf("status = %s", res.Status)
	}
	if !strings.Contains(res.Report, "Review unavailable") {
		t.Errorf("report = %q, want degraded placeholder", res.Report)
	}

	var total int
	for _, e := range evs {
		if e.Type() == events.TypeFallbackSummary {
			total, _ = e["total"].(int)
		}
	}
	if total == 0 {
		t.Error("degraded session reported no fallbacks")
	}
}

func TestRunEmptyDiff(t *testing.T) {
	dir := initRepo(t) // clean working tree

	k := New(testConfig(t), nil)
	review := scripted("unused")
	k.ReviewClient = review
	k.PlannerClient = scripted("unused")
	k.Summarizer = func(ctx context.Context, system, user string) (string, error) { return "s", nil }

	req := &domain.ReviewRequest{ProjectRoot: dir, DiffMode: domain.DiffModeWorking}
	res, err := k.Run(context.Background(), req, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusSuccess || res.Report != "No reviewable changes found." {
		t.Errorf("res = %+v", res)
	}
	if review.Calls() != 0 {
		t.Errorf("reviewer called %d times on empty diff", review.Calls())
	}
}

func TestRunCancelled(t *testing.T) {
	dir := initRepo(t)
	writeFile(t, dir, "handlers.py", "changed\n")

	k := New(testConfig(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var evs []events.Event
	req := &domain.ReviewRequest{ProjectRoot: dir, DiffMode: domain.DiffModeWorking}
	res, err := k.Run(ctx, req, func(e events.Event) { evs = append(evs, e) }, nil)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if res.Status != StatusCancelled {
		t.Errorf("status = %s", res.Status)
	}
	found := false
	for _, e := range evs {
		if e.Type() == events.TypeError && e["cancelled"] == true {
			found = true
		}
	}
	if !found {
		t.Error("no cancelled event emitted")
	}
}

func TestRunPlanOnly(t *testing.T) {
	dir := initRepo(t)
	writeFile(t, dir, "handlers.py", "def handle(req):\n    return validate(req)\n")

	k := New(testConfig(t), nil)
	k.PlannerClient = scripted(`{"plan":[]}`)

	req := &domain.ReviewRequest{
		ProjectRoot: dir,
		DiffMode:    domain.DiffModeWorking,
		Agents:      []string{domain.AgentPlanner},
	}
	res, err := k.Run(context.Background(), req, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.HasPrefix(res.Report, "# Context plan") {
		t.Errorf("report = %q", res.Report)
	}
	if res.Title != "" {
		t.Errorf("plan-only session has title %q", res.Title)
	}
}

func TestNewTraceID(t *testing.T) {
	a, b := NewTraceID(), NewTraceID()
	if a == b {
		t.Error("trace ids collide")
	}
	if len(strings.Split(a, "_")) != 3 {
		t.Errorf("trace id format = %q", a)
	}
}
