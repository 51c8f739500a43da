package intent

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"code-review-pipeline/internal/domain"
	"code-review-pipeline/internal/events"
)

func seedProject(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "payments")
	for path, content := range map[string]string{
		"README.md":          "# Payments\nHandles card charges.\n",
		"go.mod":             "module payments\n\ngo 1.22\n",
		"main.go":            "package main\n",
		"internal/charge.go": "package internal\n",
		"a/b/c/deep.go":      "package c\n", // depth 3, excluded
		"assets/logo.png":    "binary",
	} {
		full := filepath.Join(root, path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestProjectSummaryMissThenHit(t *testing.T) {
	root := seedProject(t)
	dataDir := t.TempDir()

	calls := 0
	summarize := func(_ context.Context, system, user string) (string, error) {
		calls++
		if !strings.Contains(user, "internal/charge.go") {
			t.Errorf("facts missing file tree: %q", user)
		}
		if strings.Contains(user, "deep.go") {
			t.Errorf("facts include file beyond depth 2")
		}
		if !strings.Contains(user, "Handles card charges") {
			t.Errorf("facts missing README")
		}
		if !strings.Contains(user, "module payments") {
			t.Errorf("facts missing go.mod manifest")
		}
		return "A payments service handling card charges.", nil
	}

	a := New(dataDir, nil, events.NewBus(nil), summarize)

	got := a.ProjectSummary(context.Background(), root)
	if got != "A payments service handling card charges." {
		t.Fatalf("summary = %q", got)
	}
	if calls != 1 {
		t.Fatalf("llm calls = %d, want 1", calls)
	}

	// Cache file persisted with the agent source marker.
	data, err := os.ReadFile(filepath.Join(dataDir, "Analysis", "payments.json"))
	if err != nil {
		t.Fatal(err)
	}
	var cache domain.IntentCache
	if err := json.Unmarshal(data, &cache); err != nil {
		t.Fatal(err)
	}
	if cache.Source != "agent" || cache.ProjectName != "payments" || cache.Content == "" {
		t.Errorf("cache = %+v", cache)
	}

	// Second call is served from cache without touching the summarizer.
	if got := a.ProjectSummary(context.Background(), root); got != cache.Content {
		t.Errorf("cached summary = %q", got)
	}
	if calls != 1 {
		t.Errorf("llm calls after hit = %d, want still 1", calls)
	}
}

func TestProjectSummaryErrorContinues(t *testing.T) {
	root := seedProject(t)
	dataDir := t.TempDir()

	var errorEvents int
	bus := events.NewBus(func(e events.Event) {
		if e.Type() == events.TypeError {
			errorEvents++
		}
	})

	summarize := func(context.Context, string, string) (string, error) {
		return "", errors.New("provider down")
	}
	a := New(dataDir, nil, bus, summarize)

	if got := a.ProjectSummary(context.Background(), root); got != "" {
		t.Errorf("summary = %q, want empty on failure", got)
	}
	if errorEvents != 1 {
		t.Errorf("error events = %d, want 1", errorEvents)
	}
	// Cache stays untouched.
	if _, err := os.Stat(filepath.Join(dataDir, "Analysis", "payments.json")); !os.IsNotExist(err) {
		t.Errorf("cache written despite failure")
	}
}

func TestLoadCacheIgnoresCorrupt(t *testing.T) {
	dataDir := t.TempDir()
	dir := filepath.Join(dataDir, "Analysis")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "p.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	a := New(dataDir, nil, events.NewBus(nil), nil)
	if c := a.loadCache("p"); c != nil {
		t.Errorf("loadCache = %+v, want nil for corrupt file", c)
	}
}

func TestFileTreeFiltering(t *testing.T) {
	root := seedProject(t)
	tree := fileTree(root)

	joined := strings.Join(tree, "\n")
	for _, want := range []string{"README.md", "go.mod", "main.go", "internal/charge.go"} {
		if !strings.Contains(joined, want) {
			t.Errorf("tree missing %q: %v", want, tree)
		}
	}
	for _, absent := range []string{"deep.go", "logo.png"} {
		if strings.Contains(joined, absent) {
			t.Errorf("tree includes %q: %v", absent, tree)
		}
	}
}
