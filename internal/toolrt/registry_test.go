package toolrt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestExecuteReturnsInputOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(&Handler{
		Def: Def{Name: "slow"},
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			time.Sleep(30 * time.Millisecond)
			return "slow done", nil
		},
	})
	r.Register(&Handler{
		Def: Def{Name: "fast"},
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			return "fast done", nil
		},
	})

	results := r.Execute(context.Background(), []Call{
		{ID: "c1", Name: "slow"},
		{ID: "c2", Name: "fast"},
		{ID: "c3", Name: "slow"},
	})

	if len(results) != 3 {
		t.Fatalf("results = %d", len(results))
	}
	wantIDs := []string{"c1", "c2", "c3"}
	for i, res := range results {
		if res.CallID != wantIDs[i] {
			t.Errorf("result %d id = %s, want %s", i, res.CallID, wantIDs[i])
		}
		if res.Error != "" {
			t.Errorf("result %d error = %q", i, res.Error)
		}
		// The slow handler sleeps 30ms, so its measured duration must
		// survive into the returned result.
		if res.Name == "slow" && res.DurationMS < 30 {
			t.Errorf("result %d duration = %dms, want >= 30ms", i, res.DurationMS)
		}
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	results := r.Execute(context.Background(), []Call{{ID: "c1", Name: "nope"}})
	if results[0].Error == "" || !strings.Contains(results[0].Error, "nope") {
		t.Errorf("error = %q, want unknown-tool message", results[0].Error)
	}
}

func TestExecuteHandlerError(t *testing.T) {
	r := NewRegistry()
	r.Register(&Handler{
		Def: Def{Name: "boom"},
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			return "", fmt.Errorf("tool exploded")
		},
	})
	results := r.Execute(context.Background(), []Call{{ID: "c1", Name: "boom"}})
	if results[0].Error != "tool exploded" {
		t.Errorf("error = %q", results[0].Error)
	}
	if results[0].Content != "" {
		t.Errorf("content = %q, want empty", results[0].Content)
	}
}

func TestDefsFiltered(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"b_tool", "a_tool", "c_tool"} {
		r.Register(&Handler{Def: Def{Name: name}, Run: func(ctx context.Context, args map[string]any) (string, error) { return "", nil }})
	}

	all := r.Defs(nil)
	if len(all) != 3 || all[0].Name != "a_tool" {
		t.Errorf("all defs = %+v", all)
	}

	some := r.Defs([]string{"c_tool", "missing"})
	if len(some) != 1 || some[0].Name != "c_tool" {
		t.Errorf("filtered defs = %+v", some)
	}
}

func TestBuiltinReadFileHunk(t *testing.T) {
	root := t.TempDir()
	content := "alpha\nbeta\ngamma\ndelta\n"
	if err := os.WriteFile(filepath.Join(root, "file.txt"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry()
	RegisterBuiltins(r, root, nil)

	results := r.Execute(context.Background(), []Call{{
		ID: "c1", Name: "read_file_hunk",
		Args: map[string]any{"path": "file.txt", "start_line": float64(2), "end_line": float64(3)},
	}})
	if results[0].Error != "" {
		t.Fatalf("error = %q", results[0].Error)
	}
	if results[0].Content != "beta\ngamma" {
		t.Errorf("content = %q", results[0].Content)
	}

	numbered := r.Execute(context.Background(), []Call{{
		ID: "c2", Name: "read_file_hunk",
		Args: map[string]any{"path": "file.txt", "start_line": float64(1), "end_line": float64(2), "numbered": true},
	}})
	if !strings.Contains(numbered[0].Content, "    1  alpha") {
		t.Errorf("numbered content = %q", numbered[0].Content)
	}
}

func TestBuiltinRejectsTraversal(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r, t.TempDir(), nil)

	for _, path := range []string{"../etc/passwd", "/etc/passwd", "a/../../b"} {
		results := r.Execute(context.Background(), []Call{{
			ID: "c1", Name: "read_file_hunk",
			Args: map[string]any{"path": path, "start_line": float64(1), "end_line": float64(1)},
		}})
		if results[0].Error == "" {
			t.Errorf("path %q accepted, want error", path)
		}
	}
}

func TestBuiltinGetDependencies(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/x\n\ngo 1.25\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry()
	RegisterBuiltins(r, root, nil)

	results := r.Execute(context.Background(), []Call{{ID: "c1", Name: "get_dependencies"}})
	if !strings.Contains(results[0].Content, "=== go.mod ===") || !strings.Contains(results[0].Content, "module example.com/x") {
		t.Errorf("content = %q", results[0].Content)
	}
}
