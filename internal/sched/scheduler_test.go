package sched

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"code-review-pipeline/internal/config"
	"code-review-pipeline/internal/domain"
	"code-review-pipeline/internal/events"
)

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func genLines(n int) string {
	var sb strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&sb, "line %d\n", i)
	}
	return sb.String()
}

func unitAt(id, path string, lang domain.Language, newLines []int) *domain.ReviewUnit {
	first, last := newLines[0], newLines[len(newLines)-1]
	return &domain.ReviewUnit{
		UnitID:      id,
		FilePath:    path,
		Language:    lang,
		ChangeType:  domain.ChangeModify,
		HunkRange:   domain.HunkRange{OldStart: first, OldLines: last - first + 1, NewStart: first, NewLines: last - first + 1},
		LineNumbers: domain.LineNumbers{New: newLines},
		UnifiedDiff: "@@ -1,1 +1,1 @@\n+x",
	}
}

func TestBuildDiffAlwaysPresent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", genLines(10))

	u := unitAt("u1", "a.py", domain.LangPython, []int{3})
	u.LineNumbers.NewCompact = "L3"
	u.UnifiedDiffWithLines = "@@ -3,1 +3,1 @@\n    3  +x"

	s := New(root, config.SchedulerConfig{}, nil, events.NewBus(nil))
	plan := []domain.FusedPlanItem{{UnitID: "u1", FinalContextLevel: domain.LevelDiffOnly}}
	bundle := s.Build(context.Background(), []*domain.ReviewUnit{u}, plan)

	if len(bundle) != 1 {
		t.Fatalf("bundle = %d entries", len(bundle))
	}
	e := bundle[0]
	if !strings.HasPrefix(e.Diff, "@@ a.py:L3 @@\n") {
		t.Errorf("diff missing location hint: %q", e.Diff)
	}
	if !strings.Contains(e.Diff, "    3  +x") {
		t.Errorf("diff lost numbered body: %q", e.Diff)
	}
	if e.FunctionContext != "" || e.FileContext != "" || e.FullFile != "" {
		t.Errorf("diff_only entry carries extra context: %+v", e)
	}
}

func TestBuildFunctionLevelEnclosingSymbol(t *testing.T) {
	root := t.TempDir()
	src := strings.Join([]string{
		"import os",          // 1
		"",                   // 2
		"def handle(req):",   // 3
		"    a = 1",          // 4
		"    b = 2",          // 5
		"    return a + b",   // 6
		"",                   // 7
		"def other():",       // 8
		"    pass",           // 9
	}, "\n") + "\n"
	writeFile(t, root, "app.py", src)

	u := unitAt("u1", "app.py", domain.LangPython, []int{5})
	s := New(root, config.SchedulerConfig{}, nil, events.NewBus(nil))
	plan := []domain.FusedPlanItem{{UnitID: "u1", FinalContextLevel: domain.LevelFunction}}
	bundle := s.Build(context.Background(), []*domain.ReviewUnit{u}, plan)

	fc := bundle[0].FunctionContext
	if !strings.Contains(fc, "def handle(req):") || !strings.Contains(fc, "return a + b") {
		t.Errorf("function context = %q, want enclosing def", fc)
	}
	if strings.Contains(fc, "def other") || strings.Contains(fc, "import os") {
		t.Errorf("function context leaked neighbours: %q", fc)
	}
	if !strings.Contains(fc, "    3  def handle(req):") {
		t.Errorf("function context not numbered: %q", fc)
	}
}

func TestBuildFunctionLevelWindowFallback(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "notes.txt", genLines(200))

	u := unitAt("u1", "notes.txt", domain.LangText, []int{100})
	s := New(root, config.SchedulerConfig{FunctionWindow: 30}, nil, events.NewBus(nil))
	plan := []domain.FusedPlanItem{{UnitID: "u1", FinalContextLevel: domain.LevelFunction}}
	bundle := s.Build(context.Background(), []*domain.ReviewUnit{u}, plan)

	fc := bundle[0].FunctionContext
	if !strings.Contains(fc, "line 70") || !strings.Contains(fc, "line 130") {
		t.Errorf("window fallback missing edges: %q", fc)
	}
	if strings.Contains(fc, "line 69\n") || strings.Contains(fc, "line 131") {
		t.Errorf("window fallback too wide")
	}
}

func TestBuildFileContextWindow(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "big.txt", genLines(100))

	u := unitAt("u1", "big.txt", domain.LangText, []int{50})
	s := New(root, config.SchedulerConfig{FileContextWindow: 20}, nil, events.NewBus(nil))
	plan := []domain.FusedPlanItem{{UnitID: "u1", FinalContextLevel: domain.LevelFileContext}}
	bundle := s.Build(context.Background(), []*domain.ReviewUnit{u}, plan)

	fc := bundle[0].FileContext
	if !strings.Contains(fc, "line 30") || !strings.Contains(fc, "line 70") {
		t.Errorf("file context missing window edges: %q", fc)
	}
	if strings.Contains(fc, "line 29\n") || strings.Contains(fc, "line 71") {
		t.Errorf("file context too wide")
	}
}

func TestBuildFullFileSmallAndDigest(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "small.txt", genLines(100))
	writeFile(t, root, "huge.txt", genLines(400))

	s := New(root, config.SchedulerConfig{FullFileMaxLines: 300}, nil, events.NewBus(nil))

	small := unitAt("u1", "small.txt", domain.LangText, []int{10})
	huge := unitAt("u2", "huge.txt", domain.LangText, []int{200})
	plan := []domain.FusedPlanItem{
		{UnitID: "u1", FinalContextLevel: domain.LevelFullFile},
		{UnitID: "u2", FinalContextLevel: domain.LevelFullFile},
	}
	bundle := s.Build(context.Background(), []*domain.ReviewUnit{small, huge}, plan)

	if got := bundle[0].FullFile; !strings.Contains(got, "line 1") || !strings.Contains(got, "line 100") || strings.Contains(got, TruncatedMarker) {
		t.Errorf("small file should be whole and unmarked: %q", got)
	}

	digest := bundle[1].FullFile
	if n := strings.Count(digest, TruncatedMarker); n != 3 {
		t.Errorf("marker count = %d, want 3", n)
	}
	for _, want := range []string{"line 1\n", "line 50", "line 200", "line 371", "line 400"} {
		if !strings.Contains(digest, want) {
			t.Errorf("digest missing %q", want)
		}
	}
	if strings.Contains(digest, "line 100\n") {
		t.Errorf("digest includes lines outside head/region/tail")
	}
}

func TestBuildSkipsSkippedUnitsAndEmitsEvents(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", genLines(5))

	var items []events.Event
	bus := events.NewBus(func(e events.Event) {
		if e.Type() == events.TypeBundleItem {
			items = append(items, e)
		}
	})

	s := New(root, config.SchedulerConfig{}, nil, bus)
	units := []*domain.ReviewUnit{
		unitAt("u1", "a.txt", domain.LangText, []int{1}),
		unitAt("u2", "a.txt", domain.LangText, []int{3}),
	}
	plan := []domain.FusedPlanItem{
		{UnitID: "u1", FinalContextLevel: domain.LevelDiffOnly, SkipReview: true},
		{UnitID: "u2", FinalContextLevel: domain.LevelDiffOnly},
	}
	bundle := s.Build(context.Background(), units, plan)

	if len(bundle) != 1 || bundle[0].UnitID != "u2" {
		t.Errorf("bundle = %+v, want only u2", bundle)
	}
	if len(items) != 1 || items[0]["unit_id"] != "u2" {
		t.Errorf("bundle_item events = %+v", items)
	}
}

func TestBuildFieldBudget(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "big.txt", genLines(400))

	cfg := config.SchedulerConfig{MaxCharsPerField: 300}
	s := New(root, cfg, nil, events.NewBus(nil))
	u := unitAt("u1", "big.txt", domain.LangText, []int{200})
	plan := []domain.FusedPlanItem{{UnitID: "u1", FinalContextLevel: domain.LevelFullFile}}
	bundle := s.Build(context.Background(), []*domain.ReviewUnit{u}, plan)

	e := bundle[0]
	for name, field := range map[string]string{"diff": e.Diff, "full_file": e.FullFile} {
		if len(field) > 300 {
			t.Errorf("%s = %d chars, want <= 300", name, len(field))
		}
	}
	if !strings.Contains(e.FullFile, "\n…\n") {
		t.Errorf("budget cut lost head/tail separator: %q", e.FullFile)
	}
}

func TestClampField(t *testing.T) {
	long := genLines(100)
	got := clampField(long, 200)
	if len(got) > 200 {
		t.Fatalf("len = %d, want <= 200", len(got))
	}
	if !strings.HasPrefix(got, "line 1\n") {
		t.Errorf("head not preserved: %q", got)
	}
	if !strings.HasSuffix(got, "line 100\n") {
		t.Errorf("tail not preserved: %q", got)
	}

	if s := clampField("short", 200); s != "short" {
		t.Errorf("under-budget text changed: %q", s)
	}

	oneLine := strings.Repeat("x", 500)
	if s := clampField(oneLine, 100); len(s) > 100 {
		t.Errorf("single long line not cut: %d chars", len(s))
	}
}

func TestCallersViaRipgrep(t *testing.T) {
	if !New(t.TempDir(), config.SchedulerConfig{}, nil, events.NewBus(nil)).rgAvailable() {
		t.Skip("ripgrep not installed")
	}

	root := t.TempDir()
	writeFile(t, root, "a.py", "def parse_token(x):\n    return x\n")
	writeFile(t, root, "b.py", "from a import parse_token\n\nval = parse_token(raw)\n")
	writeFile(t, root, "c.py", "out = parse_token(data)\n")

	u := unitAt("u1", "a.py", domain.LangPython, []int{1, 2})
	u.Symbol = &domain.Symbol{Kind: "function", Name: "parse_token", StartLine: 1, EndLine: 2}

	s := New(root, config.SchedulerConfig{CallersMaxHits: 5}, nil, events.NewBus(nil))
	plan := []domain.FusedPlanItem{{
		UnitID:            "u1",
		FinalContextLevel: domain.LevelDiffOnly,
		ExtraRequests:     []domain.ExtraRequest{{Type: domain.ExtraCallers}},
	}}
	bundle := s.Build(context.Background(), []*domain.ReviewUnit{u}, plan)

	hits := bundle[0].Callers
	if len(hits) == 0 {
		t.Fatal("no caller hits")
	}
	if len(hits) > 5 {
		t.Errorf("hits = %d, want <= 5", len(hits))
	}
	files := map[string]bool{}
	for _, h := range hits {
		files[h.FilePath] = true
		if h.Snippet == "" {
			t.Errorf("hit %s:%d has empty snippet", h.FilePath, h.Line)
		}
	}
	if !files["b.py"] || !files["c.py"] {
		t.Errorf("hit files = %v, want b.py and c.py", files)
	}
}

func TestCallersDedupe(t *testing.T) {
	s := New(t.TempDir(), config.SchedulerConfig{CallersMaxHits: 5}, nil, events.NewBus(nil))

	seen := map[string]bool{}
	var hits []domain.CallerHit
	for range 2 {
		key := "x.py\x00snippet"
		if !seen[key] {
			seen[key] = true
			hits = append(hits, domain.CallerHit{FilePath: "x.py", Line: 1, Snippet: "snippet"})
		}
	}
	if len(hits) != 1 {
		t.Errorf("dedupe failed: %d hits", len(hits))
	}
	_ = s
}

func TestReadFileRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	s := New(root, config.SchedulerConfig{}, nil, events.NewBus(nil))

	for _, p := range []string{"../secret", "/etc/passwd", "a/../../b"} {
		if lines := s.readFile(p); lines != nil {
			t.Errorf("readFile(%q) = %v, want nil", p, lines)
		}
	}
}
