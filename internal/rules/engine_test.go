package rules

import (
	"reflect"
	"strings"
	"testing"

	"code-review-pipeline/internal/domain"
)

func unit(path string, lang domain.Language, tags ...string) *domain.ReviewUnit {
	return &domain.ReviewUnit{
		UnitID:     "u1",
		FilePath:   path,
		Language:   lang,
		ChangeType: domain.ChangeModify,
		Tags:       tags,
	}
}

func TestSuggestCommentOnlyChange(t *testing.T) {
	u := unit("foo.py", domain.LangPython, domain.TagOnlyComments)
	u.Metrics = domain.UnitMetrics{AddedLines: 1, RemovedLines: 1}

	s := NewEngine().Suggest(u)
	if s.ContextLevel != domain.RuleDiffOnly {
		t.Errorf("level = %s, want diff_only", s.ContextLevel)
	}
	if s.Confidence < 0.88 {
		t.Errorf("confidence = %.2f, want >= 0.88", s.Confidence)
	}
	if s.Notes != "python:only_comments" {
		t.Errorf("notes = %q", s.Notes)
	}
}

func TestSuggestConfigSecurityChange(t *testing.T) {
	u := unit("config/auth/oauth.py", domain.LangPython, domain.TagConfigFile, domain.TagSecuritySensitive)
	u.Metrics = domain.UnitMetrics{AddedLines: 2, RemovedLines: 2}

	s := NewEngine().Suggest(u)
	if s.ContextLevel != domain.RuleFunction {
		t.Errorf("level = %s, want function", s.ContextLevel)
	}
	if s.Confidence < 0.85 {
		t.Errorf("confidence = %.2f, want >= 0.85", s.Confidence)
	}
	want := []domain.ExtraRequest{{Type: domain.ExtraSearchConfigUsage}}
	if !reflect.DeepEqual(s.ExtraRequests, want) {
		t.Errorf("extras = %+v, want %+v", s.ExtraRequests, want)
	}
}

func TestSuggestGoroutinePatternElevates(t *testing.T) {
	u := unit("src/worker.go", domain.LangGo)
	u.Metrics = domain.UnitMetrics{AddedLines: 20, RemovedLines: 4}
	u.Snippets.After = "func (w *Worker) Run() {\n\tgo w.loop()\n}"

	s := NewEngine().Suggest(u)
	if s.ContextLevel != domain.RuleFunction {
		t.Errorf("level = %s, want function", s.ContextLevel)
	}
	if s.Confidence < 0.80 {
		t.Errorf("confidence = %.2f, want >= 0.80", s.Confidence)
	}
	if !strings.Contains(s.Notes, "pattern_goroutine") {
		t.Errorf("notes = %q, want goroutine pattern", s.Notes)
	}
}

func TestSuggestDefaultFallback(t *testing.T) {
	// Medium-size change, neutral path, no symbol, no tags, no patterns.
	u := unit("lib/util.c", domain.LangC)
	u.Metrics = domain.UnitMetrics{AddedLines: 15, RemovedLines: 10}
	u.Snippets.After = "int add(int a, int b) { return a + b; }"

	s := NewEngine().Suggest(u)
	if s.ContextLevel != domain.RuleFunction {
		t.Errorf("level = %s, want function", s.ContextLevel)
	}
	if s.Confidence < 0.30 || s.Confidence > 0.45 {
		t.Errorf("confidence = %.2f, want within [0.30, 0.45]", s.Confidence)
	}
	if !strings.HasSuffix(s.Notes, "default_fallback") {
		t.Errorf("notes = %q, want default_fallback", s.Notes)
	}
}

func TestSuggestMetricBuckets(t *testing.T) {
	tests := []struct {
		name      string
		added     int
		removed   int
		wantLevel domain.RuleLevel
		wantNote  string
	}{
		{"tiny change", 2, 1, domain.RuleDiffOnly, "go:metric_small"},
		{"huge change", 90, 10, domain.RuleFileContext, "go:metric_large"},
	}
	e := NewEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := unit("pkg/neutral.go", domain.LangGo)
			u.Metrics = domain.UnitMetrics{AddedLines: tt.added, RemovedLines: tt.removed}
			u.Snippets.After = "var x = 1"

			s := e.Suggest(u)
			if s.ContextLevel != tt.wantLevel {
				t.Errorf("level = %s, want %s", s.ContextLevel, tt.wantLevel)
			}
			if s.Notes != tt.wantNote {
				t.Errorf("notes = %q, want %q", s.Notes, tt.wantNote)
			}
		})
	}
}

func TestSuggestKeywordPass(t *testing.T) {
	u := unit("pkg/session_store.go", domain.LangGo)
	u.Metrics = domain.UnitMetrics{AddedLines: 12, RemovedLines: 8}
	u.Snippets.After = "var x = 1"

	s := NewEngine().Suggest(u)
	if s.ContextLevel != domain.RuleFunction {
		t.Errorf("level = %s, want function", s.ContextLevel)
	}
	if s.Notes != "go:keyword_session" {
		t.Errorf("notes = %q, want go:keyword_session", s.Notes)
	}
}

func TestSuggestDeterminism(t *testing.T) {
	u := unit("config/app.yaml", domain.LangUnknown, domain.TagConfigFile)
	u.Metrics = domain.UnitMetrics{AddedLines: 3}

	e := NewEngine()
	first := e.Suggest(u)
	for i := 0; i < 5; i++ {
		if got := e.Suggest(u); !reflect.DeepEqual(got, first) {
			t.Fatalf("suggestion drifted: %+v vs %+v", got, first)
		}
	}
}

func TestSuggestNeverUnknownLevel(t *testing.T) {
	units := []*domain.ReviewUnit{
		unit("a.go", domain.LangGo),
		unit("b.py", domain.LangPython, domain.TagTestFile),
		unit("c.bin", domain.LangUnknown),
		unit("d.md", domain.LangText, domain.TagDocFile),
	}
	e := NewEngine()
	e.Apply(units)
	for _, u := range units {
		switch u.Rule.ContextLevel {
		case domain.RuleDiffOnly, domain.RuleFunction, domain.RuleFileContext:
		default:
			t.Errorf("%s: level = %q", u.FilePath, u.Rule.ContextLevel)
		}
		if u.Rule.Confidence < 0 || u.Rule.Confidence > 1 {
			t.Errorf("%s: confidence = %.2f", u.FilePath, u.Rule.Confidence)
		}
	}
}
