// Package rules is the deterministic first pass over review units: a cheap
// guess of how much context the reviewer needs, so the planner has an anchor
// and the pipeline survives a planner outage. Pure functions of the unit.
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"code-review-pipeline/internal/domain"
)

// Suggestion levels never include full_file: rules cap at file_context and
// escalation past that is the planner's call.

// matchedRule is one rule hit before confidence composition.
type matchedRule struct {
	ID          string
	Level       domain.RuleLevel
	Base        float64
	Specificity float64 // rule_specificity adjuster value
	Extras      []domain.ExtraRequest
}

// pathRule matches on file path or tags.
type pathRule struct {
	ID          string
	Match       func(u *domain.ReviewUnit) bool
	Level       domain.RuleLevel
	Base        float64
	Specificity float64
	Extras      []domain.ExtraRequest
}

// symbolRule matches on the enclosing symbol's kind and name.
type symbolRule struct {
	ID      string
	Kind    string // "" matches any kind
	Pattern *regexp.Regexp
	Level   domain.RuleLevel
	Base    float64
}

// metricBuckets holds language thresholds for the size pass. Changes between
// the small and large cutoffs fall through to the keyword pass.
type metricBuckets struct {
	SmallMax int // total changed lines <= SmallMax → diff_only
	LargeMin int // total changed lines >= LargeMin → file_context
}

// codePattern scans diff content for language danger patterns. Patterns run
// after all other passes and elevate the result when they are stronger.
type codePattern struct {
	ID      string
	Pattern *regexp.Regexp
	Level   domain.RuleLevel
	Base    float64
}

// handler is the per-language rule set.
type handler struct {
	lang     domain.Language
	paths    []pathRule
	symbols  []symbolRule
	metrics  metricBuckets
	keywords []string
	patterns []codePattern
}

// Engine routes units to language handlers. Unlisted languages use the
// generic handler.
type Engine struct {
	handlers map[domain.Language]*handler
	generic  *handler
}

// NewEngine builds the registry with the built-in language tables.
func NewEngine() *Engine {
	e := &Engine{handlers: make(map[domain.Language]*handler)}
	for _, h := range languageHandlers() {
		e.handlers[h.lang] = h
	}
	e.generic = genericHandler()
	return e
}

// Apply annotates every unit with its rule suggestion in place.
func (e *Engine) Apply(units []*domain.ReviewUnit) {
	for _, u := range units {
		s := e.Suggest(u)
		u.Rule = &s
	}
}

// Suggest computes the suggestion for one unit. Deterministic: no I/O, no
// time, no randomness.
func (e *Engine) Suggest(u *domain.ReviewUnit) domain.RuleSuggestion {
	h, langSpecific := e.handlers[u.Language]
	if !langSpecific {
		h = e.generic
	}

	m := h.firstMatch(u)

	// Code patterns always run; a stronger pattern elevates the result.
	if p := h.matchPattern(u); p != nil {
		if m == nil || p.Base > m.Base {
			m = p
		}
	}

	if m == nil {
		return domain.RuleSuggestion{
			ContextLevel: domain.RuleFunction,
			Confidence:   0.35,
			Notes:        "default_fallback",
		}
	}

	conf := m.Base
	conf += adjustFileSize(u)
	conf += adjustChangeType(u)
	conf += adjustSecurity(u)
	conf += m.Specificity
	if langSpecific {
		conf += languageSpecificityBonus
	}
	conf = clamp01(conf)

	return domain.RuleSuggestion{
		ContextLevel:  m.Level,
		Confidence:    conf,
		Notes:         fmt.Sprintf("%s:%s", u.Language, m.ID),
		ExtraRequests: m.Extras,
	}
}

// Named confidence adjusters. Kept as separate functions so a suggestion can
// be audited back to its parts.

const languageSpecificityBonus = 0.05

// adjustFileSize: bigger changes benefit from more context, so a large change
// backs the matched rule a little harder.
func adjustFileSize(u *domain.ReviewUnit) float64 {
	if u.Metrics.AddedLines+u.Metrics.RemovedLines >= 50 {
		return 0.05
	}
	return 0
}

func adjustChangeType(u *domain.ReviewUnit) float64 {
	if u.ChangeType == domain.ChangeAdd {
		return 0.03
	}
	return 0
}

func adjustSecurity(u *domain.ReviewUnit) float64 {
	if u.HasTag(domain.TagSecuritySensitive) {
		return 0.10
	}
	return 0
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// firstMatch runs the path, symbol, metric and keyword passes in order and
// returns the first hit.
func (h *handler) firstMatch(u *domain.ReviewUnit) *matchedRule {
	for _, r := range h.paths {
		if r.Match(u) {
			return &matchedRule{ID: r.ID, Level: r.Level, Base: r.Base, Specificity: r.Specificity, Extras: r.Extras}
		}
	}

	if u.Symbol != nil {
		for _, r := range h.symbols {
			if r.Kind != "" && r.Kind != u.Symbol.Kind {
				continue
			}
			if r.Pattern.MatchString(u.Symbol.Name) {
				return &matchedRule{ID: r.ID, Level: r.Level, Base: r.Base, Specificity: 0.03}
			}
		}
	}

	total := u.Metrics.AddedLines + u.Metrics.RemovedLines
	if h.metrics.SmallMax > 0 && total <= h.metrics.SmallMax {
		return &matchedRule{ID: "metric_small", Level: domain.RuleDiffOnly, Base: 0.50}
	}
	if h.metrics.LargeMin > 0 && total >= h.metrics.LargeMin {
		return &matchedRule{ID: "metric_large", Level: domain.RuleFileContext, Base: 0.55}
	}

	if kw := h.matchKeyword(u); kw != "" {
		return &matchedRule{ID: "keyword_" + kw, Level: domain.RuleFunction, Base: 0.55}
	}
	return nil
}

// baseSecurityKeywords apply to every language in the keyword pass.
var baseSecurityKeywords = []string{"auth", "token", "password", "secret", "crypto", "session"}

func (h *handler) matchKeyword(u *domain.ReviewUnit) string {
	haystack := strings.ToLower(u.FilePath)
	if u.Symbol != nil {
		haystack += " " + strings.ToLower(u.Symbol.Name)
	}
	haystack += " " + strings.ToLower(strings.Join(u.Tags, " "))

	for _, kw := range h.keywords {
		if strings.Contains(haystack, kw) {
			return kw
		}
	}
	for _, kw := range baseSecurityKeywords {
		if strings.Contains(haystack, kw) {
			return kw
		}
	}
	return ""
}

func (h *handler) matchPattern(u *domain.ReviewUnit) *matchedRule {
	if len(h.patterns) == 0 {
		return nil
	}
	content := u.Snippets.After
	if content == "" {
		content = u.UnifiedDiff
	}
	var best *matchedRule
	for _, p := range h.patterns {
		if !p.Pattern.MatchString(content) {
			continue
		}
		if best == nil || p.Base > best.Base {
			best = &matchedRule{ID: "pattern_" + p.ID, Level: p.Level, Base: p.Base, Specificity: 0.05}
		}
	}
	return best
}
