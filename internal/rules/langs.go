package rules

import (
	"regexp"
	"strings"

	"code-review-pipeline/internal/domain"
)

// sharedPathRules are the path and content-tag rules every handler starts
// with, ordered most-specific first.
func sharedPathRules() []pathRule {
	hasTag := func(tag string) func(*domain.ReviewUnit) bool {
		return func(u *domain.ReviewUnit) bool { return u.HasTag(tag) }
	}
	pathContains := func(subs ...string) func(*domain.ReviewUnit) bool {
		return func(u *domain.ReviewUnit) bool {
			lower := strings.ToLower(u.FilePath)
			for _, s := range subs {
				if strings.Contains(lower, s) {
					return true
				}
			}
			return false
		}
	}

	return []pathRule{
		{ID: "only_comments", Match: hasTag(domain.TagOnlyComments), Level: domain.RuleDiffOnly, Base: 0.85, Specificity: 0.05},
		{ID: "only_imports", Match: hasTag(domain.TagOnlyImports), Level: domain.RuleDiffOnly, Base: 0.80, Specificity: 0.05},
		{ID: "only_logging", Match: hasTag(domain.TagOnlyLogging), Level: domain.RuleDiffOnly, Base: 0.75, Specificity: 0.05},
		{ID: "doc_file", Match: hasTag(domain.TagDocFile), Level: domain.RuleDiffOnly, Base: 0.85, Specificity: 0.05},
		{
			ID: "config_file", Match: hasTag(domain.TagConfigFile),
			Level: domain.RuleFunction, Base: 0.72, Specificity: 0.05,
			Extras: []domain.ExtraRequest{{Type: domain.ExtraSearchConfigUsage}},
		},
		{ID: "routing_file", Match: hasTag(domain.TagRoutingFile), Level: domain.RuleFileContext, Base: 0.70, Specificity: 0.05},
		{ID: "migration", Match: pathContains("/migrations/", "/migrate/"), Level: domain.RuleFileContext, Base: 0.75, Specificity: 0.05},
		{ID: "test_file", Match: hasTag(domain.TagTestFile), Level: domain.RuleDiffOnly, Base: 0.65, Specificity: 0.03},
		{ID: "api_dir", Match: pathContains("/api/", "/controllers/", "/handlers/", "/views/"), Level: domain.RuleFileContext, Base: 0.62, Specificity: 0.03},
	}
}

func sharedSymbolRules() []symbolRule {
	return []symbolRule{
		{ID: "symbol_test", Pattern: regexp.MustCompile(`^(Test|test_|it_|spec_)`), Level: domain.RuleDiffOnly, Base: 0.65},
		{ID: "symbol_entrypoint", Pattern: regexp.MustCompile(`^(main|init|__init__|setup)$`), Level: domain.RuleFunction, Base: 0.68},
		{ID: "symbol_controller", Kind: "class", Pattern: regexp.MustCompile(`(Controller|Handler|Service|Middleware)$`), Level: domain.RuleFileContext, Base: 0.62},
	}
}

func languageHandlers() []*handler {
	return []*handler{
		{
			lang:     domain.LangGo,
			paths:    sharedPathRules(),
			symbols:  sharedSymbolRules(),
			metrics:  metricBuckets{SmallMax: 5, LargeMin: 80},
			keywords: []string{"handler", "middleware", "grpc", "rpc"},
			patterns: []codePattern{
				{ID: "goroutine", Pattern: regexp.MustCompile(`(?m)^\s*go\s+\w|\bgo\s+func\b`), Level: domain.RuleFunction, Base: 0.85},
				{ID: "channel", Pattern: regexp.MustCompile(`\bchan\b|<-`), Level: domain.RuleFunction, Base: 0.78},
				{ID: "mutex", Pattern: regexp.MustCompile(`sync\.(Mutex|RWMutex|WaitGroup)|\.Lock\(\)`), Level: domain.RuleFunction, Base: 0.78},
				{ID: "unsafe", Pattern: regexp.MustCompile(`\bunsafe\.`), Level: domain.RuleFileContext, Base: 0.88},
			},
		},
		{
			lang:     domain.LangPython,
			paths:    sharedPathRules(),
			symbols:  sharedSymbolRules(),
			metrics:  metricBuckets{SmallMax: 5, LargeMin: 60},
			keywords: []string{"model", "serializer", "celery", "task"},
			patterns: []codePattern{
				{ID: "exec", Pattern: regexp.MustCompile(`\beval\(|\bexec\(|os\.system\(|subprocess\.`), Level: domain.RuleFileContext, Base: 0.90},
				{ID: "route_decorator", Pattern: regexp.MustCompile(`@(app|router|blueprint)\.(route|get|post|put|delete)`), Level: domain.RuleFileContext, Base: 0.80},
				{ID: "orm_raw", Pattern: regexp.MustCompile(`\.raw\(|execute\(`), Level: domain.RuleFunction, Base: 0.75},
			},
		},
		{
			lang:     domain.LangJava,
			paths:    sharedPathRules(),
			symbols:  sharedSymbolRules(),
			metrics:  metricBuckets{SmallMax: 8, LargeMin: 100},
			keywords: []string{"repository", "entity", "dto", "servlet"},
			patterns: []codePattern{
				{ID: "spring_annotation", Pattern: regexp.MustCompile(`@(RestController|Controller|Service|Autowired|Transactional|RequestMapping)`), Level: domain.RuleFileContext, Base: 0.80},
				{ID: "thread", Pattern: regexp.MustCompile(`new Thread\(|synchronized\s*\(|ExecutorService`), Level: domain.RuleFunction, Base: 0.80},
			},
		},
		{
			lang:     domain.LangJS,
			paths:    sharedPathRules(),
			symbols:  sharedSymbolRules(),
			metrics:  metricBuckets{SmallMax: 5, LargeMin: 80},
			keywords: []string{"component", "reducer", "store", "hook"},
			patterns: jsPatterns(),
		},
		{
			lang:     domain.LangTS,
			paths:    sharedPathRules(),
			symbols:  sharedSymbolRules(),
			metrics:  metricBuckets{SmallMax: 5, LargeMin: 80},
			keywords: []string{"component", "reducer", "store", "hook"},
			patterns: jsPatterns(),
		},
		{
			lang:     domain.LangRuby,
			paths:    sharedPathRules(),
			symbols:  sharedSymbolRules(),
			metrics:  metricBuckets{SmallMax: 5, LargeMin: 60},
			keywords: []string{"model", "concern", "job", "mailer"},
			patterns: []codePattern{
				{ID: "rails_callback", Pattern: regexp.MustCompile(`\b(before_action|after_action|before_save|after_save|before_validation)\b`), Level: domain.RuleFunction, Base: 0.78},
				{ID: "exec", Pattern: regexp.MustCompile("`.+`|system\\(|%x\\("), Level: domain.RuleFileContext, Base: 0.88},
			},
		},
		{
			lang:    domain.LangRust,
			paths:   sharedPathRules(),
			symbols: sharedSymbolRules(),
			metrics: metricBuckets{SmallMax: 5, LargeMin: 80},
			patterns: []codePattern{
				{ID: "unsafe", Pattern: regexp.MustCompile(`\bunsafe\b`), Level: domain.RuleFileContext, Base: 0.90},
				{ID: "spawn", Pattern: regexp.MustCompile(`thread::spawn|tokio::spawn`), Level: domain.RuleFunction, Base: 0.80},
			},
		},
	}
}

func jsPatterns() []codePattern {
	return []codePattern{
		{ID: "dangerous_html", Pattern: regexp.MustCompile(`dangerouslySetInnerHTML|innerHTML\s*=`), Level: domain.RuleFileContext, Base: 0.90},
		{ID: "react_hook", Pattern: regexp.MustCompile(`\buse(State|Effect|Memo|Callback|Reducer)\(`), Level: domain.RuleFunction, Base: 0.72},
		{ID: "eval", Pattern: regexp.MustCompile(`\beval\(|new Function\(`), Level: domain.RuleFileContext, Base: 0.92},
	}
}

// genericHandler serves languages without a dedicated table. No keyword list
// of its own; the base security keywords still apply.
func genericHandler() *handler {
	return &handler{
		lang:    domain.LangUnknown,
		paths:   sharedPathRules(),
		symbols: sharedSymbolRules(),
		metrics: metricBuckets{SmallMax: 5, LargeMin: 100},
	}
}
