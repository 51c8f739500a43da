package domain

import "time"

// Language identifies the source language of a changed file.
type Language string

const (
	LangPython  Language = "python"
	LangTS      Language = "ts"
	LangJS      Language = "js"
	LangGo      Language = "go"
	LangJava    Language = "java"
	LangRuby    Language = "ruby"
	LangC       Language = "c"
	LangCPP     Language = "cpp"
	LangRust    Language = "rust"
	LangText    Language = "text"
	LangUnknown Language = "unknown"
)

// ChangeType categorises how a unit changed. Pure deletions never become
// units, so "delete" does not appear here.
type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeModify ChangeType = "modify"
)

// RuleLevel is the context depth the rule layer may suggest. It deliberately
// excludes full_file and unknown: rules never escalate past file_context, and
// the absence of an "unknown" variant makes the default-fallback contract a
// type-level guarantee.
type RuleLevel string

const (
	RuleDiffOnly    RuleLevel = "diff_only"
	RuleFunction    RuleLevel = "function"
	RuleFileContext RuleLevel = "file_context"
)

// ContextLevel is the final context depth vocabulary used by the planner,
// fusion, and scheduler. Ordered by scope.
type ContextLevel string

const (
	LevelDiffOnly    ContextLevel = "diff_only"
	LevelFunction    ContextLevel = "function"
	LevelFileContext ContextLevel = "file_context"
	LevelFullFile    ContextLevel = "full_file"
)

// Rank returns the scope order of a context level; -1 for unrecognised input.
func (l ContextLevel) Rank() int {
	switch l {
	case LevelDiffOnly:
		return 0
	case LevelFunction:
		return 1
	case LevelFileContext:
		return 2
	case LevelFullFile:
		return 3
	}
	return -1
}

// Valid reports whether l is one of the four allowed levels.
func (l ContextLevel) Valid() bool { return l.Rank() >= 0 }

// ToContextLevel widens a rule level into the final vocabulary.
func (r RuleLevel) ToContextLevel() ContextLevel { return ContextLevel(r) }

// HunkRange is the unified-diff hunk header, both sides.
type HunkRange struct {
	OldStart int `json:"old_start"`
	OldLines int `json:"old_lines"`
	NewStart int `json:"new_start"`
	NewLines int `json:"new_lines"`
}

// LineNumbers lists the changed lines on each side, plus the canonical
// run-length encodings ("L10-12,L20").
type LineNumbers struct {
	New        []int  `json:"new"`
	Old        []int  `json:"old"`
	NewCompact string `json:"new_compact"`
	OldCompact string `json:"old_compact"`
}

// CodeSnippets carries the pre-image, post-image and surrounding context for
// one unit. ContextStart/ContextEnd are 1-based post-image line numbers.
type CodeSnippets struct {
	Before       string `json:"before"`
	After        string `json:"after"`
	Context      string `json:"context"`
	ContextStart int    `json:"context_start"`
	ContextEnd   int    `json:"context_end"`
}

// Symbol is the enclosing function or class detected for a unit.
type Symbol struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// UnitMetrics are the cheap size metrics the rule layer buckets on.
type UnitMetrics struct {
	AddedLines       int  `json:"added_lines"`
	RemovedLines     int  `json:"removed_lines"`
	HunkCount        int  `json:"hunk_count"`
	InSingleFunction bool `json:"in_single_function"`
}

// ExtraRequest asks the scheduler for additional material beyond the sliced
// context. Type is one of "callers", "previous_version", "search", or the
// rule-layer's "search_config_usage".
type ExtraRequest struct {
	Type  string `json:"type"`
	Query string `json:"query,omitempty"`
}

const (
	ExtraCallers           = "callers"
	ExtraPreviousVersion   = "previous_version"
	ExtraSearch            = "search"
	ExtraSearchConfigUsage = "search_config_usage"
)

// RuleSuggestion is the rule layer's verdict for one unit.
type RuleSuggestion struct {
	ContextLevel  RuleLevel      `json:"context_level"`
	Confidence    float64        `json:"confidence"`
	Notes         string         `json:"notes"`
	ExtraRequests []ExtraRequest `json:"extra_requests,omitempty"`
}

// ReviewUnit is the atom of review: one contiguous hunk (or a merged block of
// nearby hunks) within one file, plus everything derived from it.
type ReviewUnit struct {
	UnitID               string       `json:"unit_id"`
	FilePath             string       `json:"file_path"`
	Language             Language     `json:"language"`
	ChangeType           ChangeType   `json:"change_type"`
	HunkRange            HunkRange    `json:"hunk_range"`
	LineNumbers          LineNumbers  `json:"line_numbers"`
	UnifiedDiff          string       `json:"unified_diff"`
	UnifiedDiffWithLines string       `json:"unified_diff_with_lines"`
	Snippets             CodeSnippets `json:"code_snippets"`
	Tags                 []string     `json:"tags"`
	Symbol               *Symbol      `json:"symbol,omitempty"`
	Metrics              UnitMetrics  `json:"metrics"`

	// Rule-layer additions, populated after collection.
	Rule *RuleSuggestion `json:"rule,omitempty"`
}

// AddTag appends a tag, preserving first-occurrence order.
func (u *ReviewUnit) AddTag(tag string) {
	for _, t := range u.Tags {
		if t == tag {
			return
		}
	}
	u.Tags = append(u.Tags, tag)
}

// HasTag reports whether the unit carries the tag.
func (u *ReviewUnit) HasTag(tag string) bool {
	for _, t := range u.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Location renders a human hint like "auth.py:L10-12" for events and bundle
// headers.
func (u *ReviewUnit) Location() string {
	if u.LineNumbers.NewCompact != "" {
		return u.FilePath + ":" + u.LineNumbers.NewCompact
	}
	return u.FilePath + ":" + u.LineNumbers.OldCompact
}

// Unit tags. The set is open; these are the kinds the collector emits.
const (
	TagOnlyImports       = "only_imports"
	TagOnlyComments      = "only_comments"
	TagOnlyLogging       = "only_logging"
	TagDocFile           = "doc_file"
	TagConfigFile        = "config_file"
	TagRoutingFile       = "routing_file"
	TagSecuritySensitive = "security_sensitive"
	TagTestFile          = "test_file"
	TagInSingleFunction  = "in_single_function"
	TagCompleteFunction  = "complete_function"
	TagCompleteClass     = "complete_class"
	TagClusteredChanges  = "clustered_changes"
	TagMergedBlock       = "merged_block"
)

// HighRiskTags are the tags that veto skip_review during fusion.
var HighRiskTags = []string{TagSecuritySensitive, TagConfigFile, TagRoutingFile}

// HasHighRiskTag reports whether any high-risk tag is present.
func (u *ReviewUnit) HasHighRiskTag() bool {
	for _, t := range HighRiskTags {
		if u.HasTag(t) {
			return true
		}
	}
	return false
}

// ReviewMetadata identifies one review session.
type ReviewMetadata struct {
	TraceID     string    `json:"trace_id"`
	ProjectRoot string    `json:"project_root"`
	DiffMode    string    `json:"diff_mode"`
	CreatedAt   time.Time `json:"created_at"`
}

// IndexSummary is the headline numbers of a session's diff.
type IndexSummary struct {
	ChangesByType map[string]int `json:"changes_by_type"`
	TotalLines    int            `json:"total_lines"`
	FilesChanged  int            `json:"files_changed"`
}

// UnitSummary is the metadata-only projection of a unit fed to the planner.
// No diff bodies.
type UnitSummary struct {
	UnitID           string      `json:"unit_id"`
	FilePath         string      `json:"file_path"`
	Language         Language    `json:"language"`
	ChangeType       ChangeType  `json:"change_type"`
	HunkRange        HunkRange   `json:"hunk_range"`
	NewCompact       string      `json:"new_compact"`
	OldCompact       string      `json:"old_compact"`
	Tags             []string    `json:"tags"`
	SymbolName       string      `json:"symbol_name,omitempty"`
	Metrics          UnitMetrics `json:"metrics"`
	RuleContextLevel RuleLevel   `json:"rule_context_level,omitempty"`
	RuleConfidence   float64     `json:"rule_confidence,omitempty"`
	RuleNotes        string      `json:"rule_notes,omitempty"`
}

// FileSummary summarises one changed file.
type FileSummary struct {
	Path         string   `json:"path"`
	Language     Language `json:"language"`
	Units        int      `json:"units"`
	AddedLines   int      `json:"added_lines"`
	RemovedLines int      `json:"removed_lines"`
}

// ReviewIndex is the derived per-session document.
type ReviewIndex struct {
	ReviewMetadata ReviewMetadata `json:"review_metadata"`
	Summary        IndexSummary   `json:"summary"`
	Units          []UnitSummary  `json:"units"`
	Files          []FileSummary  `json:"files"`
}

// ContextPlanItem is one planner (or fused) decision for a unit.
// LLMContextLevel empty means the planner expressed no preference.
type ContextPlanItem struct {
	UnitID          string         `json:"unit_id"`
	LLMContextLevel ContextLevel   `json:"llm_context_level,omitempty"`
	ExtraRequests   []ExtraRequest `json:"extra_requests,omitempty"`
	SkipReview      bool           `json:"skip_review,omitempty"`
	Reason          string         `json:"reason,omitempty"`
}

// PlanResult is the planner's validated output. Error is set when the call
// degraded (invalid JSON, timeout); the pipeline continues with the empty plan.
type PlanResult struct {
	Plan  []ContextPlanItem `json:"plan"`
	Error string            `json:"error,omitempty"`
}

// FusedPlanItem is the fusion output for one unit.
type FusedPlanItem struct {
	UnitID            string         `json:"unit_id"`
	FinalContextLevel ContextLevel   `json:"final_context_level"`
	ExtraRequests     []ExtraRequest `json:"extra_requests,omitempty"`
	SkipReview        bool           `json:"skip_review"`
	Reason            string         `json:"reason,omitempty"`
}

// BundleMeta is the unit metadata echoed into each bundle entry.
type BundleMeta struct {
	FilePath    string      `json:"file_path"`
	Tags        []string    `json:"tags"`
	HunkRange   HunkRange   `json:"hunk_range"`
	LineNumbers LineNumbers `json:"line_numbers"`
	Location    string      `json:"location"`
}

// CallerHit is one call-site found by an extra-request search.
type CallerHit struct {
	FilePath string `json:"file_path"`
	Line     int    `json:"line"`
	Snippet  string `json:"snippet"`
}

// ContextBundleEntry is the per-unit payload delivered to the reviewer.
type ContextBundleEntry struct {
	UnitID            string         `json:"unit_id"`
	Meta              BundleMeta     `json:"meta"`
	FinalContextLevel ContextLevel   `json:"final_context_level"`
	ExtraRequests     []ExtraRequest `json:"extra_requests,omitempty"`
	Diff              string         `json:"diff"`
	FunctionContext   string         `json:"function_context,omitempty"`
	FileContext       string         `json:"file_context,omitempty"`
	FullFile          string         `json:"full_file,omitempty"`
	PreviousVersion   string         `json:"previous_version,omitempty"`
	Callers           []CallerHit    `json:"callers,omitempty"`
}

// IntentCache is the persisted project summary.
type IntentCache struct {
	ProjectName string    `json:"project_name"`
	ProjectRoot string    `json:"project_root"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Source      string    `json:"source"` // agent, manual
}

// Message is one prior conversation turn supplied by the caller.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Diff modes.
const (
	DiffModeWorking = "working"
	DiffModeStaged  = "staged"
	DiffModePR      = "pr"
	DiffModeCommit  = "commit"
	DiffModeAuto    = "auto"
)

// Agent names for ReviewRequest.Agents.
const (
	AgentIntent   = "intent"
	AgentPlanner  = "planner"
	AgentReviewer = "reviewer"
)

// ReviewRequest is the language-neutral input record for one review session.
// The stream callback and tool approver travel separately as function values.
type ReviewRequest struct {
	Prompt               string    `json:"prompt"`
	LLMPreference        string    `json:"llm_preference,omitempty"` // "auto" | "<provider>" | "<provider>:<model>"
	PlannerLLMPreference string    `json:"planner_llm_preference,omitempty"`
	ToolNames            []string  `json:"tool_names,omitempty"`
	AutoApprove          bool      `json:"auto_approve,omitempty"`
	ProjectRoot          string    `json:"project_root,omitempty"`
	SessionID            string    `json:"session_id,omitempty"`
	DiffMode             string    `json:"diff_mode,omitempty"`
	CommitFrom           string    `json:"commit_from,omitempty"`
	CommitTo             string    `json:"commit_to,omitempty"`
	MessageHistory       []Message `json:"message_history,omitempty"`
	Agents               []string  `json:"agents,omitempty"`
	EnableStaticScan     bool      `json:"enable_static_scan,omitempty"`
}

// WantsAgent reports whether the request enables the named agent.
// An empty Agents list enables all of them.
func (r *ReviewRequest) WantsAgent(name string) bool {
	if len(r.Agents) == 0 {
		return true
	}
	for _, a := range r.Agents {
		if a == name {
			return true
		}
	}
	return false
}
