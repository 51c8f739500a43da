package kernel

import (
	"encoding/json"
	"fmt"
	"strings"

	"code-review-pipeline/internal/domain"
)

const reviewSystemPrompt = `You are a senior code reviewer. You receive a change index and a per-unit
context bundle for one review session, plus tools to read more of the project
on demand.

Review every unit that is not marked skipped. Focus on correctness, security,
and behaviour changes; mention style only when it hides a bug. Use the tools
when the provided context is not enough to judge a change; do not guess.

Respond with a markdown report. Start with a single "# " heading that names
the change in a few words. For each finding give the file location, severity
(blocker, major, minor, nit), and a concrete explanation. Close with a short
verdict.`

// buildUserMessage assembles the reviewer's opening message: the task, the
// project intent summary when one exists, the change index, and the context
// bundle as JSON.
func buildUserMessage(prompt, intentMD string, index *domain.ReviewIndex, bundle []domain.ContextBundleEntry) string {
	var b strings.Builder

	b.WriteString("## Task\n\n")
	if strings.TrimSpace(prompt) == "" {
		b.WriteString("Review the changes below.\n")
	} else {
		b.WriteString(strings.TrimSpace(prompt))
		b.WriteString("\n")
	}

	if intentMD != "" {
		b.WriteString("\n## Project intent\n\n")
		b.WriteString(strings.TrimSpace(intentMD))
		b.WriteString("\n")
	}

	b.WriteString("\n## Change index\n\n")
	b.WriteString(indexMarkdown(index))

	b.WriteString("\n## Context bundle\n\n```json\n")
	if data, err := json.MarshalIndent(bundle, "", "  "); err == nil {
		b.Write(data)
	}
	b.WriteString("\n```\n")
	return b.String()
}

// indexMarkdown renders the session index as a compact unit list.
func indexMarkdown(index *domain.ReviewIndex) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d files changed, %d lines, %d units (mode: %s)\n\n",
		index.Summary.FilesChanged, index.Summary.TotalLines, len(index.Units),
		index.ReviewMetadata.DiffMode)
	for _, u := range index.Units {
		loc := u.NewCompact
		if loc == "" {
			loc = u.OldCompact
		}
		fmt.Fprintf(&b, "- %s: %s %s:%s", u.UnitID, u.ChangeType, u.FilePath, loc)
		if u.SymbolName != "" {
			fmt.Fprintf(&b, " in %s", u.SymbolName)
		}
		if len(u.Tags) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(u.Tags, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// planOnlyReport is the session report when the reviewer agent is disabled:
// the fused plan rendered as markdown so the caller still gets a result.
func planOnlyReport(index *domain.ReviewIndex, fused []domain.FusedPlanItem) string {
	byID := make(map[string]domain.UnitSummary, len(index.Units))
	for _, u := range index.Units {
		byID[u.UnitID] = u
	}
	var b strings.Builder
	b.WriteString("# Context plan\n\n")
	for _, f := range fused {
		u := byID[f.UnitID]
		if f.SkipReview {
			fmt.Fprintf(&b, "- %s %s: skipped (%s)\n", f.UnitID, u.FilePath, f.Reason)
			continue
		}
		fmt.Fprintf(&b, "- %s %s: %s\n", f.UnitID, u.FilePath, f.FinalContextLevel)
	}
	return b.String()
}
