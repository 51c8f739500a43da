// Package sched turns the fused plan into a ContextBundle by actually reading
// the working tree. Slicing windows, extra-request handling and the per-field
// character budget live here; everything upstream only decided WHAT to read.
package sched

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"code-review-pipeline/internal/config"
	"code-review-pipeline/internal/diff"
	"code-review-pipeline/internal/domain"
	"code-review-pipeline/internal/events"
	"code-review-pipeline/internal/fallback"
	"code-review-pipeline/internal/gitcli"
)

// TruncatedMarker separates the head/changed-region/tail segments of an
// oversized full_file slice. A truncated field carries exactly three.
const TruncatedMarker = "…TRUNCATED…"

// Scheduler assembles context bundles for one session. File reads are cached
// for the lifetime of the scheduler, so build one per session.
type Scheduler struct {
	Root string
	Cfg  config.SchedulerConfig

	// Git serves previous_version requests; nil degrades them to a
	// fallback record.
	Git *gitcli.Client

	Bus *events.Bus

	// RipgrepBin is the ripgrep binary name, overridable in tests.
	RipgrepBin string

	fileCache map[string][]string
	rgChecked bool
	rgMissing bool
}

// New creates a Scheduler with defaulted windows and budgets.
func New(root string, cfg config.SchedulerConfig, git *gitcli.Client, bus *events.Bus) *Scheduler {
	if cfg.FunctionWindow <= 0 {
		cfg.FunctionWindow = 30
	}
	if cfg.FileContextWindow <= 0 {
		cfg.FileContextWindow = 20
	}
	if cfg.FullFileMaxLines <= 0 {
		cfg.FullFileMaxLines = 300
	}
	if cfg.CallersMaxHits <= 0 {
		cfg.CallersMaxHits = 5
	}
	if cfg.MaxCharsPerField <= 0 {
		cfg.MaxCharsPerField = 8000
	}
	return &Scheduler{
		Root:       root,
		Cfg:        cfg,
		Git:        git,
		Bus:        bus,
		RipgrepBin: "rg",
		fileCache:  make(map[string][]string),
	}
}

// Build produces one bundle entry per non-skipped plan item, preserving plan
// order. A bundle_item event is emitted as each entry completes.
func (s *Scheduler) Build(ctx context.Context, units []*domain.ReviewUnit, plan []domain.FusedPlanItem) []domain.ContextBundleEntry {
	byID := make(map[string]*domain.ReviewUnit, len(units))
	for _, u := range units {
		byID[u.UnitID] = u
	}

	var bundle []domain.ContextBundleEntry
	for _, item := range plan {
		if item.SkipReview {
			continue
		}
		u, ok := byID[item.UnitID]
		if !ok {
			continue
		}
		entry := s.buildEntry(ctx, u, item)
		s.Bus.Emit(events.BundleItem(u.UnitID, string(entry.FinalContextLevel), u.Location()))
		bundle = append(bundle, entry)
	}
	return bundle
}

func (s *Scheduler) buildEntry(ctx context.Context, u *domain.ReviewUnit, item domain.FusedPlanItem) domain.ContextBundleEntry {
	entry := domain.ContextBundleEntry{
		UnitID:            u.UnitID,
		FinalContextLevel: item.FinalContextLevel,
		ExtraRequests:     item.ExtraRequests,
		Meta: domain.BundleMeta{
			FilePath:    u.FilePath,
			Tags:        u.Tags,
			HunkRange:   u.HunkRange,
			LineNumbers: u.LineNumbers,
			Location:    u.Location(),
		},
	}

	entry.Diff = "@@ " + u.Location() + " @@\n" + pickDiff(u)

	first, last := changedRange(u)
	lines := s.readFile(u.FilePath)

	switch item.FinalContextLevel {
	case domain.LevelFunction:
		entry.FunctionContext = s.functionContext(u, lines, first, last)
	case domain.LevelFileContext:
		entry.FileContext = numberedSlice(lines, first-s.Cfg.FileContextWindow, last+s.Cfg.FileContextWindow)
	case domain.LevelFullFile:
		entry.FullFile = s.fullFile(u, lines, first, last)
	}

	entry.Callers = s.resolveExtras(ctx, u, item.ExtraRequests, &entry)

	budget := s.Cfg.MaxCharsPerField
	entry.Diff = clampField(entry.Diff, budget)
	entry.FunctionContext = clampField(entry.FunctionContext, budget)
	entry.FileContext = clampField(entry.FileContext, budget)
	entry.FullFile = clampField(entry.FullFile, budget)
	entry.PreviousVersion = clampField(entry.PreviousVersion, budget)
	return entry
}

func pickDiff(u *domain.ReviewUnit) string {
	if u.UnifiedDiffWithLines != "" {
		return u.UnifiedDiffWithLines
	}
	return u.UnifiedDiff
}

// changedRange returns the 1-based post-image span the unit touches.
func changedRange(u *domain.ReviewUnit) (int, int) {
	if n := u.LineNumbers.New; len(n) > 0 {
		return n[0], n[len(n)-1]
	}
	start := u.HunkRange.NewStart
	return start, start + max(u.HunkRange.NewLines-1, 0)
}

// functionContext slices the smallest enclosing function or class; when no
// symbol covers the change (or the file is unreadable from the diff alone) it
// degrades to a ±FunctionWindow slice.
func (s *Scheduler) functionContext(u *domain.ReviewUnit, lines []string, first, last int) string {
	if len(lines) == 0 {
		return ""
	}
	sym := u.Symbol
	if sym == nil {
		sym = diff.EnclosingSymbol(u.Language, lines, first, last)
	}
	if sym != nil && sym.StartLine <= first && last <= sym.EndLine {
		return numberedSlice(lines, sym.StartLine, sym.EndLine)
	}
	return numberedSlice(lines, first-s.Cfg.FunctionWindow, last+s.Cfg.FunctionWindow)
}

// fullFile returns the whole file when it fits under FullFileMaxLines;
// otherwise a head/changed-region/tail digest with exactly three
// TruncatedMarker occurrences.
func (s *Scheduler) fullFile(u *domain.ReviewUnit, lines []string, first, last int) string {
	if len(lines) == 0 {
		return ""
	}
	if len(lines) <= s.Cfg.FullFileMaxLines {
		return numberedSlice(lines, 1, len(lines))
	}

	const headLines, tailLines = 50, 30
	midStart := max(first-s.Cfg.FileContextWindow, headLines+1)
	midEnd := min(last+s.Cfg.FileContextWindow, len(lines)-tailLines)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s has %d lines; showing head, changed region, tail\n", TruncatedMarker, u.FilePath, len(lines))
	sb.WriteString(numberedSlice(lines, 1, headLines))
	sb.WriteString("\n" + TruncatedMarker + "\n")
	if mid := numberedSlice(lines, midStart, midEnd); mid != "" {
		sb.WriteString(mid + "\n")
	}
	sb.WriteString(TruncatedMarker + "\n")
	sb.WriteString(numberedSlice(lines, len(lines)-tailLines+1, len(lines)))
	return sb.String()
}

// resolveExtras serves the extra requests. Caller hits from every
// search-style request land in one deduplicated, capped list.
func (s *Scheduler) resolveExtras(ctx context.Context, u *domain.ReviewUnit, extras []domain.ExtraRequest, entry *domain.ContextBundleEntry) []domain.CallerHit {
	var hits []domain.CallerHit
	seen := make(map[string]bool)

	for _, er := range extras {
		switch er.Type {
		case domain.ExtraPreviousVersion:
			entry.PreviousVersion = s.previousVersion(ctx, u)
		case domain.ExtraCallers:
			query := er.Query
			if query == "" && u.Symbol != nil {
				query = u.Symbol.Name
			}
			hits = s.appendHits(ctx, hits, seen, u, query)
		case domain.ExtraSearch, domain.ExtraSearchConfigUsage:
			hits = s.appendHits(ctx, hits, seen, u, er.Query)
		}
	}
	return hits
}

// previousVersion slices the old-side range (±FileContextWindow) out of the
// file as it was at HEAD.
func (s *Scheduler) previousVersion(ctx context.Context, u *domain.ReviewUnit) string {
	if s.Git == nil {
		fallback.Record("previous_version_unavailable", "git unavailable in this session", map[string]any{"path": u.FilePath})
		return ""
	}
	content, err := s.Git.ShowFile(ctx, "HEAD", u.FilePath)
	if err != nil {
		fallback.Record("previous_version_failed", err.Error(), map[string]any{"path": u.FilePath})
		return ""
	}
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	start := u.HunkRange.OldStart - s.Cfg.FileContextWindow
	end := u.HunkRange.OldStart + max(u.HunkRange.OldLines-1, 0) + s.Cfg.FileContextWindow
	return numberedSlice(lines, start, end)
}

func (s *Scheduler) appendHits(ctx context.Context, hits []domain.CallerHit, seen map[string]bool, u *domain.ReviewUnit, query string) []domain.CallerHit {
	if query == "" || len(hits) >= s.Cfg.CallersMaxHits {
		return hits
	}
	for _, hit := range s.ripgrep(ctx, query) {
		snippet := s.snippetAround(hit.path, hit.line, hit.text)
		key := hit.path + "\x00" + snippet
		if seen[key] {
			continue
		}
		seen[key] = true
		hits = append(hits, domain.CallerHit{FilePath: hit.path, Line: hit.line, Snippet: snippet})
		if len(hits) >= s.Cfg.CallersMaxHits {
			break
		}
	}
	return hits
}

// snippetAround returns a ±3-line numbered window from the hit's file, or the
// bare matched line when the file cannot be read.
func (s *Scheduler) snippetAround(path string, line int, matched string) string {
	lines := s.readFile(path)
	if len(lines) == 0 {
		return matched
	}
	return numberedSlice(lines, line-3, line+3)
}

type rgHit struct {
	path string
	line int
	text string
}

func (s *Scheduler) ripgrep(ctx context.Context, query string) []rgHit {
	if !s.rgAvailable() {
		fallback.Record("ripgrep_missing", "ripgrep not installed, search request skipped", map[string]any{"query": query})
		return nil
	}

	maxCount := strconv.Itoa(s.Cfg.CallersMaxHits)
	cmd := exec.CommandContext(ctx, s.RipgrepBin,
		"--line-number", "--no-heading", "--color=never", "--fixed-strings",
		"--max-count", maxCount, "--", query, ".")
	cmd.Dir = s.Root
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && ee.ExitCode() == 1 {
			return nil // no matches
		}
		fallback.Record("ripgrep_failed", err.Error(), map[string]any{"query": query})
		return nil
	}

	var hits []rgHit
	for _, raw := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) != 3 {
			continue
		}
		n, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		hits = append(hits, rgHit{
			path: strings.TrimPrefix(parts[0], "./"),
			line: n,
			text: parts[2],
		})
		if len(hits) >= s.Cfg.CallersMaxHits {
			break
		}
	}
	return hits
}

func (s *Scheduler) rgAvailable() bool {
	if !s.rgChecked {
		s.rgChecked = true
		_, err := exec.LookPath(s.RipgrepBin)
		s.rgMissing = err != nil
	}
	return !s.rgMissing
}

// readFile returns the file's lines, cached per session. A nil result means
// the file was unreadable or the path failed the whitelist.
func (s *Scheduler) readFile(path string) []string {
	if lines, ok := s.fileCache[path]; ok {
		return lines
	}
	var lines []string
	if err := gitcli.ValidatePath(path); err != nil {
		fallback.Record("file_unreadable", err.Error(), map[string]any{"path": path})
	} else if data, err := os.ReadFile(filepath.Join(s.Root, path)); err != nil {
		fallback.Record("file_unreadable", err.Error(), map[string]any{"path": path})
	} else {
		lines = strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	}
	s.fileCache[path] = lines
	return lines
}

// numberedSlice renders lines start..end (1-based inclusive, clamped) with
// the same line-number gutter the diff collector uses.
func numberedSlice(lines []string, start, end int) string {
	start = max(start, 1)
	end = min(end, len(lines))
	if start > end {
		return ""
	}
	var sb strings.Builder
	for i := start; i <= end; i++ {
		fmt.Fprintf(&sb, "%5d  %s\n", i, lines[i-1])
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// clampField enforces the character budget on one text field, keeping head
// and tail lines around a single "…" cut.
func clampField(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	const sep = "\n…\n"
	budget := maxChars - len(sep)

	lines := strings.Split(text, "\n")
	headEnd, headBytes := 0, 0
	for _, l := range lines {
		if headBytes+len(l)+1 > budget/2 {
			break
		}
		headBytes += len(l) + 1
		headEnd++
	}
	tailStart, tailBytes := len(lines), 0
	for i := len(lines) - 1; i >= headEnd; i-- {
		if tailBytes+len(lines[i])+1 > budget-headBytes {
			break
		}
		tailBytes += len(lines[i]) + 1
		tailStart = i
	}
	if headEnd == 0 && tailStart == len(lines) {
		// A single line blew the budget; hard cut.
		return strings.ToValidUTF8(text[:maxChars], "")
	}
	return strings.Join(lines[:headEnd], "\n") + sep + strings.Join(lines[tailStart:], "\n")
}
