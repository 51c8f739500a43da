package diff

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"code-review-pipeline/internal/config"
	"code-review-pipeline/internal/domain"
	"code-review-pipeline/internal/fallback"
)

// Collector turns parsed file patches into ReviewUnits.
type Collector struct {
	Root string
	Cfg  config.CollectorConfig

	// fileCache avoids re-reading a file for every hunk and again during
	// hunk merging.
	fileCache map[string][]string
}

// NewCollector creates a collector rooted at the given project directory.
// Zero thresholds take the standard defaults.
func NewCollector(root string, cfg config.CollectorConfig) *Collector {
	if cfg.MergeGap <= 0 {
		cfg.MergeGap = 20
	}
	if cfg.ClusterGap <= 0 {
		cfg.ClusterGap = 10
	}
	if cfg.DocDiffLines <= 0 {
		cfg.DocDiffLines = 60
	}
	if cfg.DocContextLines <= 0 {
		cfg.DocContextLines = 50
	}
	return &Collector{Root: root, Cfg: cfg, fileCache: make(map[string][]string)}
}

// Collect builds one ReviewUnit per hunk (merged afterwards per file), in
// file_path then new_start order. Pure deletions and binary files are
// skipped; a skipped file leaves a fallback record but never fails the run.
func (c *Collector) Collect(patches []FilePatch) []*domain.ReviewUnit {
	var units []*domain.ReviewUnit
	seq := 0

	for _, p := range patches {
		if p.IsDelete {
			continue
		}
		if p.IsBinary {
			fallback.Record("binary_file_skipped", "binary file skipped", map[string]any{"file": p.NewPath})
			continue
		}
		if len(p.Hunks) == 0 {
			continue
		}

		fileLines, readable := c.readPostImage(p.NewPath)
		if !readable {
			continue
		}

		lang := domain.LanguageForPath(p.NewPath)
		docLight := domain.IsDocPath(p.NewPath)
		var blocks []symbolBlock
		if !docLight {
			blocks = scanSymbols(lang, fileLines)
		}

		fileUnits := make([]*domain.ReviewUnit, 0, len(p.Hunks))
		for _, h := range p.Hunks {
			seq++
			u := c.buildUnit(fmt.Sprintf("u%d", seq), p, h, lang, fileLines, blocks, docLight)
			fileUnits = append(fileUnits, u)
		}

		fileUnits = c.mergeNearby(fileUnits, fileLines, blocks)
		units = append(units, fileUnits...)
	}
	return units
}

// readPostImage reads a file relative to the collector root, splits it into
// lines, and caches the result. Binary content (NUL in the first 4 KiB) and
// unreadable files record a fallback and return readable=false. Invalid
// UTF-8 is replaced rune-by-rune rather than rejected.
func (c *Collector) readPostImage(relPath string) ([]string, bool) {
	if cached, ok := c.fileCache[relPath]; ok {
		return cached, cached != nil
	}

	data, err := os.ReadFile(filepath.Join(c.Root, relPath))
	if err != nil {
		fallback.Record("file_unreadable", "post-image file unreadable", map[string]any{"file": relPath, "error": err.Error()})
		c.fileCache[relPath] = nil
		return nil, false
	}

	probe := data
	if len(probe) > 4096 {
		probe = probe[:4096]
	}
	if bytes.IndexByte(probe, 0) >= 0 {
		fallback.Record("binary_file_skipped", "binary file skipped", map[string]any{"file": relPath})
		c.fileCache[relPath] = nil
		return nil, false
	}

	if !utf8.Valid(data) {
		fallback.Record("utf8_lossy", "invalid UTF-8 replaced", map[string]any{"file": relPath})
		data = bytes.ToValidUTF8(data, []byte("�"))
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	c.fileCache[relPath] = lines
	return lines, true
}

func (c *Collector) buildUnit(id string, p FilePatch, h Hunk, lang domain.Language, fileLines []string, blocks []symbolBlock, docLight bool) *domain.ReviewUnit {
	u := &domain.ReviewUnit{
		UnitID:   id,
		FilePath: p.NewPath,
		Language: lang,
		HunkRange: domain.HunkRange{
			OldStart: h.OldStart,
			OldLines: h.OldLines,
			NewStart: h.NewStart,
			NewLines: h.NewLines,
		},
	}
	if p.IsNew {
		u.ChangeType = domain.ChangeAdd
	} else {
		u.ChangeType = domain.ChangeModify
	}

	before, after, newLines, oldLines := splitHunk(h)
	u.Snippets.Before = before
	u.Snippets.After = after
	u.LineNumbers = domain.LineNumbers{
		New:        newLines,
		Old:        oldLines,
		NewCompact: domain.EncodeCompact(newLines),
		OldCompact: domain.EncodeCompact(oldLines),
	}
	u.Metrics = domain.UnitMetrics{
		AddedLines:   len(newLines),
		RemovedLines: len(oldLines),
		HunkCount:    1,
	}

	u.UnifiedDiff = renderUnified(h)
	u.UnifiedDiffWithLines = renderNumbered(h)
	if docLight {
		u.UnifiedDiff = truncateLines(u.UnifiedDiff, c.Cfg.DocDiffLines)
		u.UnifiedDiffWithLines = truncateLines(u.UnifiedDiffWithLines, c.Cfg.DocDiffLines)
	}

	// Tags: path first, then content, then scope.
	for _, t := range pathTags(p.NewPath) {
		u.AddTag(t)
	}
	for _, t := range contentTags(lang, changedLines(h)) {
		u.AddTag(t)
	}

	ctxStart, ctxEnd := c.expandContext(u, h, fileLines, blocks)
	if docLight && ctxEnd-ctxStart+1 > c.Cfg.DocContextLines {
		ctxEnd = ctxStart + c.Cfg.DocContextLines - 1
	}
	u.Snippets.ContextStart = ctxStart
	u.Snippets.ContextEnd = ctxEnd
	u.Snippets.Context = sliceLines(fileLines, ctxStart, ctxEnd)

	if sym := smallestEnclosing(blocks, firstChangedLine(u, h), lastChangedLine(u, h)); sym != nil {
		u.Symbol = sym.toSymbol()
		u.Metrics.InSingleFunction = sym.Kind == "function"
		if u.Metrics.InSingleFunction {
			u.AddTag(domain.TagInSingleFunction)
		}
	}
	return u
}

// expandContext decides the context window for a unit. Clustered changes
// (max gap between changed lines within the cluster threshold) pull the span
// to cover all of them; an enclosing function/class expands to the whole
// node; a short enclosing node (<15 lines) does the same even when the
// changes sit at its edge.
func (c *Collector) expandContext(u *domain.ReviewUnit, h Hunk, fileLines []string, blocks []symbolBlock) (int, int) {
	start := h.NewStart
	end := h.NewStart + max(h.NewLines, 1) - 1

	changed := u.LineNumbers.New
	if len(changed) > 1 {
		clustered := true
		for i := 1; i < len(changed); i++ {
			if changed[i]-changed[i-1] > c.Cfg.ClusterGap {
				clustered = false
				break
			}
		}
		if clustered {
			u.AddTag(domain.TagClusteredChanges)
			if changed[0] < start {
				start = changed[0]
			}
			if changed[len(changed)-1] > end {
				end = changed[len(changed)-1]
			}
		}
	}

	if b := smallestEnclosing(blocks, firstChangedLine(u, h), lastChangedLine(u, h)); b != nil {
		nodeLen := b.End - b.Start + 1
		if b.Kind == "function" || b.Kind == "class" || nodeLen < 15 {
			start = b.Start
			end = b.End
			switch b.Kind {
			case "function":
				u.AddTag(domain.TagCompleteFunction)
			case "class":
				u.AddTag(domain.TagCompleteClass)
			}
		}
	}

	if start < 1 {
		start = 1
	}
	if end > len(fileLines) {
		end = len(fileLines)
	}
	if end < start {
		end = start
	}
	return start, end
}

func firstChangedLine(u *domain.ReviewUnit, h Hunk) int {
	if len(u.LineNumbers.New) > 0 {
		return u.LineNumbers.New[0]
	}
	return h.NewStart
}

func lastChangedLine(u *domain.ReviewUnit, h Hunk) int {
	if n := len(u.LineNumbers.New); n > 0 {
		return u.LineNumbers.New[n-1]
	}
	return h.NewStart + max(h.NewLines, 1) - 1
}

// splitHunk walks the hunk body tracking both line counters and returns the
// pre-image text, post-image text, and the changed line numbers per side.
func splitHunk(h Hunk) (before, after string, newLines, oldLines []int) {
	var beforeSB, afterSB strings.Builder
	oldNo, newNo := h.OldStart, h.NewStart
	for _, line := range h.Lines {
		if len(line) == 0 {
			continue
		}
		body := line[1:]
		switch line[0] {
		case ' ':
			beforeSB.WriteString(body)
			beforeSB.WriteByte('\n')
			afterSB.WriteString(body)
			afterSB.WriteByte('\n')
			oldNo++
			newNo++
		case '-':
			beforeSB.WriteString(body)
			beforeSB.WriteByte('\n')
			oldLines = append(oldLines, oldNo)
			oldNo++
		case '+':
			afterSB.WriteString(body)
			afterSB.WriteByte('\n')
			newLines = append(newLines, newNo)
			newNo++
		}
	}
	return strings.TrimSuffix(beforeSB.String(), "\n"), strings.TrimSuffix(afterSB.String(), "\n"), newLines, oldLines
}

func renderUnified(h Hunk) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldLines, h.NewStart, h.NewLines)
	sb.WriteString(strings.Join(h.Lines, "\n"))
	return sb.String()
}

// renderNumbered prefixes each diff line with its post-image (or pre-image
// for removals) line number, which the reviewer uses to cite locations.
func renderNumbered(h Hunk) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldLines, h.NewStart, h.NewLines)
	oldNo, newNo := h.OldStart, h.NewStart
	for _, line := range h.Lines {
		if len(line) == 0 {
			continue
		}
		switch line[0] {
		case ' ':
			fmt.Fprintf(&sb, "%5d  %s\n", newNo, line)
			oldNo++
			newNo++
		case '-':
			fmt.Fprintf(&sb, "%5d  %s\n", oldNo, line)
			oldNo++
		case '+':
			fmt.Fprintf(&sb, "%5d  %s\n", newNo, line)
			newNo++
		}
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// sliceLines returns lines start..end (1-based inclusive) joined by newlines.
func sliceLines(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end || start > len(lines) {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

func truncateLines(text string, n int) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= n {
		return text
	}
	return strings.Join(lines[:n], "\n") + "\n…"
}
