package diff

import (
	"sort"

	"code-review-pipeline/internal/domain"
)

// mergeNearby folds consecutive units of one file whose gap is within the
// merge threshold into super-units. Diffs are concatenated with a "…"
// separator and the context window is re-derived over the merged span.
// Assumes all units share a file; callers pass per-file slices.
func (c *Collector) mergeNearby(units []*domain.ReviewUnit, fileLines []string, blocks []symbolBlock) []*domain.ReviewUnit {
	if len(units) < 2 {
		return units
	}
	sort.SliceStable(units, func(i, j int) bool {
		return units[i].HunkRange.NewStart < units[j].HunkRange.NewStart
	})

	out := []*domain.ReviewUnit{units[0]}
	for _, next := range units[1:] {
		cur := out[len(out)-1]
		curEnd := cur.HunkRange.NewStart + max(cur.HunkRange.NewLines, 1) - 1
		gap := next.HunkRange.NewStart - curEnd
		if gap > c.Cfg.MergeGap {
			out = append(out, next)
			continue
		}
		mergeInto(cur, next)
		c.rederiveContext(cur, fileLines, blocks)
	}
	return out
}

// mergeInto absorbs src into dst. dst keeps its unit id and hunk-range start;
// the range, line numbers, metrics and tags become the union.
func mergeInto(dst, src *domain.ReviewUnit) {
	dst.UnifiedDiff += "\n…\n" + src.UnifiedDiff
	dst.UnifiedDiffWithLines += "\n…\n" + src.UnifiedDiffWithLines
	dst.Snippets.Before += "\n…\n" + src.Snippets.Before
	dst.Snippets.After += "\n…\n" + src.Snippets.After

	srcEnd := src.HunkRange.NewStart + max(src.HunkRange.NewLines, 1) - 1
	dstEnd := dst.HunkRange.NewStart + max(dst.HunkRange.NewLines, 1) - 1
	if srcEnd > dstEnd {
		dst.HunkRange.NewLines = srcEnd - dst.HunkRange.NewStart + 1
	}
	srcOldEnd := src.HunkRange.OldStart + max(src.HunkRange.OldLines, 1) - 1
	dstOldEnd := dst.HunkRange.OldStart + max(dst.HunkRange.OldLines, 1) - 1
	if srcOldEnd > dstOldEnd {
		dst.HunkRange.OldLines = srcOldEnd - dst.HunkRange.OldStart + 1
	}

	dst.LineNumbers.New = append(dst.LineNumbers.New, src.LineNumbers.New...)
	dst.LineNumbers.Old = append(dst.LineNumbers.Old, src.LineNumbers.Old...)
	dst.LineNumbers.NewCompact = domain.EncodeCompact(dst.LineNumbers.New)
	dst.LineNumbers.OldCompact = domain.EncodeCompact(dst.LineNumbers.Old)

	dst.Metrics.AddedLines += src.Metrics.AddedLines
	dst.Metrics.RemovedLines += src.Metrics.RemovedLines
	dst.Metrics.HunkCount += src.Metrics.HunkCount

	for _, t := range src.Tags {
		dst.AddTag(t)
	}
	dst.AddTag(domain.TagMergedBlock)

	// only_* content tags hold for the merged unit only if both sides agreed;
	// AddTag unions, so drop the ones the other side lacks.
	for _, t := range []string{domain.TagOnlyImports, domain.TagOnlyComments, domain.TagOnlyLogging} {
		if dst.HasTag(t) && !src.HasTag(t) {
			dst.Tags = removeTag(dst.Tags, t)
		}
	}
}

func removeTag(tags []string, tag string) []string {
	out := tags[:0]
	for _, t := range tags {
		if t != tag {
			out = append(out, t)
		}
	}
	return out
}

// rederiveContext recomputes the context span and enclosing symbol of a
// merged unit from the full file.
func (c *Collector) rederiveContext(u *domain.ReviewUnit, fileLines []string, blocks []symbolBlock) {
	start := u.HunkRange.NewStart
	end := u.HunkRange.NewStart + max(u.HunkRange.NewLines, 1) - 1

	if b := smallestEnclosing(blocks, start, end); b != nil {
		if b.Start < start {
			start = b.Start
		}
		if b.End > end {
			end = b.End
		}
		u.Symbol = b.toSymbol()
		u.Metrics.InSingleFunction = b.Kind == "function"
		if u.Metrics.InSingleFunction {
			u.AddTag(domain.TagInSingleFunction)
		} else {
			u.Tags = removeTag(u.Tags, domain.TagInSingleFunction)
		}
	} else {
		u.Symbol = nil
		u.Metrics.InSingleFunction = false
		u.Tags = removeTag(u.Tags, domain.TagInSingleFunction)
	}

	if start < 1 {
		start = 1
	}
	if end > len(fileLines) {
		end = len(fileLines)
	}
	u.Snippets.ContextStart = start
	u.Snippets.ContextEnd = end
	u.Snippets.Context = sliceLines(fileLines, start, end)
}
