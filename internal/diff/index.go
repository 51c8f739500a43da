package diff

import (
	"sort"
	"time"

	"code-review-pipeline/internal/domain"
)

// SortUnits orders units by file_path then new_start, the canonical session
// order every later stage relies on.
func SortUnits(units []*domain.ReviewUnit) {
	sort.SliceStable(units, func(i, j int) bool {
		if units[i].FilePath != units[j].FilePath {
			return units[i].FilePath < units[j].FilePath
		}
		return units[i].HunkRange.NewStart < units[j].HunkRange.NewStart
	})
}

// BuildIndex derives the per-session ReviewIndex from the collected units.
// Units must already be in canonical order.
func BuildIndex(traceID, projectRoot, diffMode string, units []*domain.ReviewUnit) *domain.ReviewIndex {
	idx := &domain.ReviewIndex{
		ReviewMetadata: domain.ReviewMetadata{
			TraceID:     traceID,
			ProjectRoot: projectRoot,
			DiffMode:    diffMode,
			CreatedAt:   time.Now().UTC(),
		},
		Summary: domain.IndexSummary{ChangesByType: make(map[string]int)},
	}

	fileOrder := make([]string, 0)
	files := make(map[string]*domain.FileSummary)

	for _, u := range units {
		idx.Summary.ChangesByType[string(u.ChangeType)]++
		idx.Summary.TotalLines += u.Metrics.AddedLines + u.Metrics.RemovedLines

		fs, ok := files[u.FilePath]
		if !ok {
			fs = &domain.FileSummary{Path: u.FilePath, Language: u.Language}
			files[u.FilePath] = fs
			fileOrder = append(fileOrder, u.FilePath)
		}
		fs.Units++
		fs.AddedLines += u.Metrics.AddedLines
		fs.RemovedLines += u.Metrics.RemovedLines

		us := domain.UnitSummary{
			UnitID:     u.UnitID,
			FilePath:   u.FilePath,
			Language:   u.Language,
			ChangeType: u.ChangeType,
			HunkRange:  u.HunkRange,
			NewCompact: u.LineNumbers.NewCompact,
			OldCompact: u.LineNumbers.OldCompact,
			Tags:       u.Tags,
			Metrics:    u.Metrics,
		}
		if u.Symbol != nil {
			us.SymbolName = u.Symbol.Name
		}
		if u.Rule != nil {
			us.RuleContextLevel = u.Rule.ContextLevel
			us.RuleConfidence = u.Rule.Confidence
			us.RuleNotes = u.Rule.Notes
		}
		idx.Units = append(idx.Units, us)
	}

	idx.Summary.FilesChanged = len(fileOrder)
	for _, path := range fileOrder {
		idx.Files = append(idx.Files, *files[path])
	}
	return idx
}
