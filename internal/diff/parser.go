// Package diff turns a unified diff into ReviewUnits: one per hunk, with
// language tagging, enclosing-symbol detection, smart context expansion and
// nearby-hunk merging.
package diff

import (
	"regexp"
	"strconv"
	"strings"

	"log/slog"
)

// Hunk is one parsed @@ block. Lines keep their +/-/space prefix.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []string
}

// FilePatch is the parsed diff for one file.
type FilePatch struct {
	OldPath  string
	NewPath  string
	IsNew    bool
	IsDelete bool
	IsBinary bool
	Hunks    []Hunk
}

var (
	diffGitPattern = regexp.MustCompile(`(?m)^diff --git\s+(\S+)\s+(\S+)`)
	hunkPattern    = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)
)

// stripPathPrefix removes the a/ b/ VCS prefixes from a diff header path.
func stripPathPrefix(p string) string {
	p = strings.TrimPrefix(p, "a/")
	p = strings.TrimPrefix(p, "b/")
	return p
}

// ParsePatches splits a unified diff into per-file patches. A malformed hunk
// is dropped with a debug log but does not abort its file; a file without a
// recognizable header is skipped entirely.
func ParsePatches(diffText string) []FilePatch {
	if strings.TrimSpace(diffText) == "" {
		return nil
	}

	sections := splitFileSections(diffText)
	patches := make([]FilePatch, 0, len(sections))
	for _, sec := range sections {
		if p, ok := parseFileSection(sec); ok {
			patches = append(patches, p)
		}
	}
	return patches
}

// splitFileSections cuts the diff at each "diff --git" header. Diffs that
// lack git headers (plain ---/+++ output) are treated as a single section.
func splitFileSections(diffText string) []string {
	indices := diffGitPattern.FindAllStringIndex(diffText, -1)
	if len(indices) == 0 {
		return []string{diffText}
	}
	var out []string
	for i, idx := range indices {
		end := len(diffText)
		if i+1 < len(indices) {
			end = indices[i+1][0]
		}
		out = append(out, diffText[idx[0]:end])
	}
	return out
}

func parseFileSection(section string) (FilePatch, bool) {
	var p FilePatch
	lines := strings.Split(section, "\n")

	var i int
	for ; i < len(lines); i++ {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "diff --git "):
			if m := diffGitPattern.FindStringSubmatch(line); m != nil {
				p.OldPath = stripPathPrefix(m[1])
				p.NewPath = stripPathPrefix(m[2])
			}
		case strings.HasPrefix(line, "new file mode"):
			p.IsNew = true
		case strings.HasPrefix(line, "deleted file mode"):
			p.IsDelete = true
		case strings.HasPrefix(line, "Binary files "), strings.HasPrefix(line, "GIT binary patch"):
			p.IsBinary = true
		case strings.HasPrefix(line, "--- "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "--- "))
			if path == "/dev/null" {
				p.IsNew = true
			} else if p.OldPath == "" {
				p.OldPath = stripPathPrefix(path)
			}
		case strings.HasPrefix(line, "+++ "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "+++ "))
			if path == "/dev/null" {
				p.IsDelete = true
			} else if p.NewPath == "" || strings.HasPrefix(path, "b/") {
				p.NewPath = stripPathPrefix(path)
			}
		}
		if strings.HasPrefix(line, "@@") {
			break
		}
	}

	if p.NewPath == "" && p.OldPath == "" {
		return p, false
	}
	if p.NewPath == "" {
		p.NewPath = p.OldPath
	}

	// Hunks
	for i < len(lines) {
		line := lines[i]
		m := hunkPattern.FindStringSubmatch(line)
		if m == nil {
			i++
			continue
		}
		h := Hunk{
			OldStart: atoiDefault(m[1], 0),
			OldLines: atoiDefault(m[2], 1),
			NewStart: atoiDefault(m[3], 0),
			NewLines: atoiDefault(m[4], 1),
		}
		i++
		body, next, ok := readHunkBody(lines, i, h)
		i = next
		if !ok {
			slog.Debug("malformed hunk dropped", "file", p.NewPath, "header", line)
			continue
		}
		h.Lines = body
		p.Hunks = append(p.Hunks, h)
	}

	return p, true
}

// readHunkBody consumes hunk lines starting at idx until the counted old/new
// lines are satisfied or the next header begins. Returns ok=false when the
// body ends short of the header's counts.
func readHunkBody(lines []string, idx int, h Hunk) ([]string, int, bool) {
	var body []string
	oldSeen, newSeen := 0, 0
	for idx < len(lines) {
		line := lines[idx]
		if strings.HasPrefix(line, "@@") || strings.HasPrefix(line, "diff --git ") {
			break
		}
		if oldSeen >= h.OldLines && newSeen >= h.NewLines {
			break
		}
		if line == `\ No newline at end of file` {
			idx++
			continue
		}
		if len(line) == 0 {
			// A trailing empty element from the final split; treat as
			// a context blank line only while counts are unsatisfied.
			body = append(body, " ")
			oldSeen++
			newSeen++
			idx++
			continue
		}
		switch line[0] {
		case ' ':
			oldSeen++
			newSeen++
		case '-':
			oldSeen++
		case '+':
			newSeen++
		default:
			return nil, idx, false
		}
		body = append(body, line)
		idx++
	}
	if oldSeen < h.OldLines || newSeen < h.NewLines {
		return nil, idx, false
	}
	return body, idx, true
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
