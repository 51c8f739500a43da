package diff

import (
	"regexp"
	"strings"

	"code-review-pipeline/internal/domain"
)

// symbolBlock is one detected function/class span, 1-based inclusive lines.
type symbolBlock struct {
	Kind  string
	Name  string
	Start int
	End   int
}

var (
	pyDefPattern    = regexp.MustCompile(`^(\s*)(def|class)\s+([A-Za-z_][A-Za-z0-9_]*)`)
	rubyDefPattern  = regexp.MustCompile(`^(\s*)(def|class|module)\s+([A-Za-z_][A-Za-z0-9_.?!]*)`)
	goFuncPattern   = regexp.MustCompile(`^func\s+(?:\([^)]*\)\s*)?([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	goTypePattern   = regexp.MustCompile(`^type\s+([A-Za-z_][A-Za-z0-9_]*)\s+(?:struct|interface)\b`)
	braceFnPattern  = regexp.MustCompile(`^\s*(?:export\s+)?(?:public\s+|private\s+|protected\s+|static\s+|final\s+|async\s+|pub(?:\([a-z]+\))?\s+|unsafe\s+)*(?:function\s+|fn\s+)?([A-Za-z_$][A-Za-z0-9_$]*)\s*(?:<[^>]*>)?\s*\([^;{]*\)?\s*(?:->\s*[\w:<>&\*\s]+|:\s*[\w<>\[\]\s|]+)?\s*\{`)
	braceClsPattern = regexp.MustCompile(`^\s*(?:export\s+)?(?:abstract\s+)?(?:class|interface|enum|struct|impl|trait)\s+([A-Za-z_$][A-Za-z0-9_$:<>]*)`)
	arrowFnPattern  = regexp.MustCompile(`^\s*(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*=\s*(?:async\s*)?\(`)
)

// scanSymbols extracts function/class blocks from source lines for the given
// language. Python and Ruby use indentation scoping; brace languages use
// brace counting from the declaration line. Unknown languages yield nothing.
func scanSymbols(lang domain.Language, lines []string) []symbolBlock {
	switch lang {
	case domain.LangPython:
		return scanIndented(lines, pyDefPattern, map[string]string{"def": "function", "class": "class"})
	case domain.LangRuby:
		return scanIndented(lines, rubyDefPattern, map[string]string{"def": "function", "class": "class", "module": "class"})
	case domain.LangGo:
		return scanGo(lines)
	case domain.LangJava, domain.LangC, domain.LangCPP, domain.LangRust, domain.LangJS, domain.LangTS:
		return scanBraced(lines)
	}
	return nil
}

func scanIndented(lines []string, pattern *regexp.Regexp, kinds map[string]string) []symbolBlock {
	var blocks []symbolBlock
	for i, line := range lines {
		m := pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		indent := len(m[1])
		end := i + 1
		for j := i + 1; j < len(lines); j++ {
			t := strings.TrimSpace(lines[j])
			if t == "" || strings.HasPrefix(t, "#") {
				continue
			}
			if leadingWidth(lines[j]) <= indent {
				break
			}
			end = j + 1
		}
		blocks = append(blocks, symbolBlock{
			Kind:  kinds[m[2]],
			Name:  m[3],
			Start: i + 1,
			End:   end,
		})
	}
	return blocks
}

func leadingWidth(line string) int {
	w := 0
	for _, r := range line {
		switch r {
		case ' ':
			w++
		case '\t':
			w += 4
		default:
			return w
		}
	}
	return w
}

func scanGo(lines []string) []symbolBlock {
	var blocks []symbolBlock
	for i, line := range lines {
		var kind, name string
		if m := goFuncPattern.FindStringSubmatch(line); m != nil {
			kind, name = "function", m[1]
		} else if m := goTypePattern.FindStringSubmatch(line); m != nil {
			kind, name = "class", m[1]
		} else {
			continue
		}
		end := braceEnd(lines, i)
		blocks = append(blocks, symbolBlock{Kind: kind, Name: name, Start: i + 1, End: end})
	}
	return blocks
}

func scanBraced(lines []string) []symbolBlock {
	var blocks []symbolBlock
	for i, line := range lines {
		var kind, name string
		if m := braceClsPattern.FindStringSubmatch(line); m != nil {
			kind, name = "class", m[1]
		} else if m := arrowFnPattern.FindStringSubmatch(line); m != nil {
			kind, name = "function", m[1]
		} else if m := braceFnPattern.FindStringSubmatch(line); m != nil {
			// Filter flow-control keywords that parse like calls.
			switch m[1] {
			case "if", "for", "while", "switch", "catch", "return", "else":
				continue
			}
			kind, name = "function", m[1]
		} else {
			continue
		}
		end := braceEnd(lines, i)
		blocks = append(blocks, symbolBlock{Kind: kind, Name: name, Start: i + 1, End: end})
	}
	return blocks
}

// braceEnd finds the line closing the block opened at startIdx by counting
// braces. Strings and comments are not lexed; for context slicing this is an
// acceptable approximation. Returns a 1-based inclusive end line.
func braceEnd(lines []string, startIdx int) int {
	depth := 0
	opened := false
	for j := startIdx; j < len(lines); j++ {
		for _, ch := range lines[j] {
			switch ch {
			case '{':
				depth++
				opened = true
			case '}':
				depth--
			}
		}
		if opened && depth <= 0 {
			return j + 1
		}
	}
	return len(lines)
}

// smallestEnclosing returns the innermost block containing the given 1-based
// line range, or nil. Innermost means the smallest span among containers.
func smallestEnclosing(blocks []symbolBlock, startLine, endLine int) *symbolBlock {
	var best *symbolBlock
	for i := range blocks {
		b := &blocks[i]
		if b.Start <= startLine && endLine <= b.End {
			if best == nil || (b.End-b.Start) < (best.End-best.Start) {
				best = b
			}
		}
	}
	return best
}

// EnclosingSymbol scans source lines and returns the innermost function or
// class containing the 1-based line range, or nil when none encloses it.
// Used by the scheduler when a unit reaches it without a detected symbol.
func EnclosingSymbol(lang domain.Language, lines []string, startLine, endLine int) *domain.Symbol {
	return smallestEnclosing(scanSymbols(lang, lines), startLine, endLine).toSymbol()
}

func (b *symbolBlock) toSymbol() *domain.Symbol {
	if b == nil {
		return nil
	}
	return &domain.Symbol{Kind: b.Kind, Name: b.Name, StartLine: b.Start, EndLine: b.End}
}
