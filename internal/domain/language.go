package domain

import (
	"path/filepath"
	"strings"
)

var languageExtensions = map[string]Language{
	".py":  LangPython,
	".pyi": LangPython,
	".ts":  LangTS, ".tsx": LangTS,
	".js": LangJS, ".jsx": LangJS, ".mjs": LangJS,
	".go":   LangGo,
	".java": LangJava,
	".rb":   LangRuby,
	".c":    LangC, ".h": LangC,
	".cpp": LangCPP, ".cc": LangCPP, ".cxx": LangCPP, ".hpp": LangCPP, ".hxx": LangCPP,
	".rs": LangRust,
	".md": LangText, ".rst": LangText, ".txt": LangText,
}

// LanguageForPath maps a file path to its language by extension,
// case-insensitively. Unrecognised extensions yield LangUnknown.
func LanguageForPath(path string) Language {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := languageExtensions[ext]; ok {
		return lang
	}
	return LangUnknown
}

// IsDocPath reports whether the file follows the doc-light collection path.
func IsDocPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".rst", ".txt":
		return true
	}
	return false
}
