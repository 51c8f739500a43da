package diff

import (
	"path/filepath"
	"strings"

	"code-review-pipeline/internal/domain"
)

var (
	configPathHints   = []string{"config", "settings", "conf.d"}
	configExtensions  = map[string]bool{".yaml": true, ".yml": true, ".toml": true, ".ini": true, ".conf": true, ".env": true, ".properties": true}
	routingPathHints  = []string{"routes", "router", "routing", "urls.py", "endpoints"}
	securityPathHints = []string{"auth", "security", "crypto", "password", "secret", "token", "oauth", "login", "permission", "acl", "credential"}
	testPathHints     = []string{"_test.go", "test_", ".spec.", "_spec.", "/tests/", "/test/", ".test."}
)

// pathTags derives tags from the file path alone, in stable order.
func pathTags(path string) []string {
	lower := strings.ToLower(path)
	var tags []string
	add := func(tag string) {
		for _, t := range tags {
			if t == tag {
				return
			}
		}
		tags = append(tags, tag)
	}

	if domain.IsDocPath(path) {
		add(domain.TagDocFile)
	}
	for _, h := range configPathHints {
		if strings.Contains(lower, h) {
			add(domain.TagConfigFile)
			break
		}
	}
	if configExtensions[filepath.Ext(lower)] {
		add(domain.TagConfigFile)
	}
	for _, h := range routingPathHints {
		if strings.Contains(lower, h) {
			add(domain.TagRoutingFile)
			break
		}
	}
	for _, h := range securityPathHints {
		if strings.Contains(lower, h) {
			add(domain.TagSecuritySensitive)
			break
		}
	}
	for _, h := range testPathHints {
		if strings.Contains(lower, h) {
			add(domain.TagTestFile)
			break
		}
	}
	return tags
}

var commentPrefixes = map[domain.Language][]string{
	domain.LangPython: {"#"},
	domain.LangRuby:   {"#"},
	domain.LangGo:     {"//", "/*", "*"},
	domain.LangJava:   {"//", "/*", "*"},
	domain.LangC:      {"//", "/*", "*"},
	domain.LangCPP:    {"//", "/*", "*"},
	domain.LangRust:   {"//", "/*", "*"},
	domain.LangJS:     {"//", "/*", "*"},
	domain.LangTS:     {"//", "/*", "*"},
}

var importPrefixes = []string{
	"import ", "from ", "require(", "require ", "use ", "#include", "package ",
	"using ", "extern crate",
}

var loggingHints = []string{
	"log.", "logger.", "logging.", "slog.", "console.", "fmt.print", "print(",
	"println", "puts ", "klog.", "zap.",
}

// changedLines returns the +/- payload lines of a hunk, prefixes stripped,
// blanks dropped.
func changedLines(h Hunk) []string {
	var out []string
	for _, line := range h.Lines {
		if len(line) == 0 {
			continue
		}
		if line[0] != '+' && line[0] != '-' {
			continue
		}
		body := strings.TrimSpace(line[1:])
		if body != "" {
			out = append(out, body)
		}
	}
	return out
}

// contentTags classifies what the changed lines consist of. Each tag applies
// only when every changed line matches its class.
func contentTags(lang domain.Language, changed []string) []string {
	if len(changed) == 0 {
		return nil
	}

	allComments := true
	prefixes := commentPrefixes[lang]
	for _, line := range changed {
		matched := false
		for _, p := range prefixes {
			if strings.HasPrefix(line, p) {
				matched = true
				break
			}
		}
		if !matched {
			allComments = false
			break
		}
	}
	if allComments && len(prefixes) > 0 {
		return []string{domain.TagOnlyComments}
	}

	allImports := true
	for _, line := range changed {
		matched := false
		for _, p := range importPrefixes {
			if strings.HasPrefix(line, p) {
				matched = true
				break
			}
		}
		if !matched {
			allImports = false
			break
		}
	}
	if allImports {
		return []string{domain.TagOnlyImports}
	}

	allLogging := true
	for _, line := range changed {
		lower := strings.ToLower(line)
		matched := false
		for _, h := range loggingHints {
			if strings.Contains(lower, h) {
				matched = true
				break
			}
		}
		if !matched {
			allLogging = false
			break
		}
	}
	if allLogging {
		return []string{domain.TagOnlyLogging}
	}
	return nil
}
