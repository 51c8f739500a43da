package agent

import "strings"

// genericHeadings are boilerplate report headings that carry no information
// about the change under review.
var genericHeadings = map[string]bool{
	"code review report":  true,
	"code review":         true,
	"review report":       true,
	"review":              true,
	"review summary":      true,
	"summary":             true,
	"code review results": true,
}

// ExtractTitle scans the final report for the first heading that is not
// boilerplate and returns it, or "" when none qualifies.
func ExtractTitle(markdown string) string {
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			continue
		}
		title := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		if title == "" {
			continue
		}
		if genericHeadings[strings.ToLower(strings.Trim(title, " .:!"))] {
			continue
		}
		return title
	}
	return ""
}
