package toolrt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"code-review-pipeline/internal/domain"
	"code-review-pipeline/internal/gitcli"
)

const (
	maxListedFiles   = 500
	maxSearchHits    = 50
	maxToolFileBytes = 256 * 1024
)

var dependencyManifests = []string{
	"go.mod", "go.sum", "package.json", "requirements.txt", "Pipfile",
	"pyproject.toml", "pom.xml", "build.gradle", "Cargo.toml", "Gemfile",
}

// RegisterBuiltins wires the standard project-inspection tools against one
// project root. git may be nil; the git-backed tools then report an error
// result instead of being absent, so the model learns why they fail.
func RegisterBuiltins(r *Registry, root string, git *gitcli.Client) {
	r.Register(&Handler{
		Def: Def{
			Name:        "list_project_files",
			Description: "List tracked files in the project, optionally under a path prefix.",
			Parameters: objSchema(map[string]any{
				"prefix": strSchema("optional path prefix to filter by"),
			}, nil),
		},
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			if git == nil {
				return "", fmt.Errorf("git unavailable in this session")
			}
			files, err := git.LsFiles(ctx, argString(args, "prefix"))
			if err != nil {
				return "", err
			}
			truncated := false
			if len(files) > maxListedFiles {
				files = files[:maxListedFiles]
				truncated = true
			}
			out := strings.Join(files, "\n")
			if truncated {
				out += fmt.Sprintf("\n… (%d files shown)", maxListedFiles)
			}
			return out, nil
		},
	})

	r.Register(&Handler{
		Def: Def{
			Name:        "read_file_hunk",
			Description: "Read a line range of a project file. Lines are 1-based inclusive; set numbered=true to prefix each line with its number.",
			Parameters: objSchema(map[string]any{
				"path":       strSchema("file path relative to the project root"),
				"start_line": intSchema("first line to read"),
				"end_line":   intSchema("last line to read"),
				"numbered":   boolSchema("prefix lines with line numbers"),
			}, []string{"path", "start_line", "end_line"}),
		},
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			lines, err := readProjectFile(root, argString(args, "path"))
			if err != nil {
				return "", err
			}
			start, end := argInt(args, "start_line"), argInt(args, "end_line")
			if start < 1 {
				start = 1
			}
			if end > len(lines) {
				end = len(lines)
			}
			if start > end {
				return "", fmt.Errorf("empty range %d-%d (file has %d lines)", start, end, len(lines))
			}
			if !argBool(args, "numbered") {
				return strings.Join(lines[start-1:end], "\n"), nil
			}
			var sb strings.Builder
			for i := start; i <= end; i++ {
				fmt.Fprintf(&sb, "%5d  %s\n", i, lines[i-1])
			}
			return strings.TrimSuffix(sb.String(), "\n"), nil
		},
	})

	r.Register(&Handler{
		Def: Def{
			Name:        "read_file_info",
			Description: "Report size, line count and detected language of a project file.",
			Parameters: objSchema(map[string]any{
				"path": strSchema("file path relative to the project root"),
			}, []string{"path"}),
		},
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			path := argString(args, "path")
			if err := gitcli.ValidatePath(path); err != nil {
				return "", err
			}
			info, err := os.Stat(filepath.Join(root, path))
			if err != nil {
				return "", err
			}
			lines, err := readProjectFile(root, path)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("path: %s\nsize_bytes: %d\nlines: %d\nlanguage: %s",
				path, info.Size(), len(lines), domain.LanguageForPath(path)), nil
		},
	})

	r.Register(&Handler{
		Def: Def{
			Name:        "search_in_project",
			Description: "Search tracked files for a fixed string via git grep. Returns path:line:match rows.",
			Parameters: objSchema(map[string]any{
				"query": strSchema("literal string to search for"),
			}, []string{"query"}),
		},
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			if git == nil {
				return "", fmt.Errorf("git unavailable in this session")
			}
			query := argString(args, "query")
			if strings.TrimSpace(query) == "" {
				return "", fmt.Errorf("empty query")
			}
			hits, err := git.Grep(ctx, query)
			if err != nil {
				return "", err
			}
			if len(hits) == 0 {
				return "no matches", nil
			}
			truncated := false
			if len(hits) > maxSearchHits {
				hits = hits[:maxSearchHits]
				truncated = true
			}
			out := strings.Join(hits, "\n")
			if truncated {
				out += fmt.Sprintf("\n… (%d matches shown)", maxSearchHits)
			}
			return out, nil
		},
	})

	r.Register(&Handler{
		Def: Def{
			Name:        "get_dependencies",
			Description: "Return the project's dependency manifests (go.mod, package.json, requirements.txt, ...).",
			Parameters:  objSchema(map[string]any{}, nil),
		},
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			var sb strings.Builder
			for _, name := range dependencyManifests {
				data, err := os.ReadFile(filepath.Join(root, name))
				if err != nil {
					continue
				}
				fmt.Fprintf(&sb, "=== %s ===\n%s\n", name, strings.TrimSpace(string(data)))
			}
			if sb.Len() == 0 {
				return "no dependency manifests found", nil
			}
			return strings.TrimSuffix(sb.String(), "\n"), nil
		},
	})
}

func readProjectFile(root, path string) ([]string, error) {
	if err := gitcli.ValidatePath(path); err != nil {
		return nil, err
	}
	full := filepath.Join(root, path)
	info, err := os.Stat(full)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxToolFileBytes {
		return nil, fmt.Errorf("file too large (%d bytes)", info.Size())
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, err
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n"), nil
}

// JSON-schema helpers for tool definitions.

func objSchema(props map[string]any, required []string) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func strSchema(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func intSchema(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func boolSchema(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

// Argument coercion: tool args arrive as decoded JSON, so numbers are
// float64 and everything may be missing.

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func argInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func argBool(args map[string]any, key string) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return false
}
