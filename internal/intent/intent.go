// Package intent produces the cached one-paragraph project summary that
// precedes planning and review. One streamed LLM call per project, then the
// JSON cache under <data_dir>/Analysis serves every later session.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"code-review-pipeline/internal/domain"
	"code-review-pipeline/internal/events"
	"code-review-pipeline/internal/fallback"
	"code-review-pipeline/internal/gitcli"
)

const (
	readmeMaxBytes = 10 * 1024
	recentCommits  = 10
	treeMaxDepth   = 2
)

// Summarizer turns the gathered project facts into the markdown summary.
// The production implementation streams through langchaingo; tests inject
// their own.
type Summarizer func(ctx context.Context, system, user string) (string, error)

// Agent gathers project facts, calls the summarizer once per project, and
// persists the result. Concurrent sessions for the same project share one
// in-flight call.
type Agent struct {
	DataDir   string
	Git       *gitcli.Client
	Bus       *events.Bus
	Summarize Summarizer

	group singleflight.Group
}

// New creates an intent agent. git may be nil; commit history is then omitted
// from the facts.
func New(dataDir string, git *gitcli.Client, bus *events.Bus, summarize Summarizer) *Agent {
	return &Agent{DataDir: dataDir, Git: git, Bus: bus, Summarize: summarize}
}

// ProjectSummary returns the markdown summary for the project, from cache
// when possible. On any failure it emits an error event and returns "" so the
// pipeline continues without intent.
func (a *Agent) ProjectSummary(ctx context.Context, projectRoot string) string {
	project := filepath.Base(filepath.Clean(projectRoot))

	if cached := a.loadCache(project); cached != nil && cached.Content != "" {
		slog.Debug("intent cache hit", "project", project)
		return cached.Content
	}

	content, err, _ := a.group.Do(project, func() (any, error) {
		return a.generate(ctx, projectRoot, project)
	})
	if err != nil {
		a.Bus.Emit(events.Error(events.StageIntent, err.Error()))
		fallback.Record("intent_failed", err.Error(), map[string]any{"project": project})
		return ""
	}
	return content.(string)
}

func (a *Agent) generate(ctx context.Context, projectRoot, project string) (string, error) {
	if a.Summarize == nil {
		return "", fmt.Errorf("no summarizer configured")
	}

	facts := a.gatherFacts(ctx, projectRoot)
	content, err := a.Summarize(ctx, systemPrompt, facts)
	if err != nil {
		return "", fmt.Errorf("intent call: %w", err)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("intent call returned empty summary")
	}

	now := time.Now()
	cache := &domain.IntentCache{
		ProjectName: project,
		ProjectRoot: projectRoot,
		Content:     content,
		CreatedAt:   now,
		UpdatedAt:   now,
		Source:      "agent",
	}
	if err := a.saveCache(cache); err != nil {
		// The summary is still usable this session.
		slog.Warn("intent cache write failed", "project", project, "error", err)
		fallback.Record("intent_cache_write_failed", err.Error(), map[string]any{"project": project})
	}
	return content, nil
}

const systemPrompt = `You summarise software projects for code reviewers.
Given a file tree, README excerpt, recent commits and dependency manifests,
write ONE short Markdown paragraph describing what the project does, its main
components, and anything a reviewer should keep in mind. No headings, no
lists, no code fences.`

// gatherFacts assembles the prompt body: file tree (depth-limited, source
// files only), README head, recent commits, dependency manifests.
func (a *Agent) gatherFacts(ctx context.Context, root string) string {
	var sb strings.Builder

	if tree := fileTree(root); len(tree) > 0 {
		sb.WriteString("## File tree\n")
		sb.WriteString(strings.Join(tree, "\n"))
		sb.WriteString("\n\n")
	}
	if readme := readmeHead(root); readme != "" {
		sb.WriteString("## README\n")
		sb.WriteString(readme)
		sb.WriteString("\n\n")
	}
	if a.Git != nil {
		if commits, err := a.Git.RecentCommits(ctx, recentCommits); err == nil && len(commits) > 0 {
			sb.WriteString("## Recent commits\n")
			sb.WriteString(strings.Join(commits, "\n"))
			sb.WriteString("\n\n")
		}
	}
	for _, m := range manifestFiles {
		data, err := os.ReadFile(filepath.Join(root, m))
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "## %s\n%s\n\n", m, strings.TrimSpace(string(data)))
	}
	return sb.String()
}

var manifestFiles = []string{
	"go.mod", "package.json", "requirements.txt", "pyproject.toml",
	"Gemfile", "pom.xml", "build.gradle", "Cargo.toml",
}

var sourceExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".jsx": true, ".ts": true,
	".tsx": true, ".java": true, ".rb": true, ".rs": true, ".c": true,
	".h": true, ".cc": true, ".cpp": true, ".hpp": true, ".md": true,
	".yaml": true, ".yml": true, ".toml": true, ".json": true,
}

var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, "dist": true,
	"build": true, "__pycache__": true, ".venv": true, "target": true,
}

// fileTree lists source files up to treeMaxDepth below root, sorted.
func fileTree(root string) []string {
	var files []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		depth := strings.Count(rel, string(filepath.Separator)) + 1
		if d.IsDir() {
			if skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".") || depth >= treeMaxDepth {
				return fs.SkipDir
			}
			return nil
		}
		if sourceExtensions[filepath.Ext(d.Name())] {
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	sort.Strings(files)
	return files
}

func readmeHead(root string) string {
	for _, name := range []string{"README.md", "README.rst", "README.txt", "README"} {
		data, err := os.ReadFile(filepath.Join(root, name))
		if err != nil {
			continue
		}
		if len(data) > readmeMaxBytes {
			data = data[:readmeMaxBytes]
		}
		return string(data)
	}
	return ""
}

// Cache persistence. Write-then-rename keeps concurrent readers from ever
// seeing a partial file.

func (a *Agent) cachePath(project string) string {
	return filepath.Join(a.DataDir, "Analysis", project+".json")
}

func (a *Agent) loadCache(project string) *domain.IntentCache {
	data, err := os.ReadFile(a.cachePath(project))
	if err != nil {
		return nil
	}
	var c domain.IntentCache
	if err := json.Unmarshal(data, &c); err != nil {
		slog.Warn("intent cache corrupt, ignoring", "project", project, "error", err)
		return nil
	}
	return &c
}

func (a *Agent) saveCache(c *domain.IntentCache) error {
	dir := filepath.Join(a.DataDir, "Analysis")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	final := a.cachePath(c.ProjectName)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}
