// Package gitcli wraps git CLI plumbing. All methods shell out to the git
// binary with a bounded deadline, the same pattern used by gh, lazygit and
// k9s. Only plumbing commands are used: rev-parse, diff, show, ls-files,
// merge-base, log, branch.
package gitcli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"code-review-pipeline/internal/fallback"
)

// Client runs git commands inside one repository.
type Client struct {
	// WorkDir is the repository root. If empty, commands run in the
	// current directory.
	WorkDir string

	// GitBin is the path to the git binary. Defaults to "git".
	GitBin string

	// CommandTimeout caps each subprocess. Defaults to 60s.
	CommandTimeout time.Duration
}

// NewClient creates a Client for the given working directory and verifies it
// is a git repository.
func NewClient(workDir string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := &Client{WorkDir: workDir, GitBin: "git", CommandTimeout: timeout}
	if _, err := c.run(context.Background(), "rev-parse", "--git-dir"); err != nil {
		return nil, fmt.Errorf("git: not a repository or git not installed: %w", err)
	}
	return c, nil
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.CommandTimeout)
	defer cancel()

	bin := c.GitBin
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = c.WorkDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			fallback.Record("git_timeout", "git command timed out", map[string]any{"args": strings.Join(args, " ")})
			return "", fmt.Errorf("git %s: timed out after %s", args[0], c.CommandTimeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", args[0], msg)
	}
	return stdout.String(), nil
}

// refPattern is the whitelist for refs and paths passed to `git show`.
var refPattern = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)

// ValidateRef rejects refs that could smuggle options or range syntax into
// git show: empty, leading dash, `..`, or characters outside the whitelist.
func ValidateRef(ref string) error {
	if ref == "" {
		return fmt.Errorf("empty ref")
	}
	if strings.HasPrefix(ref, "-") {
		return fmt.Errorf("ref %q starts with dash", ref)
	}
	if strings.Contains(ref, "..") {
		return fmt.Errorf("ref %q contains '..'", ref)
	}
	if !regexp.MustCompile(`^[A-Za-z0-9._-]+$`).MatchString(ref) {
		return fmt.Errorf("ref %q contains disallowed characters", ref)
	}
	return nil
}

// ValidatePath rejects paths unsuitable for `git show <ref>:<path>`:
// absolute paths, `..` traversal, or characters outside the whitelist.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	if strings.HasPrefix(path, "/") {
		return fmt.Errorf("path %q is absolute", path)
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("path %q contains '..'", path)
	}
	if !refPattern.MatchString(path) {
		return fmt.Errorf("path %q contains disallowed characters", path)
	}
	return nil
}

// CurrentBranch returns the name of the current branch.
func (c *Client) CurrentBranch(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// MergeBase returns the merge base of two refs.
func (c *Client) MergeBase(ctx context.Context, a, b string) (string, error) {
	if err := ValidateRef(a); err != nil {
		return "", err
	}
	if err := ValidateRef(b); err != nil {
		return "", err
	}
	out, err := c.run(ctx, "merge-base", a, b)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// DiffWorking returns the unstaged working-tree diff.
func (c *Client) DiffWorking(ctx context.Context) (string, error) {
	return c.run(ctx, "diff")
}

// DiffStaged returns the staged diff.
func (c *Client) DiffStaged(ctx context.Context) (string, error) {
	return c.run(ctx, "diff", "--cached")
}

// DiffRange returns `git diff <ref>...HEAD`.
func (c *Client) DiffRange(ctx context.Context, ref string) (string, error) {
	if err := ValidateRef(strings.TrimPrefix(ref, "origin/")); err != nil {
		return "", err
	}
	return c.run(ctx, "diff", ref+"...HEAD")
}

// DiffCommits returns the diff between two commits.
func (c *Client) DiffCommits(ctx context.Context, from, to string) (string, error) {
	if err := ValidateRef(from); err != nil {
		return "", err
	}
	if err := ValidateRef(to); err != nil {
		return "", err
	}
	return c.run(ctx, "diff", from, to)
}

// ShowFile returns the content of path at ref via `git show <ref>:<path>`.
// Both parts are whitelisted first.
func (c *Client) ShowFile(ctx context.Context, ref, path string) (string, error) {
	if err := ValidateRef(ref); err != nil {
		return "", err
	}
	if err := ValidatePath(path); err != nil {
		return "", err
	}
	return c.run(ctx, "show", ref+":"+path)
}

// LsFiles returns the tracked files, optionally under a prefix.
func (c *Client) LsFiles(ctx context.Context, prefix string) ([]string, error) {
	args := []string{"ls-files"}
	if prefix != "" {
		args = append(args, "--", prefix)
	}
	out, err := c.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// RecentCommits returns the last n one-line commit subjects.
func (c *Client) RecentCommits(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		n = 10
	}
	out, err := c.run(ctx, "log", fmt.Sprintf("-%d", n), "--pretty=format:%h %s")
	if err != nil {
		return nil, err
	}
	var commits []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			commits = append(commits, line)
		}
	}
	return commits, nil
}

// Grep runs `git grep -n` for a fixed string and returns the raw matches.
// Returns nil without error when nothing matches (git grep exits 1).
func (c *Client) Grep(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.CommandTimeout)
	defer cancel()

	bin := c.GitBin
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, "grep", "-n", "--fixed-strings", "--", pattern)
	cmd.Dir = c.WorkDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("git grep: %s", strings.TrimSpace(stderr.String()))
	}
	out := stdout.String()
	var hits []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			hits = append(hits, line)
		}
	}
	return hits, nil
}
