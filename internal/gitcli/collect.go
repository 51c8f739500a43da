package gitcli

import (
	"context"
	"fmt"
	"strings"

	"code-review-pipeline/internal/domain"
)

// DiffContext is the resolved diff for one session: the mode that actually
// produced it and the raw unified diff text.
type DiffContext struct {
	Mode    string
	Text    string
	BaseRef string // left endpoint for pr/commit modes, empty otherwise
}

// DiffOptions selects how the diff is obtained.
type DiffOptions struct {
	Mode       string // working, staged, pr, commit, auto
	CommitFrom string
	CommitTo   string
	BaseBranch string // pr base, default "main"
	// NoMergeBase disables the merge-base left endpoint in commit mode.
	NoMergeBase bool
}

// CollectDiff obtains the diff text per the requested mode. Mode "auto"
// resolves in priority order: staged > working > PR-ahead-of-base.
func (c *Client) CollectDiff(ctx context.Context, opts DiffOptions) (*DiffContext, error) {
	mode := opts.Mode
	if mode == "" {
		mode = domain.DiffModeAuto
	}

	switch mode {
	case domain.DiffModeWorking:
		text, err := c.DiffWorking(ctx)
		if err != nil {
			return nil, err
		}
		return &DiffContext{Mode: mode, Text: text}, nil

	case domain.DiffModeStaged:
		text, err := c.DiffStaged(ctx)
		if err != nil {
			return nil, err
		}
		return &DiffContext{Mode: mode, Text: text}, nil

	case domain.DiffModePR:
		return c.collectPRDiff(ctx, opts.BaseBranch)

	case domain.DiffModeCommit:
		return c.collectCommitDiff(ctx, opts)

	case domain.DiffModeAuto:
		if text, err := c.DiffStaged(ctx); err == nil && strings.TrimSpace(text) != "" {
			return &DiffContext{Mode: domain.DiffModeStaged, Text: text}, nil
		}
		if text, err := c.DiffWorking(ctx); err == nil && strings.TrimSpace(text) != "" {
			return &DiffContext{Mode: domain.DiffModeWorking, Text: text}, nil
		}
		if dc, err := c.collectPRDiff(ctx, opts.BaseBranch); err == nil && strings.TrimSpace(dc.Text) != "" {
			return dc, nil
		}
		return nil, fmt.Errorf("auto diff mode: no staged, working, or PR changes found")

	default:
		return nil, fmt.Errorf("unknown diff mode %q", mode)
	}
}

func (c *Client) collectPRDiff(ctx context.Context, base string) (*DiffContext, error) {
	if base == "" {
		base = "main"
	}
	ref := "origin/" + base
	text, err := c.DiffRange(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &DiffContext{Mode: domain.DiffModePR, Text: text, BaseRef: ref}, nil
}

func (c *Client) collectCommitDiff(ctx context.Context, opts DiffOptions) (*DiffContext, error) {
	if opts.CommitFrom == "" {
		return nil, fmt.Errorf("commit diff mode requires commit_from")
	}
	to := opts.CommitTo
	if to == "" {
		to = "HEAD"
	}

	from := opts.CommitFrom
	if !opts.NoMergeBase {
		base, err := c.MergeBase(ctx, opts.CommitFrom, to)
		if err == nil && base != "" {
			from = base
		}
	}

	text, err := c.DiffCommits(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return &DiffContext{Mode: domain.DiffModeCommit, Text: text, BaseRef: from}, nil
}
