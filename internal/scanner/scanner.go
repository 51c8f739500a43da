// Package scanner drives third-party static scanners over the changed files,
// detached from the main pipeline. Output flows through scanner_progress
// events; the review never waits on it.
package scanner

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"code-review-pipeline/internal/config"
	"code-review-pipeline/internal/domain"
	"code-review-pipeline/internal/events"
)

const maxParallelScans = 4

// Runner executes configured scanner commands against changed files.
type Runner struct {
	Scanners []config.ScannerConfig
	Bus      *events.Bus
	Root     string

	// Timeout caps one scanner invocation. Defaults to 60s.
	Timeout time.Duration
}

func NewRunner(scanners []config.ScannerConfig, root string, bus *events.Bus) *Runner {
	return &Runner{Scanners: scanners, Bus: bus, Root: root, Timeout: 60 * time.Second}
}

// Start launches the scans in the background and returns a channel closed
// when all of them finish. Cancel ctx to stop early.
func (r *Runner) Start(ctx context.Context, files map[string]domain.Language) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.run(ctx, files)
	}()
	return done
}

func (r *Runner) run(ctx context.Context, files map[string]domain.Language) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelScans)

	for _, sc := range r.Scanners {
		for file, lang := range files {
			if !applies(sc, lang) {
				continue
			}
			g.Go(func() error {
				r.scanOne(ctx, sc, file)
				return nil
			})
		}
	}
	g.Wait() //nolint:errcheck // scan goroutines never return errors
}

func applies(sc config.ScannerConfig, lang domain.Language) bool {
	if len(sc.Langs) == 0 {
		return true
	}
	for _, l := range sc.Langs {
		if domain.Language(l) == lang {
			return true
		}
	}
	return false
}

// scanOne runs one scanner against one file. Issue count is the number of
// non-empty output lines; scanners that report nothing produce zero.
func (r *Runner) scanOne(ctx context.Context, sc config.ScannerConfig, file string) {
	r.Bus.Emit(events.ScannerProgress("start", sc.Name, file, 0, 0))

	argv := make([]string, 0, len(sc.Command))
	for _, a := range sc.Command {
		argv = append(argv, strings.ReplaceAll(a, "{file}", file))
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.Root
	out, err := cmd.CombinedOutput()
	elapsed := time.Since(start).Milliseconds()

	// Most scanners exit non-zero when they find issues; only a failure to
	// produce output at all counts as an error.
	if err != nil && len(out) == 0 {
		e := events.ScannerProgress("error", sc.Name, file, elapsed, 0)
		e["message"] = err.Error()
		r.Bus.Emit(e)
		return
	}

	issues := 0
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) != "" {
			issues++
		}
	}
	r.Bus.Emit(events.ScannerProgress("complete", sc.Name, file, elapsed, issues))
}
