package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"

	"github.com/chhoumann/claude-github-triage/internal/config"
	"github.com/chhoumann/claude-github-triage/internal/metadata"
	"github.com/chhoumann/claude-github-triage/internal/tracker"
)

// exitError is an error that signals a specific exit code
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

var isTerminal = func(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// writerIsTerminal reports whether w is a terminal.
func writerIsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isTerminal(f.Fd())
}

// loadProject resolves the project for the current invocation.
func loadProject(opts config.ProjectOptions) (*config.Config, *config.Project, error) {
	cfg, err := config.LoadGlobal()
	if err != nil {
		return nil, nil, fmt.Errorf("load global config: %w", err)
	}
	if opts.WorkDir == "" {
		opts.WorkDir = workDirFlag
	}
	if opts.Repo == "" {
		opts.Repo = repoFlag
	}
	p, err := config.ResolveProject(cfg, opts)
	if err != nil {
		return nil, nil, err
	}
	return cfg, p, nil
}

func openStore(p *config.Project) (*metadata.Store, error) {
	if err := os.MkdirAll(p.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return metadata.Open(p.MetadataPath(), p.ArtifactDir)
}

func newTracker(p *config.Project) (*tracker.Client, error) {
	return tracker.New(tracker.Options{
		Owner:   p.Owner,
		Repo:    p.Name,
		Token:   p.Token,
		BaseURL: p.BaseURL,
	})
}

// parseNumbers parses issue numbers, accepting an optional leading '#'.
func parseNumbers(args []string) ([]int, error) {
	nums := make([]int, 0, len(args))
	for _, a := range args {
		n, err := strconv.Atoi(strings.TrimPrefix(a, "#"))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid issue number %q", a)
		}
		nums = append(nums, n)
	}
	return nums, nil
}

// truncate shortens s to at most width terminal cells.
func truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}
