// Package triage implements the queue job body: fetch an issue, run an
// analysis agent on it, write the artifact and fold it into the store.
package triage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/chhoumann/claude-github-triage/internal/agent"
	"github.com/chhoumann/claude-github-triage/internal/artifact"
	"github.com/chhoumann/claude-github-triage/internal/metadata"
	"github.com/chhoumann/claude-github-triage/internal/prompt"
	"github.com/chhoumann/claude-github-triage/internal/queue"
	"github.com/chhoumann/claude-github-triage/internal/tracker"
)

// ErrNoBlock is returned when an agent's result has no triage block.
var ErrNoBlock = errors.New("agent output has no triage block")

// Tracker is the part of the tracker client a job needs.
type Tracker interface {
	GetItem(ctx context.Context, number int) (tracker.Item, error)
	ListComments(ctx context.Context, number int) ([]tracker.Comment, error)
}

// Options configures a Runner.
type Options struct {
	Tracker     Tracker
	Agents      *agent.Registry
	Store       *metadata.Store
	ArtifactDir string
	WorkDir     string
	Repo        string
	Guidelines  string
	MaxSteps    int
	// Progress, if set, returns a writer for a job's streamed agent output.
	Progress func(key int) io.Writer
}

// Runner runs triage jobs. It implements queue.Runner.
type Runner struct {
	opts Options
}

// New creates a runner.
func New(opts Options) *Runner {
	return &Runner{opts: opts}
}

var _ queue.Runner = (*Runner)(nil)

// trackerErr wraps a tracker failure, marking ones worth retrying.
func trackerErr(op string, err error) error {
	if tracker.IsTransient(err) {
		return fmt.Errorf("%s: %w (transient, retry later)", op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Run analyzes job.Key with the job's capability.
func (r *Runner) Run(ctx context.Context, job queue.Job) error {
	ag, err := r.opts.Agents.Get(job.Capability)
	if err != nil {
		return err
	}

	item, err := r.opts.Tracker.GetItem(ctx, job.Key)
	if err != nil {
		return trackerErr("fetch issue", err)
	}
	comments, err := r.opts.Tracker.ListComments(ctx, job.Key)
	if err != nil {
		return trackerErr("fetch comments", err)
	}

	p := prompt.Build(prompt.Input{
		Repo:       r.opts.Repo,
		Agent:      ag.Name(),
		Item:       item,
		Comments:   comments,
		Guidelines: r.opts.Guidelines,
	})

	var progress io.Writer
	if r.opts.Progress != nil {
		progress = r.opts.Progress(job.Key)
		if f, ok := progress.(interface{ Flush() }); ok {
			defer f.Flush()
		}
	}

	log.Printf("[triage] #%d: running %s", job.Key, ag.Name())
	output, err := ag.Analyze(ctx, p, agent.Options{WorkDir: r.opts.WorkDir, MaxSteps: r.opts.MaxSteps}, progress)
	if err != nil {
		return fmt.Errorf("%s: %w", ag.Name(), err)
	}
	if !artifact.HasBlock(output) {
		return ErrNoBlock
	}

	body, err := artifact.Render(ag.Name(), output)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(r.opts.ArtifactDir, 0755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	path := artifact.Path(r.opts.ArtifactDir, job.Key)
	if err := atomic.WriteFile(path, strings.NewReader(body)); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}

	if err := r.opts.Store.ReconcileArtifact(path); err != nil {
		return err
	}
	remote := metadata.RemoteItem{
		Number:    item.Number,
		Title:     item.Title,
		State:     item.State,
		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
	}
	// An issue closed before its analysis finished is folded the same way
	// a sync pass would fold it.
	if item.State == tracker.StateClosed {
		if _, err := r.opts.Store.ApplyRemoteClosed(remote); err != nil {
			return err
		}
	} else if err := r.opts.Store.ReconcileFromRemote([]metadata.RemoteItem{remote}); err != nil {
		return err
	}

	log.Printf("[triage] #%d: wrote %s", job.Key, path)
	return nil
}
