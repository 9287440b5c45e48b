package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chhoumann/claude-github-triage/internal/agent"
	"github.com/chhoumann/claude-github-triage/internal/config"
	"github.com/chhoumann/claude-github-triage/internal/metadata"
	"github.com/chhoumann/claude-github-triage/internal/queue"
	"github.com/chhoumann/claude-github-triage/internal/storage"
	"github.com/chhoumann/claude-github-triage/internal/streamfmt"
	"github.com/chhoumann/claude-github-triage/internal/tracker"
	"github.com/chhoumann/claude-github-triage/internal/triage"
)

// newRegistry is replaced in tests.
var newRegistry = agent.DefaultRegistry

func runCmd() *cobra.Command {
	var (
		agentName   string
		concurrency int
		jsonOutput  bool
		allOpen     bool
		reanalyze   bool
		labels      []string
	)

	cmd := &cobra.Command{
		Use:   "run [issue...]",
		Short: "Analyze issues with an agent",
		Long: `Analyze the given issues, or every open issue with --open, and write one
triage artifact per issue.

Examples:
  triage run 42 43                 # Analyze two issues
  triage run --open                # Analyze open issues not yet analyzed
  triage run --open --label bug    # Only open issues labeled bug
  triage run --agent codex -j 5 42 # Use codex with five concurrent jobs
  triage run --json 42             # Stream lifecycle events as JSON lines`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if allOpen == (len(args) > 0) {
				return fmt.Errorf("specify issue numbers or --open")
			}
			keys, err := parseNumbers(args)
			if err != nil {
				return err
			}

			cfg, p, err := loadProject(config.ProjectOptions{
				Agent:        agentName,
				Concurrency:  concurrency,
				RequireToken: true,
			})
			if err != nil {
				return err
			}

			registry := newRegistry(cfg)
			if _, err := registry.Get(p.Agent); err != nil {
				return fmt.Errorf("%w (available: %v)", err, registry.Available())
			}
			if !registry.IsAvailable(p.Agent) {
				return fmt.Errorf("agent %s is not installed", p.Agent)
			}

			store, err := openStore(p)
			if err != nil {
				return err
			}
			tr, err := newTracker(p)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if allOpen {
				keys, err = openIssueKeys(ctx, tr, store, labels, reanalyze)
				if err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			if len(keys) == 0 {
				if !jsonOutput {
					fmt.Fprintln(out, "Nothing to analyze.")
				}
				return nil
			}

			db, err := storage.Open(p.HistoryDBPath())
			if err != nil {
				return fmt.Errorf("open run history: %w", err)
			}
			defer db.Close()
			if _, err := db.AbandonRunning(); err != nil {
				return fmt.Errorf("run history: %w", err)
			}

			opts := triage.Options{
				Tracker:     tr,
				Agents:      registry,
				Store:       store,
				ArtifactDir: p.ArtifactDir,
				WorkDir:     p.WorkDir,
				Repo:        p.Slug(),
				Guidelines:  p.Guidelines,
				MaxSteps:    p.MaxSteps,
			}
			if verbose {
				errOut := cmd.ErrOrStderr()
				progress := &progressLog{w: errOut, tty: writerIsTerminal(errOut)}
				if progress.tty {
					progress.width = streamfmt.TerminalWidth(errOut)
				}
				opts.Progress = progress.writer
			}

			q := queue.New(triage.New(opts), queue.Options{
				Concurrency: p.Concurrency,
				Capability:  p.Agent,
				JobTimeout:  p.JobTimeout,
			})

			histID, histEvents := q.Subscribe()
			histDone := make(chan struct{})
			go func() {
				defer close(histDone)
				triage.RecordHistory(histEvents, db, p.Slug())
			}()

			outID, events := q.Subscribe()
			admitted := q.Enqueue(keys...)
			if !jsonOutput {
				fmt.Fprintf(out, "Analyzing %d issues with %s (%d at a time)\n", admitted, p.Agent, p.Concurrency)
			}

			failed := 0
			stopping := false
			for drained := false; !drained; {
				select {
				case <-ctx.Done():
					if !stopping {
						stopping = true
						q.Stop()
						if n := len(q.ActiveKeys()); n > 0 && !jsonOutput {
							fmt.Fprintf(out, "Stopping: waiting for %d running jobs\n", n)
						}
					}
					ctx = context.Background()
				case e := <-events:
					if _, ok := e.(queue.Failed); ok {
						failed++
					}
					if _, ok := e.(queue.Drained); ok {
						drained = true
					}
					if err := printEvent(out, e, jsonOutput); err != nil {
						q.Stop()
						q.Unsubscribe(outID)
						_ = q.Wait(context.Background())
						q.Unsubscribe(histID)
						<-histDone
						return err
					}
				}
			}

			q.Unsubscribe(outID)
			q.Unsubscribe(histID)
			<-histDone

			if failed > 0 {
				cmd.SilenceErrors = true
				if !jsonOutput {
					fmt.Fprintf(out, "%d of %d jobs failed (see `triage log`)\n", failed, admitted)
				}
				return &exitError{code: 1}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&agentName, "agent", "", "agent to use (claude-code, codex, test)")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "j", 0, "maximum concurrent jobs")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "stream events as JSON lines")
	cmd.Flags().BoolVar(&allOpen, "open", false, "analyze open issues")
	cmd.Flags().BoolVar(&reanalyze, "reanalyze", false, "with --open, include already analyzed issues")
	cmd.Flags().StringSliceVar(&labels, "label", nil, "with --open, only issues with these labels")

	return cmd
}

// openIssueKeys lists open issues, oldest number first.
func openIssueKeys(ctx context.Context, tr *tracker.Client, store *metadata.Store, labels []string, reanalyze bool) ([]int, error) {
	var keys []int
	for page := 1; ; page++ {
		p, err := tr.ListItems(ctx, tracker.StateOpen, labels, page)
		if err != nil {
			return nil, fmt.Errorf("list open issues: %w", err)
		}
		for _, item := range p.Items {
			if rec, ok := store.Get(item.Number); ok && rec.Analyzed() && !reanalyze {
				continue
			}
			keys = append(keys, item.Number)
		}
		if p.Last() {
			break
		}
	}
	// Listing is newest first.
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	return keys, nil
}

func printEvent(w io.Writer, e queue.Event, jsonOutput bool) error {
	if jsonOutput {
		data, err := queue.MarshalEvent(e)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}

	ts := e.Time().Local().Format("15:04:05")
	switch ev := e.(type) {
	case queue.Started:
		fmt.Fprintf(w, "[%s] #%d started (%s)\n", ts, ev.Key, ev.Capability)
	case queue.Succeeded:
		fmt.Fprintf(w, "[%s] #%d done in %s\n", ts, ev.Key, ev.Duration.Round(time.Second))
	case queue.Failed:
		fmt.Fprintf(w, "[%s] #%d failed after %s: %s\n", ts, ev.Key, ev.Duration.Round(time.Second), ev.Err)
	case queue.Drained:
		fmt.Fprintf(w, "[%s] all jobs finished\n", ts)
	}
	return nil
}

// progressLog prefixes each line of agent output with its issue number.
// On a terminal the agent's event stream is condensed first.
type progressLog struct {
	mu    sync.Mutex
	w     io.Writer
	tty   bool
	width int
}

func (p *progressLog) writer(key int) io.Writer {
	prefix := fmt.Sprintf("#%d | ", key)
	lw := &lineWriter{log: p, prefix: prefix}
	width := 0
	if p.width > 0 {
		width = max(p.width-len(prefix), 20)
	}
	return streamfmt.New(lw, p.tty, width)
}

type lineWriter struct {
	log    *progressLog
	prefix string
	buf    []byte
}

func (lw *lineWriter) Write(b []byte) (int, error) {
	lw.buf = append(lw.buf, b...)
	for {
		i := bytes.IndexByte(lw.buf, '\n')
		if i < 0 {
			break
		}
		lw.log.mu.Lock()
		_, err := fmt.Fprintf(lw.log.w, "%s%s\n", lw.prefix, lw.buf[:i])
		lw.log.mu.Unlock()
		if err != nil {
			return 0, err
		}
		lw.buf = lw.buf[i+1:]
	}
	return len(b), nil
}
