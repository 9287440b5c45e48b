package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chhoumann/claude-github-triage/internal/config"
	"github.com/chhoumann/claude-github-triage/internal/syncer"
	"github.com/chhoumann/claude-github-triage/internal/tracker"
)

func syncCmd() *cobra.Command {
	var (
		backfill bool
		watch    bool
		schedule string
		labels   []string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile local records with issues closed on GitHub",
		Long: `Page through closed issues and mark their records closed. An analyzed
issue that was still unread becomes read, since it no longer needs attention.

Examples:
  triage sync                      # One pass over closed issues
  triage sync --backfill           # Also refresh titles and dates of open issues
  triage sync --watch              # Keep syncing on the configured schedule
  triage sync --watch --schedule "@every 5m"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, err := loadProject(config.ProjectOptions{RequireToken: true})
			if err != nil {
				return err
			}
			store, err := openStore(p)
			if err != nil {
				return err
			}
			tr, err := newTracker(p)
			if err != nil {
				return err
			}
			rec := syncer.New(tr, store)
			rec.Labels = labels
			out := cmd.OutOrStdout()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if backfill {
				res, err := rec.Backfill(ctx)
				if err != nil {
					return fmt.Errorf("backfill: %w", err)
				}
				fmt.Fprintf(out, "Backfilled %d open issues (%d pages)\n", res.Seen, res.Pages)
			}

			res, err := rec.Run(ctx)
			printSyncResult(out, res)
			if err != nil {
				if tracker.IsTransient(err) {
					fmt.Fprintln(out, "Sync stopped early on a transient GitHub error; run it again to continue.")
				}
				return err
			}
			if !watch {
				return nil
			}

			if schedule == "" {
				schedule = p.Schedule
			}
			sched, err := syncer.NewScheduler(rec, schedule)
			if err != nil {
				return err
			}
			sched.OnResult = func(res syncer.Result, err error) {
				if err == nil {
					printSyncResult(out, res)
				}
			}
			if err := sched.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(out, "Watching (%s), press Ctrl-C to stop\n", schedule)
			<-ctx.Done()
			sched.Stop()
			return nil
		},
	}

	cmd.Flags().BoolVar(&backfill, "backfill", false, "refresh metadata of open issues first")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running passes on a schedule")
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron schedule for --watch (default: sync_schedule from config)")
	cmd.Flags().StringSliceVar(&labels, "label", nil, "only issues with these labels")

	return cmd
}

func printSyncResult(w io.Writer, res syncer.Result) {
	fmt.Fprintf(w, "Synced %d closed issues: %d updated, %d already consistent, %d not analyzed\n",
		res.TotalClosedSeen, res.Updated, res.AlreadyConsistent, res.Unanalyzed)
}
