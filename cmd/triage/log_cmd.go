package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/chhoumann/claude-github-triage/internal/config"
	"github.com/chhoumann/claude-github-triage/internal/storage"
)

func logCmd() *cobra.Command {
	var (
		issue      int
		status     string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show analysis run history",
		Long: `Show past analysis runs, newest first.

Examples:
  triage log                       # Last 20 runs
  triage log --issue 42            # Every run for #42
  triage log --status failed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch storage.RunStatus(status) {
			case "", storage.RunRunning, storage.RunSucceeded, storage.RunFailed:
			default:
				return fmt.Errorf("invalid status %q (want running, succeeded or failed)", status)
			}

			_, p, err := loadProject(config.ProjectOptions{})
			if err != nil {
				return err
			}
			db, err := storage.Open(p.HistoryDBPath())
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.ListRuns(storage.RunFilter{
				Repo:   p.Slug(),
				Issue:  issue,
				Status: storage.RunStatus(status),
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs found.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Started\t#\tAgent\tStatus\tDuration\tError\n")
			for _, r := range runs {
				dur := "-"
				if r.FinishedAt != nil {
					dur = r.Duration.Round(time.Second).String()
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
					r.StartedAt.Local().Format("2006-01-02 15:04"), r.Issue, r.Agent,
					r.Status, dur, truncate(r.Error, 60))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&issue, "issue", 0, "only runs for this issue")
	cmd.Flags().StringVar(&status, "status", "", "only runs with this status")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "show at most this many runs")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}
