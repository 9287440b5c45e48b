package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chhoumann/claude-github-triage/internal/config"
	"github.com/chhoumann/claude-github-triage/internal/metadata"
	"github.com/chhoumann/claude-github-triage/internal/tracker"
)

func closeCmd() *cobra.Command {
	var markRead bool

	cmd := &cobra.Command{
		Use:   "close <issue>...",
		Short: "Close issues on GitHub and record it locally",
		Long: `Close issues on GitHub, then mark their records closed. The local record
is only changed after GitHub accepted the close.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nums, err := parseNumbers(args)
			if err != nil {
				return err
			}
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

			for _, n := range nums {
				item, err := tr.UpdateItem(cmd.Context(), n, tracker.Update{State: tracker.StateClosed})
				if err != nil {
					return fmt.Errorf("close #%d: %w", n, err)
				}
				if _, ok := store.Get(n); ok {
					err = store.SetClosedRemotely(n, true)
				} else {
					err = store.ReconcileFromRemote([]metadata.RemoteItem{{
						Number:    item.Number,
						Title:     item.Title,
						State:     tracker.StateClosed,
						CreatedAt: item.CreatedAt,
						UpdatedAt: item.UpdatedAt,
					}})
				}
				if err != nil {
					return fmt.Errorf("#%d closed on GitHub but not recorded: %w", n, err)
				}
				if markRead {
					if err := store.SetReviewState(n, metadata.Read); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Closed #%d\n", n)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&markRead, "mark-read", true, "also mark the issue read")

	return cmd
}
