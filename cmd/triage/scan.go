package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chhoumann/claude-github-triage/internal/config"
)

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Fold triage artifacts on disk into the metadata store",
		Long: `Scan the artifact directory and update the metadata store from every
issue-<n>-triage.md file. Running it again without changes is a no-op.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, err := loadProject(config.ProjectOptions{})
			if err != nil {
				return err
			}
			store, err := openStore(p)
			if err != nil {
				return err
			}
			res, err := store.ReconcileFromArtifacts()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scanned %d artifacts: %d new, %d updated, %d skipped\n",
				res.Scanned, res.Created, res.Updated, res.Skipped)
			return nil
		},
	}
}
