package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chhoumann/claude-github-triage/internal/config"
	"github.com/chhoumann/claude-github-triage/internal/metadata"
)

func markCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark <read|unread> <issue>...",
		Short: "Mark issues read or unread",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := metadata.ParseReviewState(args[0])
			if err != nil {
				return err
			}
			nums, err := parseNumbers(args[1:])
			if err != nil {
				return err
			}
			store, err := localStore()
			if err != nil {
				return err
			}
			for _, n := range nums {
				if err := store.SetReviewState(n, state); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Marked %d issues %s\n", len(nums), state)
			return nil
		},
	}
}

func noteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "note <issue> <text>...",
		Short: "Append a note to an issue",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nums, err := parseNumbers(args[:1])
			if err != nil {
				return err
			}
			store, err := localStore()
			if err != nil {
				return err
			}
			return store.AddNote(nums[0], strings.Join(args[1:], " "))
		},
	}
}

func tagCmd() *cobra.Command {
	var remove bool

	cmd := &cobra.Command{
		Use:   "tag <issue> <tag>...",
		Short: "Add or remove tags on an issue",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nums, err := parseNumbers(args[:1])
			if err != nil {
				return err
			}
			store, err := localStore()
			if err != nil {
				return err
			}
			if remove {
				err = store.RemoveTags(nums[0], args[1:]...)
			} else {
				err = store.AddTags(nums[0], args[1:]...)
			}
			if err != nil {
				return err
			}
			rec, _ := store.Get(nums[0])
			fmt.Fprintf(cmd.OutOrStdout(), "#%d tags: %s\n", rec.Number, orDash(strings.Join(rec.Tags, ", ")))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&remove, "remove", "d", false, "remove the tags instead")

	return cmd
}

// localStore opens the store for commands that never talk to GitHub.
func localStore() (*metadata.Store, error) {
	_, p, err := loadProject(config.ProjectOptions{})
	if err != nil {
		return nil, err
	}
	return openStore(p)
}
