package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chhoumann/claude-github-triage/internal/artifact"
	"github.com/chhoumann/claude-github-triage/internal/config"
	"github.com/chhoumann/claude-github-triage/internal/metadata"
)

// titleWidth is the title column width on a terminal.
const titleWidth = 60

func listCmd() *cobra.Command {
	var (
		unread     bool
		read       bool
		closeRec   bool
		keep       bool
		closed     bool
		open       bool
		search     string
		tag        string
		model      string
		sortBy     string
		ascending  bool
		limit      int
		all        bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List triaged issues",
		Long: `List issue records with optional filtering.

By default only analyzed issues are listed, newest number first.

Examples:
  triage list --unread --close     # Unreviewed close recommendations
  triage list --open --sort updated
  triage list --search login       # Match number, title or labels
  triage list --tag later --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if unread && read {
				return fmt.Errorf("cannot use both --unread and --read")
			}
			if closeRec && keep {
				return fmt.Errorf("cannot use both --close and --keep")
			}
			if closed && open {
				return fmt.Errorf("cannot use both --closed and --open")
			}

			f := metadata.Filter{
				Text:         search,
				Tag:          tag,
				ModelTag:     model,
				AnalyzedOnly: !all,
			}
			switch {
			case unread:
				f.ReviewState = metadata.Unread
			case read:
				f.ReviewState = metadata.Read
			}
			switch {
			case closeRec:
				f.Recommendation = artifact.RecommendClose
			case keep:
				f.Recommendation = artifact.RecommendKeep
			}
			if closed || open {
				f.Closed = &closed
			}
			key, err := metadata.ParseSortKey(sortBy)
			if err != nil {
				return err
			}

			_, p, err := loadProject(config.ProjectOptions{})
			if err != nil {
				return err
			}
			store, err := openStore(p)
			if err != nil {
				return err
			}

			records := store.Query(f, metadata.Sort{Key: key, Ascending: ascending})
			if limit > 0 && len(records) > limit {
				records = records[:limit]
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}

			if len(records) == 0 {
				fmt.Fprintln(out, "No issues found.")
				return nil
			}

			width := 0
			if writerIsTerminal(out) {
				width = titleWidth
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "#\tState\tVerdict\tConf\tRemote\tTitle\n")
			for _, r := range records {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					r.Number, r.ReviewState, orDash(string(r.Recommendation)),
					orDash(string(r.Confidence)), remoteState(r), truncate(r.Title, width))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&unread, "unread", false, "only unread issues")
	cmd.Flags().BoolVar(&read, "read", false, "only read issues")
	cmd.Flags().BoolVar(&closeRec, "close", false, "only issues recommended for closing")
	cmd.Flags().BoolVar(&keep, "keep", false, "only issues recommended to keep open")
	cmd.Flags().BoolVar(&closed, "closed", false, "only issues closed on GitHub")
	cmd.Flags().BoolVar(&open, "open", false, "only issues open on GitHub")
	cmd.Flags().StringVarP(&search, "search", "s", "", "match number, title or labels")
	cmd.Flags().StringVar(&tag, "tag", "", "only issues with this tag")
	cmd.Flags().StringVar(&model, "model", "", "only issues analyzed by this agent")
	cmd.Flags().StringVar(&sortBy, "sort", "number", "sort by number, generated, created or updated")
	cmd.Flags().BoolVar(&ascending, "asc", false, "sort ascending")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most this many issues")
	cmd.Flags().BoolVar(&all, "all", false, "include issues without an analysis")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func remoteState(r metadata.Record) string {
	if r.ClosedRemotely {
		return "closed"
	}
	return "open"
}

func showCmd() *cobra.Command {
	var markRead bool

	cmd := &cobra.Command{
		Use:   "show <issue>",
		Short: "Show an issue's triage analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nums, err := parseNumbers(args)
			if err != nil {
				return err
			}
			n := nums[0]

			_, p, err := loadProject(config.ProjectOptions{})
			if err != nil {
				return err
			}
			store, err := openStore(p)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(artifact.Path(p.ArtifactDir, n))
			if os.IsNotExist(err) {
				return fmt.Errorf("#%d has not been analyzed", n)
			}
			if err != nil {
				return err
			}
			res := artifact.Parse(string(data))

			out := cmd.OutOrStdout()
			rec, _ := store.Get(n)
			title := rec.Title
			if title == "" {
				title = "(title unknown, run `triage sync --backfill`)"
			}
			fmt.Fprintf(out, "#%d %s\n", n, title)
			fmt.Fprintf(out, "Recommendation: %s (confidence %s)\n", res.Recommendation, orDash(string(res.Confidence)))
			if len(res.Labels) > 0 {
				fmt.Fprintf(out, "Labels: %s\n", strings.Join(res.Labels, ", "))
			}
			if res.Model != "" {
				fmt.Fprintf(out, "Model: %s\n", res.Model)
			}
			if len(rec.Tags) > 0 {
				fmt.Fprintf(out, "Tags: %s\n", strings.Join(rec.Tags, ", "))
			}
			if !res.Complete {
				fmt.Fprintln(out, "Warning: analysis block is incomplete")
			}
			fmt.Fprintf(out, "\n%s\n", res.Analysis)
			if res.SuggestedResponse != "" {
				fmt.Fprintf(out, "\nSuggested response:\n%s\n", res.SuggestedResponse)
			}
			if rec.Notes != "" {
				fmt.Fprintf(out, "\nNotes:\n%s\n", rec.Notes)
			}

			if markRead {
				if err := store.ReconcileArtifact(artifact.Path(p.ArtifactDir, n)); err != nil {
					return err
				}
				return store.SetReviewState(n, metadata.Read)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&markRead, "mark-read", false, "mark the issue read after showing it")

	return cmd
}

func statsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show triage counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, err := loadProject(config.ProjectOptions{})
			if err != nil {
				return err
			}
			store, err := openStore(p)
			if err != nil {
				return err
			}
			st := store.Stats()

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Issues\t%d\n", st.Total)
			fmt.Fprintf(w, "Analyzed\t%d\n", st.Analyzed)
			fmt.Fprintf(w, "Unread\t%d\n", st.Unread)
			fmt.Fprintf(w, "Read\t%d\n", st.Read)
			fmt.Fprintf(w, "Recommended close\t%d\n", st.ShouldClose)
			fmt.Fprintf(w, "Closed on GitHub\t%d\n", st.ClosedRemotely)
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}
