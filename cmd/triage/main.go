package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

var (
	repoFlag    string
	workDirFlag string
	verbose     bool
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime)
	log.SetOutput(os.Stderr)

	if err := newRootCmd().Execute(); err != nil {
		// Check for exitError to exit with specific code without extra output
		if exitErr, ok := err.(*exitError); ok {
			os.Exit(exitErr.code)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "triage",
		Short: "AI-assisted triage for GitHub issues",
		Long: `triage runs an analysis agent (Claude Code, Codex) over GitHub issues with
read-only access to the project's source, stores one triage artifact per
issue and tracks which recommendations you have reviewed.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", "", "GitHub repository (owner/name)")
	rootCmd.PersistentFlags().StringVarP(&workDirFlag, "dir", "C", "", "project working directory (default: current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(markCmd())
	rootCmd.AddCommand(noteCmd())
	rootCmd.AddCommand(tagCmd())
	rootCmd.AddCommand(closeCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}
