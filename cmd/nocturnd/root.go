package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "nocturnd",
	Short: "Autonomous nightly coding-task runner",
	Long: `nocturnd runs queued development tasks overnight with external coding
agents, inside a configured time window and behind a safety layer.

Core capabilities:
- Executes tasks through Claude Code, GitHub Copilot, Cursor or the
  Anthropic API, with automatic fallback between them
- Only works inside the configured nightly window with daily change quotas
- Scans every task for dangerous operations before execution
- Snapshots the repository before and after each change, with automatic
  rollback when something goes wrong
- Re-runs low-quality results through an improvement cycle`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(safetyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
