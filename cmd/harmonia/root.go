package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "harmonia",
	Short: "Multi-agent task orchestration",
	Long: `Harmonia routes submitted commands to specialized agents, tracks each
task through its lifecycle, and streams progress events to listeners.

Core capabilities:
- Priority-queued command admission with FIFO ordering per priority
- Graph-driven agent execution with per-node progress reporting
- Mid-task consultation between agents
- Recurring commands from a YAML schedule with hot reload
- SQLite-backed task history`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file (overrides XDG lookup)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(versionCmd)
}
