package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Dependency-aware task orchestrator",
	Long: `Conductor runs workflows of interdependent tasks across registered
workers. It resolves the dependency graph, dispatches ready tasks up to a
concurrency bound, retries transient failures with exponential backoff, and
settles tasks downstream of a failure according to policy.

Define a workflow in YAML and run it:

  conductor run workflow.yaml

Validate a workflow file without running it:

  conductor validate workflow.yaml`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file (default: .conductor.yaml, then ~/.config/conductor/config.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}
