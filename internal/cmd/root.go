// Package cmd implements the studytrack command line.
package cmd

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "studytrack.yaml"

// NewRootCmd builds the command tree. Each call returns a fresh tree, so flag
// values never leak between invocations.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "studytrack",
		Short: "event-sourced tracking for multi-scenario decision studies",
		Long: `studytrack records participant interactions as an append-only event log,
persists them through a resilient write pipeline and derives per-session
analytics once the study completes.

Configuration is read from --config (YAML) and then from STUDYTRACK_*
environment variables.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", defaultConfigPath, "path to the YAML config file")

	root.AddCommand(
		newRunCmd(),
		newInspectCmd(),
		newDeriveCmd(),
		newSyncCmd(),
		newReplayCmd(),
		newExportFixtureCmd(),
		newServeCmd(),
		newSinkCmd(),
		newConfigCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
