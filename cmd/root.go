// Package cmd implements the matchchain command line interface.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "matchchain",
	Short: "Build and inspect cross-binary match chains",
	Long: `matchchain links pairwise BinDiff results across an ordered sequence of
related binaries into match chains: functions and basic blocks that can be
followed through every binary of the chain under one identity.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
