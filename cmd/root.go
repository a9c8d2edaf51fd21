// Package cmd implements the advisor CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "advisor",
	Short: "Advisor - grounded advice chat over a curated corpus",
	Long: `Advisor answers questions using only a curated advice corpus.

Queries are matched against precomputed embeddings, the best entries are
selected as grounding, and a two-stage generation pipeline produces a
styled answer that never strays outside the corpus.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
