// Package cmd implements the sage command line interface: indexing a
// directory of notes and querying the resulting index.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	notesDir string
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "sage",
	Short: "Semantic search and Q&A over your notes",
	Long: `Sage indexes a directory of markdown notes into a local vector store
and answers questions grounded in their content.

Configuration lives in ~/.sage/config.yaml; every key can be overridden
with SAGE_* environment variables.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&notesDir, "notes", ".", "directory containing note files")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
