package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index all notes in the notes directory",
	RunE:  runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	system, cleanup, err := buildSystem(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := system.ReindexAll(ctx); err != nil {
		return fmt.Errorf("indexing notes: %w", err)
	}

	stats, err := system.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Indexed %d notes (%d chunks).\n",
		stats.Vector.UniqueNotes, stats.Embedding.TotalEmbeddings)
	return nil
}
