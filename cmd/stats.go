package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	system, cleanup, err := buildSystem(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	stats, err := system.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Notes indexed:   %d\n", stats.Vector.UniqueNotes)
	fmt.Printf("Chunk vectors:   %d\n", stats.Embedding.TotalEmbeddings)
	fmt.Printf("Index size:      %d bytes\n", stats.Embedding.CacheSizeBytes)
	return nil
}
