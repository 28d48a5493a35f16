package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var similarLimit int

var similarCmd = &cobra.Command{
	Use:   "similar [note]",
	Short: "List notes similar to the given note file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSimilar,
}

func init() {
	similarCmd.Flags().IntVar(&similarLimit, "limit", 5, "maximum number of results")
	rootCmd.AddCommand(similarCmd)
}

func runSimilar(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	system, cleanup, err := buildSystem(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	similar, err := system.GetSimilarNotes(ctx, args[0], similarLimit)
	if err != nil {
		return err
	}
	if len(similar) == 0 {
		fmt.Println("No similar notes found. Is the note indexed?")
		return nil
	}
	for _, sn := range similar {
		fmt.Printf("%.2f  %s  (%s)\n", sn.Score, sn.Title, sn.NoteID)
	}
	return nil
}
