package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the vector index",
	RunE:  runClear,
}

func init() {
	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	system, cleanup, err := buildSystem(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := system.ClearIndex(ctx); err != nil {
		return fmt.Errorf("clearing index: %w", err)
	}
	fmt.Println("Index cleared.")
	return nil
}
