package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sagenote/sage/internal/rag"
)

var summaryStyle string

var summarizeCmd = &cobra.Command{
	Use:   "summarize [note]",
	Short: "Summarize a note",
	Args:  cobra.ExactArgs(1),
	RunE:  runSummarize,
}

func init() {
	summarizeCmd.Flags().StringVar(&summaryStyle, "style", string(rag.StyleBrief),
		"summary style: brief, detailed, bullet_points, key_insights")
	rootCmd.AddCommand(summarizeCmd)
}

func runSummarize(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	system, cleanup, err := buildSystem(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	summary, err := system.SummarizeNote(ctx, args[0], rag.SummaryStyle(summaryStyle))
	if err != nil {
		return err
	}
	fmt.Println(summary.Summary)
	if len(summary.KeyPoints) > 0 {
		fmt.Println()
		for _, kp := range summary.KeyPoints {
			fmt.Println("-", kp)
		}
	}
	fmt.Printf("\n%d words, ~%d min read\n", summary.WordCount, summary.ReadingTime)
	return nil
}
