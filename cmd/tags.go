package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sagenote/sage/internal/rag"
)

var (
	maxTags          int
	tagMinConfidence float32
	tagsLexicalOnly  bool
)

var tagsCmd = &cobra.Command{
	Use:   "tags [note]",
	Short: "Suggest tags for a note",
	Args:  cobra.ExactArgs(1),
	RunE:  runTags,
}

func init() {
	tagsCmd.Flags().IntVar(&maxTags, "max", 5, "maximum number of suggestions")
	tagsCmd.Flags().Float32Var(&tagMinConfidence, "min-confidence", 0.2, "drop suggestions below this confidence")
	tagsCmd.Flags().BoolVar(&tagsLexicalOnly, "lexical-only", false, "skip the model and use word frequency only")
	rootCmd.AddCommand(tagsCmd)
}

func runTags(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	system, cleanup, err := buildSystem(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := []rag.TagOption{
		rag.WithMaxTags(maxTags),
		rag.WithMinConfidence(tagMinConfidence),
	}
	if tagsLexicalOnly {
		opts = append(opts, rag.WithoutModel())
	}

	suggestions, err := system.SuggestTags(ctx, args[0], opts...)
	if err != nil {
		return err
	}
	if len(suggestions) == 0 {
		fmt.Println("No tag suggestions.")
		return nil
	}
	for _, s := range suggestions {
		fmt.Printf("%-20s %.2f  %s\n", s.Tag, s.Confidence, s.Reason)
	}
	return nil
}
