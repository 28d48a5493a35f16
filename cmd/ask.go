package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sagenote/sage/internal/rag"
)

var (
	noStream bool
	askNotes []string
	askLimit int
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from your notes",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&noStream, "no-stream", false, "print the answer in one piece")
	askCmd.Flags().StringSliceVar(&askNotes, "note", nil, "restrict the search to these note ids")
	askCmd.Flags().IntVar(&askLimit, "limit", 0, "override the configured number of passages")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return fmt.Errorf("question is empty")
	}

	system, cleanup, err := buildSystem(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	var opts []rag.QueryOption
	if len(askNotes) > 0 {
		opts = append(opts, rag.WithinNotes(askNotes...))
	}
	if askLimit > 0 {
		opts = append(opts, rag.WithLimit(askLimit))
	}

	if noStream {
		resp, err := system.Query(ctx, question, opts...)
		if err != nil {
			return err
		}
		fmt.Println(resp.Answer)
		printSources(resp.Sources)
		return nil
	}

	stream, err := system.StreamQuery(ctx, question, opts...)
	if err != nil {
		return err
	}
	defer stream.Close()

	for frag := range stream.Fragments() {
		fmt.Print(frag)
	}
	fmt.Println()
	if err := stream.Err(); err != nil {
		return err
	}
	printSources(stream.Sources())
	return nil
}

func printSources(sources []rag.RetrievalResult) {
	if len(sources) == 0 {
		return
	}
	fmt.Println("\nSources:")
	for i, src := range sources {
		fmt.Printf("  [%d] %s (%.2f)\n", i+1, src.NoteTitle, src.Score)
	}
}
