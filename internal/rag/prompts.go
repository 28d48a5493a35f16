package rag

import (
	"fmt"
	"strings"
)

// SummaryStyle selects the shape of a note summary.
type SummaryStyle string

const (
	StyleBrief       SummaryStyle = "brief"
	StyleDetailed    SummaryStyle = "detailed"
	StyleBulletPoint SummaryStyle = "bullet-points"
	StyleKeyInsights SummaryStyle = "key-insights"
)

// summaryInstructions maps each style to its prompt directive.
var summaryInstructions = map[SummaryStyle]string{
	StyleBrief:       "Write a summary of at most three sentences.",
	StyleDetailed:    "Write a thorough summary covering every major topic in the note.",
	StyleBulletPoint: "Summarize the note as a list of concise bullet points.",
	StyleKeyInsights: "Extract the most important insights and takeaways from the note.",
}

// buildQueryPrompt assembles the grounded Q&A prompt. Sources are
// numbered so the model can cite them; total source bytes are capped at
// contextWindow, dropping the lowest-scored passages first.
func buildQueryPrompt(query string, sources []RetrievalResult, contextWindow int) string {
	var sb strings.Builder
	sb.WriteString("You are answering a question using only the user's own notes.\n")
	sb.WriteString("Base your answer strictly on the numbered sources below. ")
	sb.WriteString("Cite sources as [1], [2] and so on. ")
	sb.WriteString("If the sources do not contain the answer, say so plainly.\n\n")

	if len(sources) == 0 {
		sb.WriteString("No relevant notes were found.\n")
	} else {
		sb.WriteString("Sources:\n")
		used := 0
		for i, src := range sources {
			entry := fmt.Sprintf("[%d] %s\n%s\n\n", i+1, src.NoteTitle, src.Snippet)
			if used+len(entry) > contextWindow && used > 0 {
				break
			}
			sb.WriteString(entry)
			used += len(entry)
		}
	}

	sb.WriteString("Question: ")
	sb.WriteString(query)
	sb.WriteString("\nAnswer:")
	return sb.String()
}

// emptyCorpusAnswer is returned when retrieval finds nothing relevant.
// Not an error: the host shows it like any other answer.
const emptyCorpusAnswer = "I could not find anything relevant in your notes. " +
	"Try rephrasing the question or adding more notes on this topic."

// buildSummaryPrompt assembles the note-summary prompt for a style.
// Unknown styles fall back to brief.
func buildSummaryPrompt(title, content string, style SummaryStyle) string {
	instruction, ok := summaryInstructions[style]
	if !ok {
		instruction = summaryInstructions[StyleBrief]
	}

	var sb strings.Builder
	sb.WriteString("Summarize the following note.\n")
	sb.WriteString(instruction)
	sb.WriteString("\nAfter the summary, list the key points, one per line, each starting with \"- \".\n\n")
	sb.WriteString("Title: ")
	sb.WriteString(title)
	sb.WriteString("\n\n")
	sb.WriteString(content)
	sb.WriteString("\n\nSummary:")
	return sb.String()
}

// buildTagsPrompt assembles the tag-suggestion prompt. The note's own
// tags are listed so the model avoids proposing them again (the merge
// step enforces that regardless); the vault vocabulary steers the model
// toward tags the user already uses elsewhere.
func buildTagsPrompt(title, content string, existing, vault []string, maxTags int) string {
	var sb strings.Builder
	sb.WriteString("Suggest tags for the following note.\n")
	fmt.Fprintf(&sb, "Return at most %d tags, one per line, formatted as \"tag|confidence|reason\" ", maxTags)
	sb.WriteString("where confidence is a number between 0 and 1.\n")
	sb.WriteString("Use short lowercase tags. Do not suggest any of the note's current tags.\n\n")
	if len(existing) > 0 {
		sb.WriteString("Current tags: ")
		sb.WriteString(strings.Join(existing, ", "))
		sb.WriteString("\n\n")
	}
	if len(vault) > 0 {
		sb.WriteString("Prefer these tags from the user's vault when they fit: ")
		sb.WriteString(strings.Join(vault, ", "))
		sb.WriteString("\n\n")
	}
	sb.WriteString("Title: ")
	sb.WriteString(title)
	sb.WriteString("\n\n")
	sb.WriteString(content)
	sb.WriteString("\n\nTags:")
	return sb.String()
}
