package rag

import "strings"

// readingWordsPerMinute is the rate used for ReadingTime.
const readingWordsPerMinute = 200

// parseSummary splits a model response into summary prose and key
// points. Lines starting with "- " or "* " become key points; everything
// else is summary text.
func parseSummary(response string) NoteSummary {
	var (
		proseLines []string
		keyPoints  []string
	)
	for _, line := range strings.Split(response, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "- "):
			keyPoints = append(keyPoints, strings.TrimSpace(trimmed[2:]))
		case strings.HasPrefix(trimmed, "* "):
			keyPoints = append(keyPoints, strings.TrimSpace(trimmed[2:]))
		case trimmed != "":
			proseLines = append(proseLines, trimmed)
		}
	}

	summary := strings.Join(proseLines, "\n")
	if summary == "" && len(keyPoints) > 0 {
		// Bullet-only responses: the points are the summary.
		summary = strings.TrimSpace(response)
	}

	words := len(strings.Fields(summary))
	return NoteSummary{
		Summary:     summary,
		KeyPoints:   keyPoints,
		WordCount:   words,
		ReadingTime: readingTime(words),
	}
}

// readingTime is ceil(words/200), minimum 1.
func readingTime(words int) int {
	minutes := (words + readingWordsPerMinute - 1) / readingWordsPerMinute
	if minutes < 1 {
		return 1
	}
	return minutes
}
