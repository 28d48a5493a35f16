package rag

import (
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// stopwords excluded from lexical tag candidates.
var stopwords = map[string]struct{}{
	"about": {}, "after": {}, "also": {}, "been": {}, "being": {},
	"could": {}, "every": {}, "from": {}, "have": {}, "here": {},
	"into": {}, "just": {}, "like": {}, "more": {}, "most": {},
	"only": {}, "other": {}, "over": {}, "some": {}, "still": {},
	"than": {}, "that": {}, "their": {}, "them": {}, "then": {},
	"there": {}, "these": {}, "they": {}, "this": {}, "thus": {},
	"very": {}, "want": {}, "were": {}, "what": {}, "when": {},
	"where": {}, "which": {}, "while": {}, "will": {}, "with": {},
	"would": {}, "your": {},
}

// parseTagSuggestions reads "tag|confidence|reason" lines from a model
// response. Malformed lines are dropped.
func parseTagSuggestions(response string) []TagSuggestion {
	var out []TagSuggestion
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "- "))
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		if len(parts) < 2 {
			continue
		}
		tag := normalizeTag(parts[0])
		if tag == "" {
			continue
		}
		conf, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 32)
		if err != nil || conf < 0 || conf > 1 {
			continue
		}
		reason := ""
		if len(parts) == 3 {
			reason = strings.TrimSpace(parts[2])
		}
		out = append(out, TagSuggestion{
			Tag:        tag,
			Confidence: float32(conf),
			Reason:     reason,
		})
	}
	return out
}

// lexicalSuggestions proposes tags from word frequency in the note
// itself, as a model-free baseline. Confidence grows with occurrence
// count but stays below typical model confidence.
func lexicalSuggestions(title, content string, max int) []TagSuggestion {
	counts := make(map[string]int)
	for _, word := range strings.FieldsFunc(strings.ToLower(title+" "+content), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	}) {
		word = strings.Trim(word, "-")
		if len(word) < 4 {
			continue
		}
		if _, skip := stopwords[word]; skip {
			continue
		}
		counts[word]++
	}

	type wc struct {
		word  string
		count int
	}
	ranked := make([]wc, 0, len(counts))
	for w, c := range counts {
		if c >= 2 {
			ranked = append(ranked, wc{w, c})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].word < ranked[j].word
	})
	if len(ranked) > max {
		ranked = ranked[:max]
	}

	out := make([]TagSuggestion, len(ranked))
	for i, r := range ranked {
		conf := 0.3 + 0.05*float32(r.count)
		if conf > 0.6 {
			conf = 0.6
		}
		out[i] = TagSuggestion{
			Tag:        r.word,
			Confidence: conf,
			Reason:     "appears frequently in the note",
		}
	}
	return out
}

// mergeSuggestions combines lexical and model suggestions. Pure:
// existing tags are never re-proposed, duplicates keep the highest
// confidence, results are sorted by confidence descending (tag
// ascending on ties) and truncated to maxTags after dropping entries
// below minConfidence.
func mergeSuggestions(lexical, model []TagSuggestion, existing []string,
	maxTags int, minConfidence float32) []TagSuggestion {
	if maxTags <= 0 {
		return nil
	}

	skip := make(map[string]struct{}, len(existing))
	for _, tag := range existing {
		skip[normalizeTag(tag)] = struct{}{}
	}

	best := make(map[string]TagSuggestion)
	for _, s := range append(append([]TagSuggestion{}, lexical...), model...) {
		tag := normalizeTag(s.Tag)
		if tag == "" {
			continue
		}
		if _, ok := skip[tag]; ok {
			continue
		}
		if s.Confidence < minConfidence {
			continue
		}
		s.Tag = tag
		if prev, ok := best[tag]; !ok || s.Confidence > prev.Confidence {
			best[tag] = s
		}
	}

	out := make([]TagSuggestion, 0, len(best))
	for _, s := range best {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Tag < out[j].Tag
	})
	if len(out) > maxTags {
		out = out[:maxTags]
	}
	return out
}

// normalizeTag lowercases and trims a tag for comparison and output.
func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
