// Package chunker splits note content into overlapping passages used as
// the unit of embedding and retrieval.
//
// Chunking is a pure function of (content, Config): re-running it over
// unchanged content always yields identical chunks, which keeps indexing
// idempotent and chunk IDs stable.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Chunk is a bounded sub-span of a note's text. Offset and Length are
// byte positions into the original note content, so callers can slice
// the source text to recover context around a match.
type Chunk struct {
	NoteID string
	ID     string
	Index  int
	Text   string
	Offset int
	Length int
}

// Config controls chunk sizing.
type Config struct {
	// MaxChunkBytes bounds the size of a single chunk. Default 1000.
	MaxChunkBytes int

	// OverlapUnits is the number of trailing units (sentences or
	// paragraphs) of a chunk repeated at the start of the next one.
	// Zero disables overlap.
	OverlapUnits int
}

const defaultMaxChunkBytes = 1000

// sentenceRe matches sentence-ish segments: runs ending in terminal
// punctuation, plus a trailing run without one.
var sentenceRe = regexp.MustCompile(`[^.!?]*[.!?]+|[^.!?]+`)

// Chunker splits text into overlapping passages bounded by
// Config.MaxChunkBytes, preferring paragraph and sentence boundaries
// over hard truncation.
type Chunker struct {
	cfg Config
}

// New creates a Chunker, applying defaults for zero-valued config fields.
func New(cfg Config) *Chunker {
	if cfg.MaxChunkBytes <= 0 {
		cfg.MaxChunkBytes = defaultMaxChunkBytes
	}
	if cfg.OverlapUnits < 0 {
		cfg.OverlapUnits = 0
	}
	return &Chunker{cfg: cfg}
}

// span is a half-open byte range [off, end) into the source content.
type span struct {
	off, end int
}

func (s span) size() int { return s.end - s.off }

// Chunk splits content into ordered chunks for the given note.
// Empty or whitespace-only content yields no chunks.
func (c *Chunker) Chunk(noteID, content string) []Chunk {
	units := c.units(content)
	if len(units) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < len(units) {
		end := start + 1
		for end < len(units) && units[end].end-units[start].off <= c.cfg.MaxChunkBytes {
			end++
		}

		off := units[start].off
		last := units[end-1].end
		chunks = append(chunks, Chunk{
			NoteID: noteID,
			ID:     fmt.Sprintf("%s:%d", noteID, len(chunks)),
			Index:  len(chunks),
			Text:   content[off:last],
			Offset: off,
			Length: last - off,
		})

		if end >= len(units) {
			break
		}
		next := end - c.cfg.OverlapUnits
		if next <= start {
			next = start + 1 // always make progress
		}
		start = next
	}
	return chunks
}

// units decomposes content into ordered spans: paragraphs, oversized
// paragraphs into sentences, oversized sentences into hard-wrapped
// rune-aligned segments.
func (c *Chunker) units(content string) []span {
	var units []span
	for _, p := range paragraphs(content) {
		if p.size() <= c.cfg.MaxChunkBytes {
			units = append(units, p)
			continue
		}
		for _, s := range sentences(content, p) {
			if s.size() <= c.cfg.MaxChunkBytes {
				units = append(units, s)
				continue
			}
			units = append(units, hardWrap(content, s, c.cfg.MaxChunkBytes)...)
		}
	}
	return units
}

// paragraphs splits content on blank lines, trimming surrounding
// whitespace while preserving source offsets.
func paragraphs(content string) []span {
	var out []span
	off := 0
	for _, part := range strings.Split(content, "\n\n") {
		if s, ok := trimSpan(content, span{off, off + len(part)}); ok {
			out = append(out, s)
		}
		off += len(part) + 2
	}
	return out
}

// sentences splits the paragraph span into sentence spans.
func sentences(content string, p span) []span {
	var out []span
	for _, m := range sentenceRe.FindAllStringIndex(content[p.off:p.end], -1) {
		if s, ok := trimSpan(content, span{p.off + m[0], p.off + m[1]}); ok {
			out = append(out, s)
		}
	}
	return out
}

// hardWrap splits a span into segments of at most maxBytes, never in
// the middle of a UTF-8 sequence.
func hardWrap(content string, s span, maxBytes int) []span {
	var out []span
	off := s.off
	for off < s.end {
		end := off + maxBytes
		if end >= s.end {
			end = s.end
		} else {
			for end > off && !utf8.RuneStart(content[end]) {
				end--
			}
			if end == off {
				end = off + maxBytes // malformed input; take the bytes
			}
		}
		out = append(out, span{off, end})
		off = end
	}
	return out
}

// trimSpan shrinks a span past surrounding whitespace. Returns false
// when nothing remains.
func trimSpan(content string, s span) (span, bool) {
	for s.off < s.end && isSpace(content[s.off]) {
		s.off++
	}
	for s.end > s.off && isSpace(content[s.end-1]) {
		s.end--
	}
	if s.off >= s.end {
		return span{}, false
	}
	return s, true
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
