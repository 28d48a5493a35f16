package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sagenote/sage/internal/embed"
	"github.com/sagenote/sage/internal/log"
	"github.com/sagenote/sage/internal/note"
	"github.com/sagenote/sage/internal/vectorstore"
)

// snippetWindow is how many bytes of surrounding context a snippet
// carries on each side of the matched passage.
const snippetWindow = 120

// RetrieveOptions narrows a retrieval call.
type RetrieveOptions struct {
	// NoteIDs scopes the search to the given notes when non-empty.
	NoteIDs []string

	// Limit caps the number of results; the configured top_k applies
	// when zero.
	Limit int

	// MinScore drops matches below the floor; the configured min_score
	// applies when zero.
	MinScore float32
}

// Retriever embeds queries and resolves vector matches back into
// note passages.
type Retriever struct {
	embedder embed.Provider
	store    vectorstore.Store
	source   note.Source
	logger   log.Logger

	topK     int
	minScore float32
}

// NewRetriever builds a Retriever with the engine's configured
// retrieval depth and similarity floor as defaults.
func NewRetriever(embedder embed.Provider, store vectorstore.Store, source note.Source,
	logger log.Logger, topK int, minScore float32) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Retriever{
		embedder: embedder,
		store:    store,
		source:   source,
		logger:   logger.With("component", "retriever"),
		topK:     topK,
		minScore: minScore,
	}
}

// Retrieve returns the passages most relevant to the query, ordered by
// descending score. An empty result is not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts RetrieveOptions) ([]RetrievalResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: got %d vectors for one query", embed.ErrInvalidResponse, len(vectors))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = r.topK
	}
	minScore := opts.MinScore
	if minScore <= 0 {
		minScore = r.minScore
	}

	searchOpts := []vectorstore.SearchOption{
		vectorstore.WithTopK(limit),
		vectorstore.WithMinScore(minScore),
	}
	if len(opts.NoteIDs) > 0 {
		searchOpts = append(searchOpts, vectorstore.WithNotes(opts.NoteIDs...))
	}

	matches, err := r.store.Search(ctx, vectors[0], searchOpts...)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	results := make([]RetrievalResult, 0, len(matches))
	for _, m := range matches {
		n, err := r.source.Get(ctx, m.NoteID)
		if err != nil {
			if errors.Is(err, note.ErrNotFound) {
				// Index lags the source; the note is gone.
				r.logger.Debug("match references missing note", "note_id", m.NoteID)
				continue
			}
			return nil, fmt.Errorf("resolving note %s: %w", m.NoteID, err)
		}
		if n.Trashed {
			continue
		}
		results = append(results, RetrievalResult{
			ChunkID:   m.ChunkID,
			NoteID:    m.NoteID,
			NoteTitle: n.Title,
			Snippet:   snippet(n.Content, m.Offset, m.Length),
			Score:     m.Score,
		})
	}
	return results, nil
}

// snippet extracts the matched passage plus surrounding context,
// aligned to rune boundaries so multi-byte characters are never split.
func snippet(content string, offset, length int) string {
	if offset < 0 || offset > len(content) {
		return ""
	}
	start := offset - snippetWindow
	if start < 0 {
		start = 0
	}
	end := offset + length + snippetWindow
	if end > len(content) {
		end = len(content)
	}

	for start > 0 && !utf8.RuneStart(content[start]) {
		start--
	}
	for end < len(content) && !utf8.RuneStart(content[end]) {
		end++
	}
	return strings.TrimSpace(content[start:end])
}
