// Package rag wires chunking, embedding, vector search and generation
// into the engine's retrieval-augmented operations: grounded Q&A over
// the user's notes, streaming answers, note summaries, tag suggestions
// and similar-note discovery.
//
// The package never owns notes. It reads them through a note.Source and
// keeps the vector index in sync via the Indexer, either explicitly
// (IndexNote, ReindexAll) or by consuming lifecycle events (Subscribe).
package rag

import "errors"

var (
	// ErrFeatureDisabled indicates the operation is switched off in
	// configuration.
	ErrFeatureDisabled = errors.New("feature disabled in configuration")

	// ErrClosed indicates the system has been shut down.
	ErrClosed = errors.New("rag system closed")
)

// RetrievalResult is one retrieved passage resolved against its source
// note.
type RetrievalResult struct {
	ChunkID   string
	NoteID    string
	NoteTitle string
	Snippet   string
	Score     float32
}

// Response is a grounded answer with the passages that informed it,
// ordered by descending score.
type Response struct {
	Answer  string
	Sources []RetrievalResult
}

// NoteSummary is the result of summarizing a single note.
type NoteSummary struct {
	Summary   string
	KeyPoints []string

	// WordCount counts whitespace-separated tokens of the summary text.
	WordCount int

	// ReadingTime is minutes at 200 words per minute, minimum 1.
	ReadingTime int
}

// TagSuggestion is one proposed tag. Confidence is in [0,1]; hosts may
// auto-select high-confidence suggestions (0.85 is a reasonable bar)
// but the engine only ranks.
type TagSuggestion struct {
	Tag        string
	Confidence float32
	Reason     string
}

// SimilarNote is a note ranked by centroid similarity to a source note.
type SimilarNote struct {
	NoteID string
	Title  string
	Score  float32
}

// EmbeddingStats describes the vector index size.
type EmbeddingStats struct {
	TotalEmbeddings int
	CacheSizeBytes  int64
}

// VectorStats describes index coverage.
type VectorStats struct {
	UniqueNotes int
}

// Stats aggregates engine counters for host diagnostics.
type Stats struct {
	Embedding EmbeddingStats
	Vector    VectorStats
}
