// Package vectorstore defines the persistent keyed store of chunk
// embeddings and its nearest-neighbor query contract.
//
// Two backends implement Store: a local SQLite file (default, vectors
// as BLOBs with in-process cosine search) and PostgreSQL + pgvector
// (cosine via the <=> operator). Both are selected by configuration at
// startup, never at call time.
//
// Similarity contract: vectors are L2-normalized at upsert and query
// time, the raw cosine (dot product) is mapped onto [0,1] as
// (cos+1)/2, and ties are broken by note ID ascending, then chunk ID.
package vectorstore

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"
)

var (
	// ErrCorrupted indicates persisted vectors failed an integrity
	// check. The engine reacts with an automatic full reindex.
	ErrCorrupted = errors.New("vector store corrupted")

	// ErrDimensionMismatch indicates the store was built with a
	// different embedding model or dimensionality than configured.
	// Surfaced at startup; the fix is an explicit full reindex.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Meta keys used by the engine. Stored alongside the vectors so a store
// file is self-describing.
const (
	MetaEmbeddingModel    = "embedding_model"
	MetaEmbeddingDim      = "embedding_dim"
	MetaReindexCheckpoint = "reindex_checkpoint"
)

// Embedding is one stored chunk vector plus the metadata needed to
// resolve it back to a passage of the source note.
type Embedding struct {
	ChunkID   string
	NoteID    string
	Vector    []float32
	ModelID   string
	Offset    int
	Length    int
	CreatedAt time.Time
}

// NoteState records what was last indexed for a note. It drives
// incremental indexing (skip unchanged content) and reindex resumption.
type NoteState struct {
	NoteID      string
	ContentHash string
	UpdatedAt   time.Time
	Chunks      int
}

// Match is a ranked nearest-neighbor result.
type Match struct {
	ChunkID string
	NoteID  string
	Score   float32
	Offset  int
	Length  int
}

// NoteVector is a note-level representative vector: the normalized mean
// of the note's chunk vectors.
type NoteVector struct {
	NoteID string
	Vector []float32
}

// Stats describes the store's size for host diagnostics.
type Stats struct {
	TotalEmbeddings int
	UniqueNotes     int
	CacheSizeBytes  int64
}

// Store is the persistent vector index.
//
// Implementations must support concurrent reads during a background
// reindex: writes are applied per entry (or per note transaction),
// never behind a lock held for the duration of the reindex, so readers
// always see the last-committed value.
type Store interface {
	// Upsert atomically replaces a single chunk's embedding.
	Upsert(ctx context.Context, emb Embedding) error

	// ReplaceNote atomically swaps all of a note's chunks for the given
	// set and records the note's index state.
	ReplaceNote(ctx context.Context, state NoteState, embs []Embedding) error

	// DeleteNote removes a note's index state and cascades removal of
	// all its chunks.
	DeleteNote(ctx context.Context, noteID string) error

	// NoteStates returns the last-indexed state of every note.
	NoteStates(ctx context.Context) (map[string]NoteState, error)

	// Search returns ranked nearest neighbors of the query vector.
	Search(ctx context.Context, vector []float32, opts ...SearchOption) ([]Match, error)

	// NoteVectors returns one representative vector per indexed note.
	NoteVectors(ctx context.Context) ([]NoteVector, error)

	// Stats reports store size counters.
	Stats(ctx context.Context) (Stats, error)

	// Meta reads an engine metadata value; empty string when unset.
	Meta(ctx context.Context, key string) (string, error)

	// SetMeta writes an engine metadata value.
	SetMeta(ctx context.Context, key, value string) error

	// Verify checks the integrity of persisted vectors, returning
	// ErrCorrupted when any entry is unreadable.
	Verify(ctx context.Context) error

	// Clear drops all embeddings and note states. Metadata describing
	// the embedding model is kept.
	Clear(ctx context.Context) error

	Close() error
}

// SearchOption configures a Search call using the functional options
// pattern.
type SearchOption func(*SearchConfig)

// SearchConfig holds resolved search parameters. Exported so backends
// in sub-packages can apply options.
type SearchConfig struct {
	TopK     int
	MinScore float32
	NoteIDs  map[string]struct{}
}

// WithTopK bounds the number of results. Default 5.
func WithTopK(k int) SearchOption {
	return func(c *SearchConfig) {
		if k > 0 {
			c.TopK = k
		}
	}
}

// WithMinScore drops results scoring below the floor.
func WithMinScore(s float32) SearchOption {
	return func(c *SearchConfig) { c.MinScore = s }
}

// WithNotes scopes the search to the given note IDs.
func WithNotes(ids ...string) SearchOption {
	return func(c *SearchConfig) {
		if len(ids) == 0 {
			return
		}
		c.NoteIDs = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			c.NoteIDs[id] = struct{}{}
		}
	}
}

// BuildSearchConfig applies options over defaults.
func BuildSearchConfig(opts []SearchOption) SearchConfig {
	cfg := SearchConfig{TopK: 5}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Normalize scales v to unit length in place and returns it. The zero
// vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// Dot returns the dot product of two equal-length vectors.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// CosineScore maps the dot product of two unit vectors onto [0,1].
func CosineScore(a, b []float32) float32 {
	score := (Dot(a, b) + 1) / 2
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}

// SortMatches orders matches by descending score with deterministic
// tie-breaking: note ID ascending, then chunk ID ascending.
func SortMatches(matches []Match) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].NoteID != matches[j].NoteID {
			return matches[i].NoteID < matches[j].NoteID
		}
		return matches[i].ChunkID < matches[j].ChunkID
	})
}
