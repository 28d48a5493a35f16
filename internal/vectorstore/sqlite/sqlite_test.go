package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sagenote/sage/internal/log"
	"github.com/sagenote/sage/internal/vectorstore"
)

const testDim = 4

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	s, err := Open(context.Background(), path, "test-model", testDim, log.NewNop())
	if err != nil {
		t.Fatalf("Open() err = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func emb(chunkID, noteID string, vec []float32) Embedding {
	return Embedding{
		ChunkID:   chunkID,
		NoteID:    noteID,
		Vector:    vec,
		ModelID:   "test-model",
		Offset:    0,
		Length:    10,
		CreatedAt: time.Now(),
	}
}

func TestUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	// Orthogonal unit vectors give unambiguous ranking.
	mustUpsert(t, s, emb("a:0", "a", []float32{1, 0, 0, 0}))
	mustUpsert(t, s, emb("b:0", "b", []float32{0, 1, 0, 0}))

	matches, err := s.Search(ctx, []float32{1, 0, 0, 0}, vectorstore.WithTopK(2))
	if err != nil {
		t.Fatalf("Search() err = %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("len(matches) = %d, want 2", len(matches))
	}
	if matches[0].ChunkID != "a:0" {
		t.Errorf("top match = %s, want a:0", matches[0].ChunkID)
	}
	if matches[0].Score <= matches[1].Score {
		t.Errorf("scores not descending: %v", matches)
	}
	// Identical vectors score 1.0 after [0,1] mapping.
	if matches[0].Score < 0.999 {
		t.Errorf("identical vector score = %f, want ~1.0", matches[0].Score)
	}
}

func TestUpsertReplacesChunk(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	mustUpsert(t, s, emb("a:0", "a", []float32{1, 0, 0, 0}))
	mustUpsert(t, s, emb("a:0", "a", []float32{0, 1, 0, 0}))

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() err = %v", err)
	}
	if stats.TotalEmbeddings != 1 {
		t.Errorf("TotalEmbeddings = %d, want 1 after replacing same chunk", stats.TotalEmbeddings)
	}

	matches, err := s.Search(ctx, []float32{0, 1, 0, 0}, vectorstore.WithTopK(1))
	if err != nil {
		t.Fatalf("Search() err = %v", err)
	}
	if matches[0].Score < 0.999 {
		t.Errorf("replaced vector not visible: score = %f", matches[0].Score)
	}
}

func TestReplaceNoteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	state := NoteState{NoteID: "a", ContentHash: "h1", UpdatedAt: time.Now()}
	embs := []Embedding{
		emb("a:0", "a", []float32{1, 0, 0, 0}),
		emb("a:1", "a", []float32{0, 1, 0, 0}),
	}

	for range 2 {
		if err := s.ReplaceNote(ctx, state, embs); err != nil {
			t.Fatalf("ReplaceNote() err = %v", err)
		}
	}

	stats, _ := s.Stats(ctx)
	if stats.TotalEmbeddings != 2 {
		t.Errorf("TotalEmbeddings = %d, want 2 (no duplicates)", stats.TotalEmbeddings)
	}
	if stats.UniqueNotes != 1 {
		t.Errorf("UniqueNotes = %d, want 1", stats.UniqueNotes)
	}
}

func TestReplaceNoteShrinksChunkSet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	state := NoteState{NoteID: "a", ContentHash: "h1", UpdatedAt: time.Now()}
	if err := s.ReplaceNote(ctx, state, []Embedding{
		emb("a:0", "a", []float32{1, 0, 0, 0}),
		emb("a:1", "a", []float32{0, 1, 0, 0}),
		emb("a:2", "a", []float32{0, 0, 1, 0}),
	}); err != nil {
		t.Fatalf("ReplaceNote() err = %v", err)
	}

	state.ContentHash = "h2"
	if err := s.ReplaceNote(ctx, state, []Embedding{
		emb("a:0", "a", []float32{1, 0, 0, 0}),
	}); err != nil {
		t.Fatalf("ReplaceNote() err = %v", err)
	}

	stats, _ := s.Stats(ctx)
	if stats.TotalEmbeddings != 1 {
		t.Errorf("TotalEmbeddings = %d, want 1 after shrink", stats.TotalEmbeddings)
	}
}

func TestDeleteNoteCascades(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	mustUpsert(t, s, emb("a:0", "a", []float32{1, 0, 0, 0}))
	mustUpsert(t, s, emb("a:1", "a", []float32{0, 1, 0, 0}))
	mustUpsert(t, s, emb("b:0", "b", []float32{0, 0, 1, 0}))

	if err := s.DeleteNote(ctx, "a"); err != nil {
		t.Fatalf("DeleteNote() err = %v", err)
	}

	matches, err := s.Search(ctx, []float32{1, 0, 0, 0}, vectorstore.WithTopK(10))
	if err != nil {
		t.Fatalf("Search() err = %v", err)
	}
	for _, m := range matches {
		if m.NoteID == "a" {
			t.Errorf("deleted note still in results: %+v", m)
		}
	}

	states, err := s.NoteStates(ctx)
	if err != nil {
		t.Fatalf("NoteStates() err = %v", err)
	}
	if _, ok := states["a"]; ok {
		t.Errorf("note state for deleted note survived")
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	s, err := Open(ctx, path, "test-model", testDim, log.NewNop())
	if err != nil {
		t.Fatalf("Open() err = %v", err)
	}
	mustUpsert(t, s, emb("a:0", "a", []float32{1, 0, 0, 0}))
	if err := s.SetMeta(ctx, vectorstore.MetaReindexCheckpoint, "2026-01-02T00:00:00Z"); err != nil {
		t.Fatalf("SetMeta() err = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() err = %v", err)
	}

	s2, err := Open(ctx, path, "test-model", testDim, log.NewNop())
	if err != nil {
		t.Fatalf("reopen err = %v", err)
	}
	defer s2.Close()

	stats, _ := s2.Stats(ctx)
	if stats.TotalEmbeddings != 1 {
		t.Errorf("TotalEmbeddings after reopen = %d, want 1", stats.TotalEmbeddings)
	}
	cp, err := s2.Meta(ctx, vectorstore.MetaReindexCheckpoint)
	if err != nil || cp != "2026-01-02T00:00:00Z" {
		t.Errorf("Meta() = %q, %v", cp, err)
	}
}

func TestReopenWithDifferentModelFails(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	s, err := Open(ctx, path, "test-model", testDim, log.NewNop())
	if err != nil {
		t.Fatalf("Open() err = %v", err)
	}
	_ = s.Close()

	_, err = Open(ctx, path, "other-model", testDim, log.NewNop())
	if !errors.Is(err, vectorstore.ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestSearchOptions(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	mustUpsert(t, s, emb("a:0", "a", []float32{1, 0, 0, 0}))
	mustUpsert(t, s, emb("b:0", "b", []float32{0.9, 0.1, 0, 0}))
	mustUpsert(t, s, emb("c:0", "c", []float32{0, 0, 1, 0}))

	t.Run("min score filters", func(t *testing.T) {
		matches, err := s.Search(ctx, []float32{1, 0, 0, 0},
			vectorstore.WithTopK(10), vectorstore.WithMinScore(0.9))
		if err != nil {
			t.Fatalf("Search() err = %v", err)
		}
		for _, m := range matches {
			if m.Score < 0.9 {
				t.Errorf("match below floor: %+v", m)
			}
		}
		if len(matches) != 2 {
			t.Errorf("len(matches) = %d, want 2 (c is orthogonal)", len(matches))
		}
	})

	t.Run("note scope", func(t *testing.T) {
		matches, err := s.Search(ctx, []float32{1, 0, 0, 0},
			vectorstore.WithTopK(10), vectorstore.WithNotes("b"))
		if err != nil {
			t.Fatalf("Search() err = %v", err)
		}
		if len(matches) != 1 || matches[0].NoteID != "b" {
			t.Errorf("scoped search = %+v, want only note b", matches)
		}
	})

	t.Run("ties break by note id", func(t *testing.T) {
		mustUpsert(t, s, emb("z:0", "z", []float32{1, 0, 0, 0})) // same vector as a:0
		matches, err := s.Search(ctx, []float32{1, 0, 0, 0}, vectorstore.WithTopK(2))
		if err != nil {
			t.Fatalf("Search() err = %v", err)
		}
		if matches[0].NoteID != "a" || matches[1].NoteID != "z" {
			t.Errorf("tie-break order = %s, %s; want a, z", matches[0].NoteID, matches[1].NoteID)
		}
	})
}

func TestSearchDimensionMismatch(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Search(context.Background(), []float32{1, 0})
	if !errors.Is(err, vectorstore.ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestNoteVectors(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	mustUpsert(t, s, emb("a:0", "a", []float32{1, 0, 0, 0}))
	mustUpsert(t, s, emb("a:1", "a", []float32{0, 1, 0, 0}))
	mustUpsert(t, s, emb("b:0", "b", []float32{0, 0, 1, 0}))

	vecs, err := s.NoteVectors(ctx)
	if err != nil {
		t.Fatalf("NoteVectors() err = %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("len(vecs) = %d, want 2", len(vecs))
	}
	for _, nv := range vecs {
		var norm float64
		for _, x := range nv.Vector {
			norm += float64(x) * float64(x)
		}
		if norm < 0.99 || norm > 1.01 {
			t.Errorf("note %s centroid not normalized: |v|^2 = %f", nv.NoteID, norm)
		}
	}
}

func TestVerifyDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	mustUpsert(t, s, emb("a:0", "a", []float32{1, 0, 0, 0}))
	if err := s.Verify(ctx); err != nil {
		t.Fatalf("Verify() on healthy store err = %v", err)
	}

	// Truncate a vector blob behind the store's back.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE embeddings SET vector = x'DEAD' WHERE chunk_id = 'a:0'`); err != nil {
		t.Fatalf("corrupting store: %v", err)
	}

	if err := s.Verify(ctx); !errors.Is(err, vectorstore.ErrCorrupted) {
		t.Errorf("Verify() err = %v, want ErrCorrupted", err)
	}
}

func TestReopenCorruptedStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	s, err := Open(ctx, path, "test-model", testDim, log.NewNop())
	if err != nil {
		t.Fatalf("Open() err = %v", err)
	}
	mustUpsert(t, s, emb("a:0", "a", []float32{1, 0, 0, 0}))
	mustUpsert(t, s, emb("b:0", "b", []float32{0, 1, 0, 0}))
	if _, err := s.db.ExecContext(ctx,
		`UPDATE embeddings SET vector = x'DEAD' WHERE chunk_id = 'a:0'`); err != nil {
		t.Fatalf("corrupting store: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() err = %v", err)
	}

	// A damaged file must still open so startup recovery can run.
	s, err = Open(ctx, path, "test-model", testDim, log.NewNop())
	if err != nil {
		t.Fatalf("Open() on corrupted store err = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	// The undecodable row stays out of the search mirror.
	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() err = %v", err)
	}
	if stats.TotalEmbeddings != 1 {
		t.Errorf("TotalEmbeddings = %d, want 1 (bad row excluded)", stats.TotalEmbeddings)
	}

	if err := s.Verify(ctx); !errors.Is(err, vectorstore.ErrCorrupted) {
		t.Fatalf("Verify() err = %v, want ErrCorrupted", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() err = %v", err)
	}
	if err := s.Verify(ctx); err != nil {
		t.Errorf("Verify() after Clear err = %v", err)
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	mustUpsert(t, s, emb("a:0", "a", []float32{1, 0, 0, 0}))
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() err = %v", err)
	}

	stats, _ := s.Stats(ctx)
	if stats.TotalEmbeddings != 0 || stats.UniqueNotes != 0 {
		t.Errorf("Stats after Clear = %+v, want zeros", stats)
	}

	// Model metadata survives a clear.
	model, err := s.Meta(ctx, vectorstore.MetaEmbeddingModel)
	if err != nil || model != "test-model" {
		t.Errorf("model meta after Clear = %q, %v", model, err)
	}
}

func mustUpsert(t *testing.T, s *Store, e Embedding) {
	t.Helper()
	if err := s.Upsert(context.Background(), e); err != nil {
		t.Fatalf("Upsert(%s) err = %v", e.ChunkID, err)
	}
}
