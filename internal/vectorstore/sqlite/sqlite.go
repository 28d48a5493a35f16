// Package sqlite implements vectorstore.Store on a local SQLite file.
//
// Vectors are persisted as little-endian float32 BLOBs and mirrored in
// an in-memory index, so nearest-neighbor search is a brute-force
// cosine scan that never touches disk. Writes go to the database first
// and are then swapped into the index under a short per-operation lock;
// a long-running reindex therefore never blocks readers, and readers
// always see the last-committed value per entry.
//
// A flock on the store directory enforces single-writer process
// discipline: two engine instances must not share one store file.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/sagenote/sage/internal/vectorstore"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// entry is the in-memory mirror of one embeddings row.
type entry struct {
	noteID string
	vector []float32
	offset int
	length int
}

// Store is the SQLite-backed vector store.
type Store struct {
	db     *sql.DB
	lock   *flock.Flock
	dim    int
	model  string
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry             // chunkID -> entry
	byNote  map[string]map[string]struct{} // noteID -> chunkIDs
}

var _ vectorstore.Store = (*Store)(nil)

// Open opens (creating if needed) the store at dbPath for the given
// embedding model. Returns vectorstore.ErrDimensionMismatch when the
// file was built with a different model or dimensionality.
func Open(ctx context.Context, dbPath, modelID string, dim int, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dim <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", dim)
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	lock := flock.New(dbPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring store lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("store %s is in use by another process", dbPath)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:      db,
		lock:    lock,
		dim:     dim,
		model:   modelID,
		logger:  logger,
		entries: make(map[string]*entry),
		byNote:  make(map[string]map[string]struct{}),
	}

	if err := s.init(ctx); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		return fmt.Errorf("setting busy timeout: %w", err)
	}

	if err := migrateSchema(s.db); err != nil {
		return err
	}

	// Validate the embedding model this file was built with. An empty
	// meta value means a fresh store; claim it for the configured model.
	storedModel, err := s.Meta(ctx, vectorstore.MetaEmbeddingModel)
	if err != nil {
		return err
	}
	storedDim, err := s.Meta(ctx, vectorstore.MetaEmbeddingDim)
	if err != nil {
		return err
	}
	if storedModel == "" {
		if err := s.SetMeta(ctx, vectorstore.MetaEmbeddingModel, s.model); err != nil {
			return err
		}
		if err := s.SetMeta(ctx, vectorstore.MetaEmbeddingDim, strconv.Itoa(s.dim)); err != nil {
			return err
		}
	} else if storedModel != s.model || storedDim != strconv.Itoa(s.dim) {
		return fmt.Errorf("%w: store built with %s/%s, configured %s/%d",
			vectorstore.ErrDimensionMismatch, storedModel, storedDim, s.model, s.dim)
	}

	return s.loadIndex(ctx)
}

// migrateSchema applies all pending embedded migrations.
func migrateSchema(db *sql.DB) error {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migrate driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// loadIndex fills the in-memory index from disk. Rows whose vectors do
// not decode are left out of the mirror so a damaged file still opens;
// Verify reports them as corruption and the caller can Clear and
// rebuild.
func (s *Store) loadIndex(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, note_id, vector, start_offset, byte_length FROM embeddings`)
	if err != nil {
		return fmt.Errorf("loading index: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]*entry)
	byNote := make(map[string]map[string]struct{})
	for rows.Next() {
		var chunkID, noteID string
		var blob []byte
		var offset, length int
		if err := rows.Scan(&chunkID, &noteID, &blob, &offset, &length); err != nil {
			return fmt.Errorf("scanning embedding: %w", err)
		}
		vec, err := blobToVec(blob, s.dim)
		if err != nil {
			s.logger.Warn("skipping undecodable embedding", "chunk_id", chunkID, "error", err)
			continue
		}
		entries[chunkID] = &entry{noteID: noteID, vector: vec, offset: offset, length: length}
		addChunk(byNote, noteID, chunkID)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating embeddings: %w", err)
	}

	s.mu.Lock()
	s.entries = entries
	s.byNote = byNote
	s.mu.Unlock()

	s.logger.Debug("vector index loaded", "embeddings", len(entries), "notes", len(byNote))
	return nil
}

// Upsert atomically replaces a single chunk's embedding.
func (s *Store) Upsert(ctx context.Context, emb Embedding) error {
	if err := s.checkVector(emb.Vector); err != nil {
		return err
	}
	vec := vectorstore.Normalize(append([]float32(nil), emb.Vector...))

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO embeddings (chunk_id, note_id, vector, model_id, start_offset, byte_length, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (chunk_id) DO UPDATE SET
		   note_id = excluded.note_id,
		   vector = excluded.vector,
		   model_id = excluded.model_id,
		   start_offset = excluded.start_offset,
		   byte_length = excluded.byte_length,
		   created_at = excluded.created_at`,
		emb.ChunkID, emb.NoteID, vecToBlob(vec), emb.ModelID,
		emb.Offset, emb.Length, emb.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upserting chunk %s: %w", emb.ChunkID, err)
	}

	s.mu.Lock()
	if old, ok := s.entries[emb.ChunkID]; ok && old.noteID != emb.NoteID {
		removeChunk(s.byNote, old.noteID, emb.ChunkID)
	}
	s.entries[emb.ChunkID] = &entry{noteID: emb.NoteID, vector: vec, offset: emb.Offset, length: emb.Length}
	addChunk(s.byNote, emb.NoteID, emb.ChunkID)
	s.mu.Unlock()
	return nil
}

// ReplaceNote swaps all chunks of a note in one transaction.
func (s *Store) ReplaceNote(ctx context.Context, state NoteState, embs []Embedding) error {
	vecs := make([][]float32, len(embs))
	for i, emb := range embs {
		if err := s.checkVector(emb.Vector); err != nil {
			return err
		}
		vecs[i] = vectorstore.Normalize(append([]float32(nil), emb.Vector...))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE note_id = ?`, state.NoteID); err != nil {
		return fmt.Errorf("deleting old chunks for %s: %w", state.NoteID, err)
	}
	for i, emb := range embs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO embeddings (chunk_id, note_id, vector, model_id, start_offset, byte_length, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			emb.ChunkID, emb.NoteID, vecToBlob(vecs[i]), emb.ModelID,
			emb.Offset, emb.Length, emb.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("inserting chunk %s: %w", emb.ChunkID, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO note_states (note_id, content_hash, updated_at, chunks)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (note_id) DO UPDATE SET
		   content_hash = excluded.content_hash,
		   updated_at = excluded.updated_at,
		   chunks = excluded.chunks`,
		state.NoteID, state.ContentHash, state.UpdatedAt.UTC().Format(time.RFC3339Nano), len(embs)); err != nil {
		return fmt.Errorf("recording note state for %s: %w", state.NoteID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing note replace: %w", err)
	}

	s.mu.Lock()
	for chunkID := range s.byNote[state.NoteID] {
		delete(s.entries, chunkID)
	}
	delete(s.byNote, state.NoteID)
	for i, emb := range embs {
		s.entries[emb.ChunkID] = &entry{noteID: emb.NoteID, vector: vecs[i], offset: emb.Offset, length: emb.Length}
		addChunk(s.byNote, emb.NoteID, emb.ChunkID)
	}
	s.mu.Unlock()
	return nil
}

// DeleteNote removes the note's state and all its chunks.
func (s *Store) DeleteNote(ctx context.Context, noteID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE note_id = ?`, noteID); err != nil {
		return fmt.Errorf("deleting chunks for %s: %w", noteID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM note_states WHERE note_id = ?`, noteID); err != nil {
		return fmt.Errorf("deleting note state for %s: %w", noteID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing note delete: %w", err)
	}

	s.mu.Lock()
	for chunkID := range s.byNote[noteID] {
		delete(s.entries, chunkID)
	}
	delete(s.byNote, noteID)
	s.mu.Unlock()
	return nil
}

// NoteStates returns the last-indexed state per note.
func (s *Store) NoteStates(ctx context.Context) (map[string]NoteState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT note_id, content_hash, updated_at, chunks FROM note_states`)
	if err != nil {
		return nil, fmt.Errorf("listing note states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]NoteState)
	for rows.Next() {
		var st NoteState
		var ts string
		if err := rows.Scan(&st.NoteID, &st.ContentHash, &ts, &st.Chunks); err != nil {
			return nil, fmt.Errorf("scanning note state: %w", err)
		}
		st.UpdatedAt, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing note state timestamp: %w", err)
		}
		states[st.NoteID] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating note states: %w", err)
	}
	return states, nil
}

// Search runs a brute-force cosine scan over the in-memory index.
func (s *Store) Search(_ context.Context, vector []float32, opts ...vectorstore.SearchOption) ([]Match, error) {
	if err := s.checkVector(vector); err != nil {
		return nil, err
	}
	cfg := vectorstore.BuildSearchConfig(opts)
	query := vectorstore.Normalize(append([]float32(nil), vector...))

	s.mu.RLock()
	matches := make([]Match, 0, len(s.entries))
	for chunkID, e := range s.entries {
		if cfg.NoteIDs != nil {
			if _, ok := cfg.NoteIDs[e.noteID]; !ok {
				continue
			}
		}
		score := vectorstore.CosineScore(query, e.vector)
		if score < cfg.MinScore {
			continue
		}
		matches = append(matches, Match{
			ChunkID: chunkID,
			NoteID:  e.noteID,
			Score:   score,
			Offset:  e.offset,
			Length:  e.length,
		})
	}
	s.mu.RUnlock()

	vectorstore.SortMatches(matches)
	if len(matches) > cfg.TopK {
		matches = matches[:cfg.TopK]
	}
	return matches, nil
}

// NoteVectors returns the normalized mean chunk vector per note.
func (s *Store) NoteVectors(_ context.Context) ([]NoteVector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]NoteVector, 0, len(s.byNote))
	for noteID, chunkIDs := range s.byNote {
		if len(chunkIDs) == 0 {
			continue
		}
		mean := make([]float32, s.dim)
		for chunkID := range chunkIDs {
			for i, v := range s.entries[chunkID].vector {
				mean[i] += v
			}
		}
		n := float32(len(chunkIDs))
		for i := range mean {
			mean[i] /= n
		}
		out = append(out, NoteVector{NoteID: noteID, Vector: vectorstore.Normalize(mean)})
	}
	return out, nil
}

// Stats reports size counters. CacheSizeBytes covers the in-memory
// vector mirror.
func (s *Store) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		TotalEmbeddings: len(s.entries),
		UniqueNotes:     len(s.byNote),
		CacheSizeBytes:  int64(len(s.entries)) * int64(s.dim) * 4,
	}, nil
}

// Meta reads a metadata value; empty string when the key is unset.
func (s *Store) Meta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading meta %q: %w", key, err)
	}
	return value, nil
}

// SetMeta writes a metadata value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("writing meta %q: %w", key, err)
	}
	return nil
}

// Verify checks every persisted vector decodes to the configured
// dimensionality.
func (s *Store) Verify(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id, vector FROM embeddings`)
	if err != nil {
		return fmt.Errorf("verifying store: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var chunkID string
		var blob []byte
		if err := rows.Scan(&chunkID, &blob); err != nil {
			return fmt.Errorf("verifying store: %w", err)
		}
		if _, err := blobToVec(blob, s.dim); err != nil {
			return fmt.Errorf("%w: chunk %s: %w", vectorstore.ErrCorrupted, chunkID, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("verifying store: %w", err)
	}
	return nil
}

// Clear drops all embeddings and note states, keeping model metadata.
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings`); err != nil {
		return fmt.Errorf("clearing embeddings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM note_states`); err != nil {
		return fmt.Errorf("clearing note states: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM meta WHERE key = ?`, vectorstore.MetaReindexCheckpoint); err != nil {
		return fmt.Errorf("clearing checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing clear: %w", err)
	}

	s.mu.Lock()
	s.entries = make(map[string]*entry)
	s.byNote = make(map[string]map[string]struct{})
	s.mu.Unlock()
	return nil
}

// Close releases the database handle and the process lock.
func (s *Store) Close() error {
	err := s.db.Close()
	if unlockErr := s.lock.Unlock(); unlockErr != nil && err == nil {
		err = unlockErr
	}
	return err
}

func (s *Store) checkVector(v []float32) error {
	if len(v) != s.dim {
		return fmt.Errorf("%w: got %d, store has %d", vectorstore.ErrDimensionMismatch, len(v), s.dim)
	}
	return nil
}

// Type aliases keep backend call sites on the shared contract types.
type (
	Embedding  = vectorstore.Embedding
	NoteState  = vectorstore.NoteState
	Match      = vectorstore.Match
	NoteVector = vectorstore.NoteVector
	Stats      = vectorstore.Stats
)

func addChunk(byNote map[string]map[string]struct{}, noteID, chunkID string) {
	set, ok := byNote[noteID]
	if !ok {
		set = make(map[string]struct{})
		byNote[noteID] = set
	}
	set[chunkID] = struct{}{}
}

func removeChunk(byNote map[string]map[string]struct{}, noteID, chunkID string) {
	if set, ok := byNote[noteID]; ok {
		delete(set, chunkID)
		if len(set) == 0 {
			delete(byNote, noteID)
		}
	}
}

// vecToBlob encodes a vector as little-endian float32 bytes.
func vecToBlob(v []float32) []byte {
	blob := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(x))
	}
	return blob
}

// blobToVec decodes a vector, enforcing the expected dimensionality.
func blobToVec(blob []byte, dim int) ([]float32, error) {
	if len(blob) != 4*dim {
		return nil, fmt.Errorf("blob length %d does not encode %d float32s", len(blob), dim)
	}
	v := make([]float32, dim)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v, nil
}
