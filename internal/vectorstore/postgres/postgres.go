// Package postgres implements the vector store on PostgreSQL with the
// pgvector extension. Nearest-neighbor search runs in the database via
// the <=> cosine distance operator, so this backend scales past the
// point where the local SQLite index stays comfortable.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/sagenote/sage/internal/log"
	"github.com/sagenote/sage/internal/vectorstore"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a vector index backed by PostgreSQL + pgvector.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool    *pgxpool.Pool
	modelID string
	dim     int
	logger  log.Logger
}

// Open connects to PostgreSQL, ensures the schema exists, and validates
// that the stored embedding model matches the configured one. A fresh
// database is claimed for the configured model; a database built with a
// different model or dimension fails with ErrDimensionMismatch.
func Open(ctx context.Context, dsn, modelID string, dim int, logger log.Logger) (*Store, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", dim)
	}
	if logger == nil {
		logger = log.NewNop()
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	s := &Store{pool: pool, modelID: modelID, dim: dim, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.validateModel(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("vector store opened",
		"backend", "postgres", "model", modelID, "dim", dim)
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS engine_meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS note_states (
			note_id      TEXT PRIMARY KEY,
			content_hash TEXT NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL,
			chunks       INTEGER NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS embeddings (
			chunk_id     TEXT PRIMARY KEY,
			note_id      TEXT NOT NULL,
			embedding    vector(%d) NOT NULL,
			model_id     TEXT NOT NULL,
			start_offset INTEGER NOT NULL,
			byte_length  INTEGER NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL
		)`, s.dim),
		`CREATE INDEX IF NOT EXISTS idx_embeddings_note ON embeddings (note_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}

func (s *Store) validateModel(ctx context.Context) error {
	storedModel, err := s.Meta(ctx, vectorstore.MetaEmbeddingModel)
	if err != nil {
		return err
	}
	storedDim, err := s.Meta(ctx, vectorstore.MetaEmbeddingDim)
	if err != nil {
		return err
	}
	if storedModel == "" {
		if err := s.SetMeta(ctx, vectorstore.MetaEmbeddingModel, s.modelID); err != nil {
			return err
		}
		return s.SetMeta(ctx, vectorstore.MetaEmbeddingDim, fmt.Sprintf("%d", s.dim))
	}
	if storedModel != s.modelID || storedDim != fmt.Sprintf("%d", s.dim) {
		return fmt.Errorf("store built with model %s (dim %s), configured %s (dim %d): %w",
			storedModel, storedDim, s.modelID, s.dim, vectorstore.ErrDimensionMismatch)
	}
	return nil
}

const upsertEmbeddingSQL = `INSERT INTO embeddings
	(chunk_id, note_id, embedding, model_id, start_offset, byte_length, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (chunk_id) DO UPDATE SET
		note_id = EXCLUDED.note_id,
		embedding = EXCLUDED.embedding,
		model_id = EXCLUDED.model_id,
		start_offset = EXCLUDED.start_offset,
		byte_length = EXCLUDED.byte_length,
		created_at = EXCLUDED.created_at`

func (s *Store) upsertOne(ctx context.Context, q querier, emb vectorstore.Embedding) error {
	if len(emb.Vector) != s.dim {
		return fmt.Errorf("vector has %d dimensions, store expects %d: %w",
			len(emb.Vector), s.dim, vectorstore.ErrDimensionMismatch)
	}
	vec := make([]float32, len(emb.Vector))
	copy(vec, emb.Vector)
	vectorstore.Normalize(vec)

	_, err := q.Exec(ctx, upsertEmbeddingSQL,
		emb.ChunkID, emb.NoteID, pgvector.NewVector(vec),
		emb.ModelID, emb.Offset, emb.Length, emb.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upserting embedding %s: %w", emb.ChunkID, err)
	}
	return nil
}

// Upsert atomically replaces a single chunk's embedding.
func (s *Store) Upsert(ctx context.Context, emb vectorstore.Embedding) error {
	return s.upsertOne(ctx, s.pool, emb)
}

// ReplaceNote swaps all of a note's chunks for the given set and records
// the note's index state, in one transaction.
func (s *Store) ReplaceNote(ctx context.Context, state vectorstore.NoteState, embs []vectorstore.Embedding) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM embeddings WHERE note_id = $1`, state.NoteID); err != nil {
		return fmt.Errorf("deleting old chunks for %s: %w", state.NoteID, err)
	}
	for _, emb := range embs {
		if err := s.upsertOne(ctx, tx, emb); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO note_states (note_id, content_hash, updated_at, chunks)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (note_id) DO UPDATE SET
			content_hash = EXCLUDED.content_hash,
			updated_at = EXCLUDED.updated_at,
			chunks = EXCLUDED.chunks`,
		state.NoteID, state.ContentHash, state.UpdatedAt.UTC(), len(embs)); err != nil {
		return fmt.Errorf("recording note state for %s: %w", state.NoteID, err)
	}
	return tx.Commit(ctx)
}

// DeleteNote removes a note's index state and all its chunks.
func (s *Store) DeleteNote(ctx context.Context, noteID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM embeddings WHERE note_id = $1`, noteID); err != nil {
		return fmt.Errorf("deleting chunks for %s: %w", noteID, err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM note_states WHERE note_id = $1`, noteID); err != nil {
		return fmt.Errorf("deleting note state for %s: %w", noteID, err)
	}
	return tx.Commit(ctx)
}

// NoteStates returns the last-indexed state of every note.
func (s *Store) NoteStates(ctx context.Context) (map[string]vectorstore.NoteState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT note_id, content_hash, updated_at, chunks FROM note_states`)
	if err != nil {
		return nil, fmt.Errorf("querying note states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]vectorstore.NoteState)
	for rows.Next() {
		var st vectorstore.NoteState
		if err := rows.Scan(&st.NoteID, &st.ContentHash, &st.UpdatedAt, &st.Chunks); err != nil {
			return nil, fmt.Errorf("scanning note state: %w", err)
		}
		states[st.NoteID] = st
	}
	return states, rows.Err()
}

// Search returns ranked nearest neighbors of the query vector. Ranking,
// score mapping, and tie-breaking run inside PostgreSQL so results match
// the SQLite backend exactly.
func (s *Store) Search(ctx context.Context, vector []float32, opts ...vectorstore.SearchOption) ([]vectorstore.Match, error) {
	if len(vector) != s.dim {
		return nil, fmt.Errorf("query vector has %d dimensions, store expects %d: %w",
			len(vector), s.dim, vectorstore.ErrDimensionMismatch)
	}
	cfg := vectorstore.BuildSearchConfig(opts)

	vec := make([]float32, len(vector))
	copy(vec, vector)
	vectorstore.Normalize(vec)
	qv := pgvector.NewVector(vec)

	// <=> is cosine distance in [0,2]; (2 - distance) / 2 maps it onto
	// the engine's [0,1] similarity scale.
	sql := `SELECT chunk_id, note_id,
			(2 - (embedding <=> $1)) / 2 AS score,
			start_offset, byte_length
		FROM embeddings
		WHERE (2 - (embedding <=> $1)) / 2 >= $2`
	args := []any{qv, cfg.MinScore}
	if len(cfg.NoteIDs) > 0 {
		ids := make([]string, 0, len(cfg.NoteIDs))
		for id := range cfg.NoteIDs {
			ids = append(ids, id)
		}
		sql += ` AND note_id = ANY($3)`
		args = append(args, ids)
	}
	sql += ` ORDER BY score DESC, note_id ASC, chunk_id ASC LIMIT ` +
		fmt.Sprintf("%d", cfg.TopK)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("searching embeddings: %w", err)
	}
	defer rows.Close()

	var matches []vectorstore.Match
	for rows.Next() {
		var m vectorstore.Match
		var score float64
		if err := rows.Scan(&m.ChunkID, &m.NoteID, &score, &m.Offset, &m.Length); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		m.Score = float32(score)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// NoteVectors returns one normalized centroid per indexed note.
func (s *Store) NoteVectors(ctx context.Context) ([]vectorstore.NoteVector, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT note_id, avg(embedding) FROM embeddings GROUP BY note_id ORDER BY note_id`)
	if err != nil {
		return nil, fmt.Errorf("querying note centroids: %w", err)
	}
	defer rows.Close()

	var out []vectorstore.NoteVector
	for rows.Next() {
		var noteID string
		var vec pgvector.Vector
		if err := rows.Scan(&noteID, &vec); err != nil {
			return nil, fmt.Errorf("scanning centroid: %w", err)
		}
		out = append(out, vectorstore.NoteVector{
			NoteID: noteID,
			Vector: vectorstore.Normalize(vec.Slice()),
		})
	}
	return out, rows.Err()
}

// Stats reports store size counters. CacheSizeBytes is the approximate
// in-database footprint of the vectors.
func (s *Store) Stats(ctx context.Context) (vectorstore.Stats, error) {
	var st vectorstore.Stats
	err := s.pool.QueryRow(ctx,
		`SELECT count(*), count(DISTINCT note_id) FROM embeddings`).
		Scan(&st.TotalEmbeddings, &st.UniqueNotes)
	if err != nil {
		return vectorstore.Stats{}, fmt.Errorf("querying stats: %w", err)
	}
	st.CacheSizeBytes = int64(st.TotalEmbeddings) * int64(s.dim) * 4
	return st, nil
}

// Meta reads an engine metadata value; empty string when unset.
func (s *Store) Meta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM engine_meta WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading meta %s: %w", key, err)
	}
	return value, nil
}

// SetMeta writes an engine metadata value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO engine_meta (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("writing meta %s: %w", key, err)
	}
	return nil
}

// Verify checks that every stored vector has the expected dimension.
func (s *Store) Verify(ctx context.Context) error {
	var bad int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM embeddings WHERE vector_dims(embedding) <> $1`, s.dim).
		Scan(&bad)
	if err != nil {
		return fmt.Errorf("verifying embeddings: %w", err)
	}
	if bad > 0 {
		return fmt.Errorf("%d embeddings with wrong dimension: %w", bad, vectorstore.ErrCorrupted)
	}
	return nil
}

// Clear drops all embeddings and note states, keeping the model
// metadata that describes the store.
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM embeddings`); err != nil {
		return fmt.Errorf("clearing embeddings: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM note_states`); err != nil {
		return fmt.Errorf("clearing note states: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM engine_meta WHERE key = $1`, vectorstore.MetaReindexCheckpoint); err != nil {
		return fmt.Errorf("clearing checkpoint: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.logger.Info("vector store cleared", "backend", "postgres")
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

var _ vectorstore.Store = (*Store)(nil)
