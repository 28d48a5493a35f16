package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sagenote/sage/internal/chunker"
	"github.com/sagenote/sage/internal/embed"
	"github.com/sagenote/sage/internal/log"
	"github.com/sagenote/sage/internal/note"
	"github.com/sagenote/sage/internal/vectorstore"
)

// Indexer keeps the vector store in sync with the note source. Indexing
// is incremental: a note whose content hash is unchanged is skipped.
type Indexer struct {
	source   note.Source
	chunker  *chunker.Chunker
	embedder embed.Provider
	store    vectorstore.Store
	logger   log.Logger
	workers  int
}

// NewIndexer builds an Indexer. workers bounds ReindexAll parallelism
// and defaults to 4 when non-positive.
func NewIndexer(source note.Source, ch *chunker.Chunker, embedder embed.Provider,
	store vectorstore.Store, logger log.Logger, workers int) *Indexer {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Indexer{
		source:   source,
		chunker:  ch,
		embedder: embedder,
		store:    store,
		logger:   logger.With("component", "indexer"),
		workers:  workers,
	}
}

// ContentHash returns the hex SHA-256 of note content, the identity
// used for change detection.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// IndexNote chunks, embeds and stores one note. Unchanged content is
// skipped; trashed notes are removed from the index instead.
func (ix *Indexer) IndexNote(ctx context.Context, n *note.Note) error {
	if n == nil {
		return fmt.Errorf("nil note")
	}
	if n.Trashed {
		return ix.RemoveNote(ctx, n.ID)
	}

	hash := ContentHash(n.Content)
	states, err := ix.store.NoteStates(ctx)
	if err != nil {
		return fmt.Errorf("reading note states: %w", err)
	}
	if prev, ok := states[n.ID]; ok && prev.ContentHash == hash && !n.UpdatedAt.After(prev.UpdatedAt) {
		ix.logger.Debug("note unchanged, skipping", "note_id", n.ID)
		return nil
	}
	return ix.indexNote(ctx, n, hash)
}

// indexNote performs the chunk-embed-store cycle without the unchanged
// check.
func (ix *Indexer) indexNote(ctx context.Context, n *note.Note, hash string) error {
	chunks := ix.chunker.Chunk(n.ID, n.Content)
	state := vectorstore.NoteState{
		NoteID:      n.ID,
		ContentHash: hash,
		UpdatedAt:   n.UpdatedAt,
		Chunks:      len(chunks),
	}
	if len(chunks) == 0 {
		// Empty note: record the state so it is not revisited, keep no vectors.
		return ix.store.ReplaceNote(ctx, state, nil)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding note %s: %w", n.ID, err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("%w: got %d vectors for %d chunks",
			embed.ErrInvalidResponse, len(vectors), len(chunks))
	}

	now := time.Now()
	embs := make([]vectorstore.Embedding, len(chunks))
	for i, c := range chunks {
		embs[i] = vectorstore.Embedding{
			ChunkID:   c.ID,
			NoteID:    c.NoteID,
			Vector:    vectors[i],
			ModelID:   ix.embedder.ModelID(),
			Offset:    c.Offset,
			Length:    c.Length,
			CreatedAt: now,
		}
	}
	if err := ix.store.ReplaceNote(ctx, state, embs); err != nil {
		return fmt.Errorf("storing note %s: %w", n.ID, err)
	}
	ix.logger.Debug("note indexed", "note_id", n.ID, "chunks", len(chunks))
	return nil
}

// RemoveNote drops a note's vectors and index state.
func (ix *Indexer) RemoveNote(ctx context.Context, noteID string) error {
	if err := ix.store.DeleteNote(ctx, noteID); err != nil {
		return fmt.Errorf("removing note %s: %w", noteID, err)
	}
	ix.logger.Debug("note removed from index", "note_id", noteID)
	return nil
}

// ClearIndex drops all vectors and note states.
func (ix *Indexer) ClearIndex(ctx context.Context) error {
	return ix.store.Clear(ctx)
}

// ReindexAll rebuilds the index across every live note.
//
// Notes are processed oldest-first by UpdatedAt; a checkpoint persisted
// in store metadata after each completed batch makes an interrupted run
// resumable. Per-note embedding failures are logged and skipped unless
// the provider is systemically down (unavailable or timing out), which
// aborts the run with the checkpoint intact.
func (ix *Indexer) ReindexAll(ctx context.Context) error {
	notes, err := ix.source.List(ctx)
	if err != nil {
		return fmt.Errorf("listing notes: %w", err)
	}

	live := make([]*note.Note, 0, len(notes))
	for _, n := range notes {
		if !n.Trashed {
			live = append(live, n)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		if !live[i].UpdatedAt.Equal(live[j].UpdatedAt) {
			return live[i].UpdatedAt.Before(live[j].UpdatedAt)
		}
		return live[i].ID < live[j].ID
	})

	// Resume past the checkpoint from a previous interrupted run.
	checkpoint, err := ix.store.Meta(ctx, vectorstore.MetaReindexCheckpoint)
	if err != nil {
		return fmt.Errorf("reading checkpoint: %w", err)
	}
	start := 0
	if checkpoint != "" {
		if cp, perr := time.Parse(time.RFC3339Nano, checkpoint); perr == nil {
			for start < len(live) && !live[start].UpdatedAt.After(cp) {
				start++
			}
			ix.logger.Info("resuming reindex from checkpoint",
				"checkpoint", checkpoint, "skipped", start)
		}
	}

	states, err := ix.store.NoteStates(ctx)
	if err != nil {
		return fmt.Errorf("reading note states: %w", err)
	}

	for batchStart := start; batchStart < len(live); batchStart += ix.workers {
		batchEnd := min(batchStart+ix.workers, len(live))
		batch := live[batchStart:batchEnd]

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(ix.workers)
		for _, n := range batch {
			g.Go(func() error {
				hash := ContentHash(n.Content)
				if prev, ok := states[n.ID]; ok && prev.ContentHash == hash {
					return nil
				}
				err := ix.indexNote(gctx, n, hash)
				if err == nil {
					return nil
				}
				if systemic(err) {
					return err
				}
				ix.logger.Warn("skipping note during reindex",
					"note_id", n.ID, "error", err)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("reindex aborted: %w", err)
		}

		last := batch[len(batch)-1].UpdatedAt.Format(time.RFC3339Nano)
		if err := ix.store.SetMeta(ctx, vectorstore.MetaReindexCheckpoint, last); err != nil {
			return fmt.Errorf("persisting checkpoint: %w", err)
		}
	}

	// A finished run clears the checkpoint so the next one starts fresh.
	if err := ix.store.SetMeta(ctx, vectorstore.MetaReindexCheckpoint, ""); err != nil {
		return fmt.Errorf("clearing checkpoint: %w", err)
	}
	ix.logger.Info("reindex complete", "notes", len(live))
	return nil
}

// systemic reports whether an indexing error means the embedding
// provider is down for everyone, not just this note.
func systemic(err error) bool {
	return errors.Is(err, embed.ErrUnavailable) ||
		errors.Is(err, embed.ErrTimeout) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Subscribe consumes note lifecycle events until the context is done or
// the channel closes. Failures are logged, never fatal: a dropped event
// is repaired by the next ReindexAll.
func (ix *Indexer) Subscribe(ctx context.Context, events <-chan note.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			ix.handleEvent(ctx, ev)
		}
	}
}

func (ix *Indexer) handleEvent(ctx context.Context, ev note.Event) {
	var err error
	switch ev.Kind {
	case note.EventCreated, note.EventUpdated:
		n := ev.Note
		if n == nil {
			n, err = ix.source.Get(ctx, ev.NoteID)
			if err != nil {
				break
			}
		}
		err = ix.IndexNote(ctx, n)
	case note.EventDeleted:
		err = ix.RemoveNote(ctx, ev.NoteID)
	default:
		ix.logger.Warn("unknown note event", "kind", int(ev.Kind), "note_id", ev.NoteID)
		return
	}
	if err != nil {
		ix.logger.Error("handling note event failed",
			"kind", ev.Kind.String(), "note_id", ev.NoteID, "error", err)
	}
}
