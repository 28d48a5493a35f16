// Package note defines the engine's view of the host application's notes.
//
// The engine never owns notes: it reads them through a Source and reacts
// to lifecycle Events emitted by the host's note repository. Persistence
// format, editing and trash semantics all live on the host side.
package note

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the requested note does not exist (or is trashed
// and the source chose not to expose it).
var ErrNotFound = errors.New("note not found")

// Note is a read-only snapshot of a host note.
type Note struct {
	ID        string
	Title     string
	Content   string
	Tags      []string
	Notebook  string
	UpdatedAt time.Time

	// Trashed marks soft-deleted notes. Trashed notes are never indexed
	// and are excluded from similar-note results.
	Trashed bool
}

// Source provides read access to the host's notes.
//
// Implementations must be safe for concurrent use; the engine calls
// Source from retrieval and background-indexing goroutines at the
// same time.
type Source interface {
	// Get returns a single note by ID. Returns ErrNotFound for unknown IDs.
	Get(ctx context.Context, id string) (*Note, error)

	// List returns all notes, including trashed ones (callers filter on
	// the Trashed flag). Order is unspecified.
	List(ctx context.Context) ([]*Note, error)
}

// EventKind classifies a note lifecycle notification.
type EventKind int

const (
	EventCreated EventKind = iota + 1
	EventUpdated
	EventDeleted
)

// String implements Stringer for log output.
func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventUpdated:
		return "updated"
	case EventDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is a note lifecycle notification from the host repository.
// Note is nil for EventDeleted; NoteID is always set.
type Event struct {
	Kind   EventKind
	NoteID string
	Note   *Note
}
