package testutil

import (
	"context"
	"sync"

	"github.com/sagenote/sage/internal/note"
)

// NoteSource is an in-memory note.Source for tests. Notes are stored by
// ID; Put and Remove mutate the set between engine calls.
//
// Thread-safe for concurrent use.
type NoteSource struct {
	mu    sync.RWMutex
	notes map[string]*note.Note
}

// NewNoteSource creates an empty in-memory source.
func NewNoteSource(notes ...*note.Note) *NoteSource {
	s := &NoteSource{notes: make(map[string]*note.Note)}
	for _, n := range notes {
		s.notes[n.ID] = n
	}
	return s
}

// Put adds or replaces a note.
func (s *NoteSource) Put(n *note.Note) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[n.ID] = n
}

// Remove deletes a note by ID.
func (s *NoteSource) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notes, id)
}

// Get returns a note by ID, or note.ErrNotFound.
func (s *NoteSource) Get(_ context.Context, id string) (*note.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[id]
	if !ok {
		return nil, note.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

// List returns all notes, including trashed ones.
func (s *NoteSource) List(_ context.Context) ([]*note.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*note.Note, 0, len(s.notes))
	for _, n := range s.notes {
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

var _ note.Source = (*NoteSource)(nil)
