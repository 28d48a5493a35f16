package note

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDirSourceList(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "groceries.md", "# Groceries\n\neggs, milk")
	writeFile(t, dir, "work/standup.md", "notes from standup")
	writeFile(t, dir, ".trash/old.md", "# Old\n\ndiscarded")
	writeFile(t, dir, "image.png", "not a note")

	src := NewDirSource(dir)
	notes, err := src.List(context.Background())
	if err != nil {
		t.Fatalf("List() err = %v", err)
	}
	if len(notes) != 3 {
		t.Fatalf("len(notes) = %d, want 3 (png excluded)", len(notes))
	}

	byID := make(map[string]*Note)
	for _, n := range notes {
		byID[n.ID] = n
	}
	if n := byID["groceries.md"]; n == nil || n.Title != "Groceries" {
		t.Errorf("groceries = %+v", n)
	}
	if n := byID["work/standup.md"]; n == nil || n.Title != "standup" {
		t.Errorf("nested note = %+v, want filename title", n)
	}
	if n := byID[".trash/old.md"]; n == nil || !n.Trashed {
		t.Errorf("trashed note = %+v, want Trashed", n)
	}
}

func TestDirSourceGet(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "# A\n\nbody")

	src := NewDirSource(dir)
	n, err := src.Get(context.Background(), "a.md")
	if err != nil {
		t.Fatalf("Get() err = %v", err)
	}
	if n.Title != "A" || n.Content != "# A\n\nbody" {
		t.Errorf("note = %+v", n)
	}

	if _, err := src.Get(context.Background(), "missing.md"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing note err = %v, want ErrNotFound", err)
	}
	if _, err := src.Get(context.Background(), "../outside.md"); !errors.Is(err, ErrNotFound) {
		t.Errorf("path escape err = %v, want ErrNotFound", err)
	}
}
