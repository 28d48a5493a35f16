package note

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DirSource is a Source backed by a directory of markdown and text
// files. The note ID is the path relative to the root; the title is the
// first heading, falling back to the file name. Files under a ".trash"
// directory surface as trashed notes.
//
// DirSource reads the filesystem on every call and holds no state, so
// it is safe for concurrent use.
type DirSource struct {
	root string
}

// NewDirSource creates a directory-backed source rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{root: dir}
}

// Get returns the note for a relative file path.
func (s *DirSource) Get(_ context.Context, id string) (*Note, error) {
	path := filepath.Join(s.root, filepath.FromSlash(id))
	if !strings.HasPrefix(filepath.Clean(path), filepath.Clean(s.root)) {
		return nil, ErrNotFound
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, ErrNotFound
	}
	if info.IsDir() || !noteFile(path) {
		return nil, ErrNotFound
	}
	return s.load(id, path, info)
}

// List walks the root and returns every note file, including trashed
// ones.
func (s *DirSource) List(ctx context.Context) ([]*Note, error) {
	var notes []*Note
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := d.Name()
		if d.IsDir() {
			// Hidden directories are not note storage; .trash is walked
			// so its notes surface as trashed.
			if strings.HasPrefix(name, ".") && name != "." && name != ".trash" && path != s.root {
				return filepath.SkipDir
			}
			return nil
		}
		if !noteFile(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		n, err := s.load(filepath.ToSlash(rel), path, info)
		if err != nil {
			return err
		}
		notes = append(notes, n)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking notes directory: %w", err)
	}
	return notes, nil
}

func (s *DirSource) load(id, path string, info fs.FileInfo) (*Note, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading note %s: %w", id, err)
	}
	content := string(data)
	return &Note{
		ID:        id,
		Title:     titleOf(content, filepath.Base(path)),
		Content:   content,
		Notebook:  filepath.ToSlash(filepath.Dir(id)),
		UpdatedAt: info.ModTime(),
		Trashed:   strings.Contains(filepath.ToSlash(id), ".trash/"),
	}, nil
}

// noteFile reports whether a path looks like note content.
func noteFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".txt":
		return true
	}
	return false
}

// titleOf returns the first markdown heading, or the file name without
// extension.
func titleOf(content, filename string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(line, "#"); ok {
			return strings.TrimSpace(strings.TrimLeft(after, "#"))
		}
		if line != "" {
			break
		}
	}
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}
