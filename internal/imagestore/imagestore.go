// Package imagestore loads stored photos by the references kept in the user repository.
package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrImageNotFound is returned when a reference points at no readable file.
var ErrImageNotFound = errors.New("image not found")

// Store resolves photo references against a root directory.
// References are stored as web paths ("/static/fotos/123.jpg"); the leading
// slash is dropped and the result may not escape the root.
type Store struct {
	root string
}

// New creates a store rooted at dir.
func New(dir string) (*Store, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve photos directory: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("photos directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("photos directory %s is not a directory", abs)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string {
	return s.root
}

// Resolve maps a reference to a path inside the root.
func (s *Store) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(strings.ReplaceAll(ref, "\\", "/"))
	if ref == "" {
		return "", fmt.Errorf("empty photo reference: %w", ErrImageNotFound)
	}

	rel := filepath.Clean(filepath.FromSlash(strings.TrimLeft(ref, "/")))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("photo reference %q escapes the photos directory: %w", ref, ErrImageNotFound)
	}
	return filepath.Join(s.root, rel), nil
}

// Load reads the photo behind ref.
func (s *Store) Load(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.Resolve(ref)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is confined to the root
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("photo %q: %w", ref, ErrImageNotFound)
		}
		return nil, fmt.Errorf("read photo %q: %w", ref, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("photo %q is empty: %w", ref, ErrImageNotFound)
	}
	return data, nil
}
