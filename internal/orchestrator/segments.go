package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// PlaylistFile is the manifest name written by the transcoder.
	PlaylistFile = "playlist.m3u8"

	// SegmentPattern is the transcoder's segment file name template.
	SegmentPattern = "segment%d.ts"
)

// SegmentStore owns the on-disk layout <root>/<id>/ for every stream.
type SegmentStore struct {
	root string
}

// NewSegmentStore returns a store rooted at root. Call Init before use.
func NewSegmentStore(root string) *SegmentStore {
	return &SegmentStore{root: root}
}

// Root returns the directory all stream directories live under.
func (s *SegmentStore) Root() string {
	return s.root
}

// Init creates the root directory if it does not exist.
func (s *SegmentStore) Init() error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("%w: create root %s: %v", ErrFilesystem, s.root, err)
	}
	return nil
}

// Dir returns the directory for id.
func (s *SegmentStore) Dir(id StreamID) string {
	return filepath.Join(s.root, string(id))
}

// PlaylistPath returns the manifest path for id.
func (s *SegmentStore) PlaylistPath(id StreamID) string {
	return filepath.Join(s.Dir(id), PlaylistFile)
}

// Exists reports whether the directory for id is present.
func (s *SegmentStore) Exists(id StreamID) bool {
	info, err := os.Stat(s.Dir(id))
	return err == nil && info.IsDir()
}

// Prepare makes sure the directory for id exists and is empty, purging any
// leftovers from an earlier session with the same id.
func (s *SegmentStore) Prepare(id StreamID) (string, error) {
	dir := s.Dir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create %s: %v", ErrFilesystem, dir, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("%w: list %s: %v", ErrFilesystem, dir, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return "", fmt.Errorf("%w: purge %s: %v", ErrFilesystem, dir, err)
		}
	}
	return dir, nil
}

// Remove deletes the directory for id. A missing directory is not an error.
func (s *SegmentStore) Remove(id StreamID) error {
	if err := os.RemoveAll(s.Dir(id)); err != nil {
		return fmt.Errorf("%w: remove %s: %v", ErrFilesystem, s.Dir(id), err)
	}
	return nil
}
