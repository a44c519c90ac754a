package orchestrator

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentStore_Init(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "segments")
	s := NewSegmentStore(root)
	require.NoError(t, s.Init())
	assert.DirExists(t, root)
	require.NoError(t, s.Init(), "Init is idempotent")
}

func TestSegmentStore_Init_failure(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	err := NewSegmentStore(filepath.Join(file, "segments")).Init()
	assert.True(t, errors.Is(err, ErrFilesystem))
}

func TestSegmentStore_Layout(t *testing.T) {
	s := NewSegmentStore("/srv/segments")
	assert.Equal(t, filepath.Join("/srv/segments", "abc123"), s.Dir("abc123"))
	assert.Equal(t, filepath.Join("/srv/segments", "abc123", "playlist.m3u8"), s.PlaylistPath("abc123"))
}

func TestSegmentStore_Prepare_purges_leftovers(t *testing.T) {
	s := NewSegmentStore(t.TempDir())
	require.NoError(t, s.Init())

	dir, err := s.Prepare("abc123")
	require.NoError(t, err)
	assert.True(t, s.Exists("abc123"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "segment0.ts"), []byte("old"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))

	again, err := s.Prepare("abc123")
	require.NoError(t, err)
	assert.Equal(t, dir, again)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSegmentStore_Remove(t *testing.T) {
	s := NewSegmentStore(t.TempDir())
	require.NoError(t, s.Init())

	dir, err := s.Prepare("abc123")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "segment0.ts"), []byte("x"), 0o644))

	require.NoError(t, s.Remove("abc123"))
	assert.False(t, s.Exists("abc123"))
	require.NoError(t, s.Remove("abc123"), "removing a missing directory is not an error")
}
