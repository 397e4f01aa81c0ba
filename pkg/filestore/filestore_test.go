package filestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Write("a/b/c.json", []byte("payload")))

	data, err := s.Read("a/b/c.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
	assert.True(t, s.Exists("a/b/c.json"))
}

func TestReadMissing(t *testing.T) {
	s := newStore(t)
	_, err := s.Read("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Write("dir/file", []byte("x")))

	entries, err := os.ReadDir(filepath.Join(s.Root(), "dir"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "file", entries[0].Name())
}

func TestWriteOverwrites(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Write("f", []byte("one")))
	require.NoError(t, s.Write("f", []byte("two")))

	data, err := s.Read("f")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), data)
}

func TestGlob(t *testing.T) {
	s := newStore(t)
	for _, p := range []string{
		"projects/p0/brains/b0/record.json",
		"projects/p0/brains/b1/record.json",
		"projects/p1/brains/b2/record.json",
		"notifications/x/chunk_1",
	} {
		require.NoError(t, s.Write(p, []byte("{}")))
	}

	matches, err := s.Glob("projects/*/brains/*/record.json")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"projects/p0/brains/b0/record.json",
		"projects/p0/brains/b1/record.json",
		"projects/p1/brains/b2/record.json",
	}, matches)
}

func TestGlobBraceAlternation(t *testing.T) {
	s := newStore(t)
	for _, p := range []string{"a/x/f", "a/y/f", "a/z/f"} {
		require.NoError(t, s.Write(p, []byte("1")))
	}

	matches, err := s.Glob("a/{x,z}/f")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/x/f", "a/z/f"}, matches)
}

func TestGlobNoMatches(t *testing.T) {
	s := newStore(t)
	matches, err := s.Glob("nothing/*/here")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRemove(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Write("f", []byte("x")))
	require.NoError(t, s.Remove("f"))
	assert.False(t, s.Exists("f"))
	// Removing a missing path is not an error.
	assert.NoError(t, s.Remove("f"))
}

func TestRemoveTree(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Write("tree/a/b", []byte("x")))
	require.NoError(t, s.Write("tree/c", []byte("y")))
	require.NoError(t, s.RemoveTree("tree"))
	assert.False(t, s.Exists("tree"))
}

func TestModificationTime(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Write("f", []byte("x")))

	mtime, err := s.ModificationTime("f")
	require.NoError(t, err)
	assert.Greater(t, mtime, int64(0))

	_, err = s.ModificationTime("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStaleness(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Write("dir/f", []byte("x")))

	staleness, err := s.Staleness("dir")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, staleness, int64(0))
	assert.Less(t, staleness, int64(10_000))

	_, err = s.Staleness("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExpandBraces(t *testing.T) {
	assert.Equal(t, []string{"a/b/c"}, expandBraces("a/b/c"))
	assert.Equal(t, []string{"a/x/c", "a/y/c"}, expandBraces("a/{x,y}/c"))
	assert.Equal(t, []string{"a/x/1", "a/x/2", "a/y/1", "a/y/2"},
		expandBraces("a/{x,y}/{1,2}"))
}
