package resourceid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	paths := []string{
		"projects/p0",
		"projects/p0/brains/b0",
		"projects/p0/brains/b0/sessions/s0",
		"projects/p0/brains/b0/sessions/s0/episodes/e0/chunks/0",
		"projects/p0/brains/b0/sessions/s0/assignments/a0",
		"projects/p0/brains/b0/sessions/s0/models/m0",
		"projects/p0/brains/b0/sessions/s0/online_evaluations/m0",
		"projects/p0/brains/b0/sessions/s0/offline_evaluations/m0_1",
		"projects/p0/brains/b0/snapshots/sn0",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			id, err := Parse(Resources, path)
			require.NoError(t, err)
			assert.Equal(t, path, id.String())

			reparsed, err := Parse(Resources, id.String())
			require.NoError(t, err)
			assert.True(t, id.Equal(reparsed))
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"odd components", "projects/p0/brains"},
		{"empty element", "projects//brains/b0"},
		{"empty collection", "/p0"},
		{"unknown collection", "projects/p0/flavors/f0"},
		{"wrong depth", "brains/b0"},
		{"skipped ancestor", "projects/p0/sessions/s0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(Resources, tc.path)
			assert.ErrorIs(t, err, ErrInvalidResource)
		})
	}
}

func TestFromMapMatchesParts(t *testing.T) {
	id, err := FromMap(Resources, map[string]string{
		"projects": "p0",
		"brains":   "b0",
		"sessions": "s0",
		"episodes": "e0",
		"chunks":   "3",
	})
	require.NoError(t, err)
	assert.Equal(t, "projects/p0/brains/b0/sessions/s0/episodes/e0/chunks/3", id.String())

	parsed, err := Parse(Resources, id.String())
	require.NoError(t, err)
	assert.Equal(t, parsed.Collections(), id.Collections())
}

func TestFromMapUnmatchedKeys(t *testing.T) {
	_, err := FromMap(Resources, map[string]string{
		"projects": "p0",
		"chunks":   "0",
	})
	assert.ErrorIs(t, err, ErrInvalidResource)
}

func TestAccessors(t *testing.T) {
	id, err := Parse(Resources, "projects/p0/brains/b0/sessions/s0/episodes/e0/chunks/7")
	require.NoError(t, err)
	assert.Equal(t, "p0", id.Project())
	assert.Equal(t, "b0", id.Brain())
	assert.Equal(t, "s0", id.Session())
	assert.Equal(t, "e0", id.Episode())
	assert.Equal(t, "7", id.Chunk())

	index, err := id.ChunkIndex()
	require.NoError(t, err)
	assert.Equal(t, 7, index)
}

func TestChunkIndexNonInteger(t *testing.T) {
	id, err := Parse(Resources, "projects/p0/brains/b0/sessions/s0/episodes/e0/chunks/x")
	require.NoError(t, err)
	_, err = id.ChunkIndex()
	assert.ErrorIs(t, err, ErrInvalidResource)
}

func TestGlobElementsAllowed(t *testing.T) {
	// Listing patterns embed '*' as an element id.
	id, err := Parse(Resources, "projects/p0/brains/*/sessions/*")
	require.NoError(t, err)
	assert.Equal(t, "*", id.Brain())
}
