package filestore

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type moveRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *moveRecorder) record(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *moveRecorder) seen(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.paths {
		if p == path {
			return true
		}
	}
	return false
}

func TestWatchMovesSeesAtomicWrites(t *testing.T) {
	s := newStore(t)
	defer s.CloseWatcher()

	recorder := &moveRecorder{}
	require.NoError(t, s.WatchMoves(recorder.record))

	require.NoError(t, s.Write("notifications/a/chunk_1", []byte("x")))

	assert.Eventually(t, func() bool {
		return recorder.seen("notifications/a/chunk_1")
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatchMovesCoversNewDirectories(t *testing.T) {
	s := newStore(t)
	defer s.CloseWatcher()

	recorder := &moveRecorder{}
	require.NoError(t, s.WatchMoves(recorder.record))

	// The first write creates the directory; the watcher must pick up
	// nested writes that follow.
	require.NoError(t, s.Write("deep/tree/first", []byte("1")))
	require.NoError(t, s.Write("deep/tree/second", []byte("2")))

	assert.Eventually(t, func() bool {
		return recorder.seen("deep/tree/second")
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatchMovesIgnoresTempFiles(t *testing.T) {
	s := newStore(t)
	defer s.CloseWatcher()

	recorder := &moveRecorder{}
	require.NoError(t, s.WatchMoves(recorder.record))

	require.NoError(t, s.Write("visible", []byte("x")))
	require.Eventually(t, func() bool {
		return recorder.seen("visible")
	}, 5*time.Second, 20*time.Millisecond)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	for _, p := range recorder.paths {
		assert.NotContains(t, p, "~")
	}
}
