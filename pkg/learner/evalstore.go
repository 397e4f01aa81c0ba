package learner

import (
	"fmt"
	"sync"
)

// EvalDatastore is an append-only, versioned buffer of held-out eval
// frames. Newly added trajectories accumulate in a staging buffer;
// CreateVersion flushes the buffer into an immutable chunk and returns a
// new dense version id. GetVersion(v) is always a prefix-extension of
// GetVersion(v-1).
type EvalDatastore struct {
	mu sync.Mutex

	versions []int
	chunks   [][]Frame
	frames   int

	buffer       []Frame
	bufferFrames int
}

// NewEvalDatastore creates an empty store.
func NewEvalDatastore() *EvalDatastore {
	return &EvalDatastore{}
}

// AddTrajectory appends a batched trajectory to the staging buffer.
func (e *EvalDatastore) AddTrajectory(batch []Frame) error {
	if len(batch) == 0 {
		return fmt.Errorf("trajectory must be batched with at least one frame")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffer = append(e.buffer, batch...)
	e.bufferFrames += len(batch)
	return nil
}

// CreateVersion flushes the staging buffer into a new immutable chunk. It
// returns the new version id, or the previous id when the buffer was empty;
// ok is false only when the store is entirely empty.
func (e *EvalDatastore) CreateVersion() (version int, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.buffer) == 0 {
		if len(e.versions) == 0 {
			return 0, false
		}
		return e.versions[len(e.versions)-1], true
	}
	chunk := e.buffer
	e.buffer = nil
	e.frames += e.bufferFrames
	e.bufferFrames = 0
	e.chunks = append(e.chunks, chunk)
	version = len(e.chunks) - 1
	e.versions = append(e.versions, version)
	return version, true
}

// Versions returns the dense, strictly increasing version ids.
func (e *EvalDatastore) Versions() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.versions...)
}

// EvalFrames returns the number of versioned frames.
func (e *EvalDatastore) EvalFrames() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}

// GetVersion returns the concatenation of all chunks up to and including
// version v.
func (e *EvalDatastore) GetVersion(v int) ([]Frame, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v < 0 || v >= len(e.chunks) {
		return nil, fmt.Errorf("unknown eval version %d", v)
	}
	var out []Frame
	for _, chunk := range e.chunks[:v+1] {
		out = append(out, chunk...)
	}
	return out, nil
}

// VersionDelta is one chunk of the delta stream.
type VersionDelta struct {
	Version int
	Size    int
	Frames  []Frame
}

// GetVersionDeltas enumerates the delta chunks in version order;
// concatenating deltas up to version v reproduces GetVersion(v).
func (e *EvalDatastore) GetVersionDeltas() []VersionDelta {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]VersionDelta, 0, len(e.chunks))
	for i, chunk := range e.chunks {
		out = append(out, VersionDelta{
			Version: e.versions[i],
			Size:    len(chunk),
			Frames:  chunk,
		})
	}
	return out
}

// Clear drops all content, staged and versioned.
func (e *EvalDatastore) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.versions = nil
	e.chunks = nil
	e.frames = 0
	e.buffer = nil
	e.bufferFrames = 0
}
