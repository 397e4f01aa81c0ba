package learner

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayBufferFIFO(t *testing.T) {
	b := NewReplayBuffer(3)
	b.Add(frames(2, 1))
	assert.Equal(t, 2, b.Size())

	got, err := b.Gather()
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// Exceeding capacity drops the oldest frames.
	b.Add([]Frame{{TimeMicros: 10}, {TimeMicros: 11}})
	assert.Equal(t, 3, b.Size())
	got, err = b.Gather()
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(1), got[0].TimeMicros)
	assert.Equal(t, int64(10), got[1].TimeMicros)
	assert.Equal(t, int64(11), got[2].TimeMicros)
}

func TestReplayBufferWrapAround(t *testing.T) {
	b := NewReplayBuffer(4)
	for i := 0; i < 10; i++ {
		b.Add([]Frame{{TimeMicros: int64(i)}})
	}
	got, err := b.Gather()
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, int64(6), got[0].TimeMicros)
	assert.Equal(t, int64(9), got[3].TimeMicros)
}

func TestReplayBufferSample(t *testing.T) {
	b := NewReplayBuffer(8)
	b.Add(frames(5, 7))
	rng := rand.New(rand.NewPCG(1, 2))

	batch, err := b.Sample(16, rng)
	require.NoError(t, err)
	assert.Len(t, batch, 16)
	for _, f := range batch {
		assert.Equal(t, int64(7), f.TimeMicros)
	}
}

func TestReplayBufferEmpty(t *testing.T) {
	b := NewReplayBuffer(4)
	rng := rand.New(rand.NewPCG(1, 2))
	_, err := b.Sample(1, rng)
	assert.ErrorIs(t, err, ErrEmptyBuffer)
	_, err = b.Gather()
	assert.ErrorIs(t, err, ErrEmptyBuffer)
}

func TestReplayBufferClear(t *testing.T) {
	b := NewReplayBuffer(4)
	b.Add(frames(3, 1))
	b.Clear()
	assert.Zero(t, b.Size())
	_, err := b.Gather()
	assert.ErrorIs(t, err, ErrEmptyBuffer)
}
