package datastore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcadia-ml/mimic/pkg/models"
)

func TestCacheReadsThrough(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(&models.Brain{ProjectID: "p0", BrainID: "b0",
		DisplayName: "cached"}))
	c := NewCache(s)

	brain, err := c.GetBrain("p0", "b0")
	require.NoError(t, err)
	assert.Equal(t, "cached", brain.DisplayName)

	// Served from cache even after the record disappears underneath.
	id, err := brain.ResourceID()
	require.NoError(t, err)
	require.NoError(t, s.Delete(id))
	again, err := c.GetBrain("p0", "b0")
	require.NoError(t, err)
	assert.Equal(t, "cached", again.DisplayName)
}

func TestCacheSessionTypeAndSnapshot(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(&models.Snapshot{ProjectID: "p0", BrainID: "b0",
		SnapshotID: "sn0", SessionID: "src", ModelID: "m0"}))
	require.NoError(t, s.Write(&models.Session{ProjectID: "p0", BrainID: "b0",
		SessionID: "s0", SessionType: models.SessionEvaluation,
		StartingSnapshotIDs: []string{"sn0"}}))
	c := NewCache(s)

	st, err := c.GetSessionType("p0", "b0", "s0")
	require.NoError(t, err)
	assert.Equal(t, models.SessionEvaluation, st)

	snap, err := c.GetStartingSnapshot("p0", "b0", "s0")
	require.NoError(t, err)
	assert.Equal(t, "m0", snap.ModelID)
}

func TestCacheStartingSnapshotRequiresExactlyOne(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(&models.Session{ProjectID: "p0", BrainID: "b0",
		SessionID: "s0", SessionType: models.SessionInteractiveTraining}))
	c := NewCache(s)
	_, err := c.GetStartingSnapshot("p0", "b0", "s0")
	assert.Error(t, err)
}

func TestCacheInvalidate(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(&models.Brain{ProjectID: "p0", BrainID: "b0",
		DisplayName: "old"}))
	c := NewCache(s)
	_, err := c.GetBrain("p0", "b0")
	require.NoError(t, err)

	require.NoError(t, s.Write(&models.Brain{ProjectID: "p0", BrainID: "b0",
		DisplayName: "new"}))
	c.Invalidate("p0", "b0")

	brain, err := c.GetBrain("p0", "b0")
	require.NoError(t, err)
	assert.Equal(t, "new", brain.DisplayName)
}
