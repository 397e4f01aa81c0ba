package learner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcadia-ml/mimic/pkg/datastore"
	"github.com/arcadia-ml/mimic/pkg/models"
)

// seedChunks persists demonstration chunks across a few episodes.
func seedChunks(t *testing.T, store *datastore.Store, episodes, chunksPer, steps int) {
	t.Helper()
	for e := 0; e < episodes; e++ {
		for c := 0; c < chunksPer; c++ {
			state := models.EpisodeInProgress
			if c == chunksPer-1 {
				state = models.EpisodeSuccess
			}
			chunk := testChunk(string(rune('a'+e)), c, steps, state)
			require.NoError(t, store.Write(chunk))
		}
	}
}

func newTestProcessor(t *testing.T, hp models.Hyperparameters) (*Processor, *datastore.Store) {
	t.Helper()
	storage, store := newLearnerStore(t)
	assignment := seedSessionFixture(t, store)
	assignment.Hyperparameters = hp
	assignment.AssignmentID = hp.CanonicalID()
	require.NoError(t, store.Write(assignment))

	cache := NewBrainCache(NewLinearTrainer, 2)
	proc, err := NewProcessor(storage, testDirs(t), cache, NewLinearTrainer, assignment, nil)
	require.NoError(t, err)
	return proc, store
}

func TestProcessorStopsAtBudget(t *testing.T) {
	hp := testHyperparameters()
	hp.EvalFraction = 0.5
	hp.MaxTrainingExamples = 40 // 10 batches of 4.
	proc, store := newTestProcessor(t, hp)
	seedChunks(t, store, 8, 2, 8)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	reason, err := proc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReasonBudgetExhausted, reason)
	assert.Equal(t, StateTerminated, proc.State())

	// The save interval fired along the way and published models.
	modelIDs, _, err := store.List("projects/p0/brains/b0/sessions/s0/models/*", 0, "")
	require.NoError(t, err)
	assert.NotEmpty(t, modelIDs)

	evalIDs, _, err := store.List(
		"projects/p0/brains/b0/sessions/s0/offline_evaluations/*", 0, "")
	require.NoError(t, err)
	assert.NotEmpty(t, evalIDs)
}

func TestProcessorNoticesStoppedSession(t *testing.T) {
	hp := testHyperparameters()
	proc, store := newTestProcessor(t, hp)
	seedChunks(t, store, 2, 1, 4)

	session, err := store.ReadSession("p0", "b0", "s0")
	require.NoError(t, err)
	session.Stopped = true
	require.NoError(t, store.Write(session))

	reason, err := proc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonSessionStopped, reason)
}

func TestProcessorExternalStop(t *testing.T) {
	hp := testHyperparameters()
	proc, store := newTestProcessor(t, hp)
	seedChunks(t, store, 2, 1, 4)

	proc.Stop()
	reason, err := proc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonExternalStop, reason)
}

func TestProcessorContextCancelled(t *testing.T) {
	hp := testHyperparameters()
	proc, store := newTestProcessor(t, hp)
	seedChunks(t, store, 2, 1, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reason, err := proc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReasonContextCancelled, reason)
}

func TestProcessorStopsWithoutImprovement(t *testing.T) {
	hp := testHyperparameters()
	hp.EvalFraction = 0.5
	hp.MaxTrainingExamples = 4000 // Backstop if the plateau takes a while.
	hp.SaveIntervalBatches = 1
	proc, store := newTestProcessor(t, hp)
	seedChunks(t, store, 8, 2, 8)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	reason, err := proc.Run(ctx)
	require.NoError(t, err)
	// The tiny learnable problem plateaus quickly, so one of the stopping
	// rules fires well before the budget; the budget is a backstop.
	assert.Contains(t, []string{
		"too many models without improvement",
		"too many models without an eval set",
		ReasonBudgetExhausted,
	}, reason)
}
