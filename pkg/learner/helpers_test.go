package learner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcadia-ml/mimic/pkg/datastore"
	"github.com/arcadia-ml/mimic/pkg/filestore"
	"github.com/arcadia-ml/mimic/pkg/models"
)

// testBrainSpec is the minimal spec used across learner tests: a player
// position observation and one bounded number action.
func testBrainSpec() models.BrainSpec {
	return models.BrainSpec{
		ObservationSpec: models.ObservationSpec{
			Player: &models.EntityType{Position: &models.PositionType{}},
		},
		ActionSpec: models.ActionSpec{
			Actions: []models.ActionType{
				{Name: "a", Number: &models.NumberType{Minimum: -1, Maximum: 1}},
			},
		},
	}
}

// testHyperparameters keeps batches tiny so tests train in microseconds.
func testHyperparameters() models.Hyperparameters {
	h := models.DefaultHyperparameters()
	h.BatchSize = 4
	h.SaveIntervalBatches = 2
	h.MaxTrainingExamples = 1_000_000
	h.ReplayBufferCapacity = 1024
	return h
}

// testChunk builds a valid chunk whose action value is x+y+z clipped into
// range, so the linear policy has an exactly learnable target.
func testChunk(episode string, chunkID, steps int, state models.EpisodeState) *models.EpisodeChunk {
	chunk := &models.EpisodeChunk{
		ProjectID: "p0", BrainID: "b0", SessionID: "s0",
		EpisodeID: episode, ChunkID: chunkID, EpisodeState: state,
		CreatedMicros: int64(1000 + chunkID),
	}
	for i := 0; i < steps; i++ {
		x := float64(i%3)*0.1 - 0.1
		chunk.Steps = append(chunk.Steps, models.Step{
			Observation: models.ObservationData{
				Player: &models.EntityData{Position: &models.Position{X: x, Y: 0.2, Z: -0.1}},
			},
			Action: models.ActionData{
				Source:  models.SourceHumanDemonstration,
				Actions: []models.ActionValue{{Number: &models.NumberValue{Value: x + 0.1}}},
			},
		})
	}
	return chunk
}

func newLearnerStore(t *testing.T) (*Storage, *datastore.Store) {
	t.Helper()
	fs, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	store := datastore.New(fs)
	return NewStorage(store), store
}

func testDirs(t *testing.T) Dirs {
	t.Helper()
	base := t.TempDir()
	dirs := Dirs{
		TmpModels:   base + "/tmp_models",
		Models:      base + "/models",
		Checkpoints: base + "/checkpoints",
		Summaries:   base + "/summaries",
	}
	return dirs
}

// seedSessionFixture writes the project/brain/session/assignment records a
// processor or exporter needs.
func seedSessionFixture(t *testing.T, store *datastore.Store) *models.Assignment {
	t.Helper()
	require.NoError(t, store.Write(&models.Project{ProjectID: "p0", DisplayName: "p0", APIKey: "k"}))
	require.NoError(t, store.Write(&models.Brain{ProjectID: "p0", BrainID: "b0",
		BrainSpec: testBrainSpec()}))
	require.NoError(t, store.Write(&models.Session{ProjectID: "p0", BrainID: "b0",
		SessionID: "s0", SessionType: models.SessionInteractiveTraining}))
	hp := testHyperparameters()
	assignment := &models.Assignment{
		ProjectID: "p0", BrainID: "b0", SessionID: "s0",
		AssignmentID:    hp.CanonicalID(),
		Hyperparameters: hp,
	}
	require.NoError(t, store.Write(assignment))
	return assignment
}
