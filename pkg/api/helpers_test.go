package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"

	"github.com/arcadia-ml/mimic/pkg/datastore"
	"github.com/arcadia-ml/mimic/pkg/filestore"
	"github.com/arcadia-ml/mimic/pkg/models"
)

const testAPIKey = "test-key"

func newTestService(t *testing.T) (*Service, *datastore.Store) {
	t.Helper()
	fs, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	store := datastore.New(fs)
	require.NoError(t, store.Write(&models.Project{
		ProjectID: "p0", DisplayName: "p0", APIKey: testAPIKey,
	}))
	hp := models.DefaultHyperparameters()
	return NewService(store, []models.Hyperparameters{hp}, nil), store
}

// authedContext carries a valid API key the way clients do.
func authedContext() context.Context {
	return metadata.NewIncomingContext(context.Background(),
		metadata.Pairs(APIKeyMetadataKey, testAPIKey, "user-agent", "test-agent/1.0"))
}

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

// createTestBrain creates a brain through the RPC surface.
func createTestBrain(t *testing.T, svc *Service) *Brain {
	t.Helper()
	brain, err := svc.CreateBrain(authedContext(), &CreateBrainRequest{
		ProjectID: "p0", DisplayName: "b", BrainSpec: testBrainSpec(),
	})
	require.NoError(t, err)
	return brain
}

// createTestSession opens an INTERACTIVE_TRAINING session on a brain.
func createTestSession(t *testing.T, svc *Service, brainID string) *Session {
	t.Helper()
	session, err := svc.CreateSession(authedContext(), &CreateSessionRequest{
		Spec: SessionSpec{
			ProjectID:   "p0",
			BrainID:     brainID,
			SessionType: models.SessionInteractiveTraining,
		},
	})
	require.NoError(t, err)
	return session
}

// validChunk is scenario fodder: one step with a position observation and
// a single in-range number action.
func validChunk(episode string, chunkID int, state models.EpisodeState) SubmittedChunk {
	return SubmittedChunk{
		EpisodeID:    episode,
		ChunkID:      chunkID,
		EpisodeState: state,
		Steps: []models.Step{{
			Observation: models.ObservationData{
				Player: &models.EntityData{Position: &models.Position{X: 0, Y: 0, Z: 0}},
			},
			Action: models.ActionData{Actions: []models.ActionValue{
				{Number: &models.NumberValue{Value: 0.5}},
			}},
		}},
	}
}
