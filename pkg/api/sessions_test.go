package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcadia-ml/mimic/pkg/datastore"
	"github.com/arcadia-ml/mimic/pkg/models"
)

func TestCreateSessionInteractiveTraining(t *testing.T) {
	svc, store := newTestService(t)
	brain := createTestBrain(t, svc)
	session := createTestSession(t, svc, brain.BrainID)

	assert.NotEmpty(t, session.SessionID)
	assert.Empty(t, session.StartingSnapshotIDs)

	stored, err := store.ReadSession("p0", brain.BrainID, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "test-agent/1.0", stored.UserAgent)

	// One assignment per configured hyperparameter set.
	assignments, _, err := store.List(
		"projects/p0/brains/"+brain.BrainID+"/sessions/"+session.SessionID+"/assignments/*", 0, "")
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, models.DefaultHyperparameters().CanonicalID(),
		assignments[0].Assignment())
}

func TestCreateSessionRequiresType(t *testing.T) {
	svc, _ := newTestService(t)
	brain := createTestBrain(t, svc)
	_, err := svc.CreateSession(authedContext(), &CreateSessionRequest{
		Spec: SessionSpec{ProjectID: "p0", BrainID: brain.BrainID},
	})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCreateInferenceSessionRequiresSnapshot(t *testing.T) {
	svc, _ := newTestService(t)
	brain := createTestBrain(t, svc)
	_, err := svc.CreateSession(authedContext(), &CreateSessionRequest{
		Spec: SessionSpec{ProjectID: "p0", BrainID: brain.BrainID,
			SessionType: models.SessionInference},
	})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCreateInferenceSessionUsesLatestSnapshot(t *testing.T) {
	svc, store := newTestService(t)
	brain := createTestBrain(t, svc)
	training := createTestSession(t, svc, brain.BrainID)
	require.NoError(t, store.Write(&models.Snapshot{
		ProjectID: "p0", BrainID: brain.BrainID, SnapshotID: "sn0",
		SessionID: training.SessionID, ModelID: "m0",
	}))

	session, err := svc.CreateSession(authedContext(), &CreateSessionRequest{
		Spec: SessionSpec{ProjectID: "p0", BrainID: brain.BrainID,
			SessionType: models.SessionInference},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"sn0"}, session.StartingSnapshotIDs)
}

func TestCreateEvaluationSessionChecksProvenance(t *testing.T) {
	svc, store := newTestService(t)
	brain := createTestBrain(t, svc)
	training := createTestSession(t, svc, brain.BrainID)
	require.NoError(t, store.Write(&models.Snapshot{
		ProjectID: "p0", BrainID: brain.BrainID, SnapshotID: "sn0",
		SessionID: training.SessionID, ModelID: "m0",
	}))

	// Snapshot from a training session: allowed.
	_, err := svc.CreateSession(authedContext(), &CreateSessionRequest{
		Spec: SessionSpec{ProjectID: "p0", BrainID: brain.BrainID,
			SessionType: models.SessionEvaluation, SnapshotID: "sn0"},
	})
	require.NoError(t, err)

	// Snapshot from an inference session: rejected.
	inference, err := svc.CreateSession(authedContext(), &CreateSessionRequest{
		Spec: SessionSpec{ProjectID: "p0", BrainID: brain.BrainID,
			SessionType: models.SessionInference, SnapshotID: "sn0"},
	})
	require.NoError(t, err)
	require.NoError(t, store.Write(&models.Snapshot{
		ProjectID: "p0", BrainID: brain.BrainID, SnapshotID: "sn1",
		SessionID: inference.SessionID, ModelID: "m0",
	}))
	_, err = svc.CreateSession(authedContext(), &CreateSessionRequest{
		Spec: SessionSpec{ProjectID: "p0", BrainID: brain.BrainID,
			SessionType: models.SessionEvaluation, SnapshotID: "sn1"},
	})
	assert.ErrorIs(t, err, ErrFailedPrecondition)
}

func TestGetSessionByIndex(t *testing.T) {
	svc, _ := newTestService(t)
	brain := createTestBrain(t, svc)
	s0 := createTestSession(t, svc, brain.BrainID)
	s1 := createTestSession(t, svc, brain.BrainID)

	want := []string{s0.SessionID, s1.SessionID}
	if want[0] > want[1] {
		want[0], want[1] = want[1], want[0] // Listing order is by id string.
	}

	got, err := svc.GetSessionByIndex(authedContext(), &GetSessionByIndexRequest{
		ProjectID: "p0", BrainID: brain.BrainID, SessionIndex: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, want[1], got.SessionID)

	_, err = svc.GetSessionByIndex(authedContext(), &GetSessionByIndexRequest{
		ProjectID: "p0", BrainID: brain.BrainID, SessionIndex: 5,
	})
	assert.ErrorIs(t, err, datastore.ErrNotFound)
}

func TestGetSessionCount(t *testing.T) {
	svc, _ := newTestService(t)
	brain := createTestBrain(t, svc)
	createTestSession(t, svc, brain.BrainID)
	createTestSession(t, svc, brain.BrainID)

	resp, err := svc.GetSessionCount(authedContext(), &GetSessionCountRequest{
		ProjectID: "p0", BrainID: brain.BrainID,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.SessionCount)
}

func TestStopSessionMarksStopped(t *testing.T) {
	svc, store := newTestService(t)
	brain := createTestBrain(t, svc)
	session := createTestSession(t, svc, brain.BrainID)

	resp, err := svc.StopSession(authedContext(), &StopSessionRequest{
		ProjectID: "p0", BrainID: brain.BrainID, SessionID: session.SessionID,
	})
	require.NoError(t, err)
	assert.True(t, resp.Session.Stopped)
	assert.Empty(t, resp.SnapshotID, "no models, nothing to promote")

	stored, err := store.ReadSession("p0", brain.BrainID, session.SessionID)
	require.NoError(t, err)
	assert.True(t, stored.Stopped)

	// Stopping twice is a precondition failure.
	_, err = svc.StopSession(authedContext(), &StopSessionRequest{
		ProjectID: "p0", BrainID: brain.BrainID, SessionID: session.SessionID,
	})
	assert.ErrorIs(t, err, ErrFailedPrecondition)
}

func TestStopSessionPromotesBestModel(t *testing.T) {
	svc, store := newTestService(t)
	brain := createTestBrain(t, svc)
	session := createTestSession(t, svc, brain.BrainID)

	hp := models.DefaultHyperparameters()
	for _, m := range []struct {
		id    string
		score float64
	}{{"m0", 0.5}, {"m1", 0.2}, {"m2", 0.9}} {
		require.NoError(t, store.Write(&models.Model{
			ProjectID: "p0", BrainID: brain.BrainID, SessionID: session.SessionID,
			ModelID: m.id, AssignmentID: hp.CanonicalID(),
			ModelPath: "/dev/null", CompressedModelPath: "/dev/null",
		}))
		require.NoError(t, store.Write(&models.OfflineEvaluation{
			ProjectID: "p0", BrainID: brain.BrainID, SessionID: session.SessionID,
			EvaluationID: m.id + "_0", ModelID: m.id, EvalSetVersion: 0, Score: m.score,
		}))
	}

	resp, err := svc.StopSession(authedContext(), &StopSessionRequest{
		ProjectID: "p0", BrainID: brain.BrainID, SessionID: session.SessionID,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.SnapshotID)

	snap, err := store.ReadSnapshot("p0", brain.BrainID, resp.SnapshotID)
	require.NoError(t, err)
	assert.Equal(t, "m1", snap.ModelID, "lowest offline score wins")
}

func TestStopSessionPrefersOnlineFeedback(t *testing.T) {
	svc, store := newTestService(t)
	brain := createTestBrain(t, svc)
	session := createTestSession(t, svc, brain.BrainID)

	hp := models.DefaultHyperparameters()
	for _, id := range []string{"m0", "m1"} {
		require.NoError(t, store.Write(&models.Model{
			ProjectID: "p0", BrainID: brain.BrainID, SessionID: session.SessionID,
			ModelID: id, AssignmentID: hp.CanonicalID(),
		}))
	}
	require.NoError(t, store.Write(&models.OfflineEvaluation{
		ProjectID: "p0", BrainID: brain.BrainID, SessionID: session.SessionID,
		EvaluationID: "m0_0", ModelID: "m0", EvalSetVersion: 0, Score: 0.01,
	}))
	require.NoError(t, store.Write(&models.OnlineEvaluation{
		ProjectID: "p0", BrainID: brain.BrainID, SessionID: session.SessionID,
		ModelID: "m0", Successes: 1, Failures: 9,
	}))
	require.NoError(t, store.Write(&models.OnlineEvaluation{
		ProjectID: "p0", BrainID: brain.BrainID, SessionID: session.SessionID,
		ModelID: "m1", Successes: 8, Failures: 2,
	}))

	resp, err := svc.StopSession(authedContext(), &StopSessionRequest{
		ProjectID: "p0", BrainID: brain.BrainID, SessionID: session.SessionID,
	})
	require.NoError(t, err)

	snap, err := store.ReadSnapshot("p0", brain.BrainID, resp.SnapshotID)
	require.NoError(t, err)
	assert.Equal(t, "m1", snap.ModelID, "online success rate beats offline score")
}
