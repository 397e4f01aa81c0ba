package api

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcadia-ml/mimic/pkg/models"
)

// writeModelZip creates a published bundle zip with files both inside and
// outside saved_model/.
func writeModelZip(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "m0.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	for name, content := range map[string]string{
		"saved_model/model.json":               `{"format":"saved_model.v1"}`,
		"saved_model/weights.json":             `{}`,
		"saved_model/inference/inference.json": `{"format":"inference.v1"}`,
		"checkpoint/checkpoint.json":           `{}`,
	} {
		zf, err := w.Create(name)
		require.NoError(t, err)
		_, err = zf.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

func seedModel(t *testing.T, svc *Service, brainID, sessionID, modelID string) {
	t.Helper()
	require.NoError(t, svc.store.Write(&models.Model{
		ProjectID: "p0", BrainID: brainID, SessionID: sessionID, ModelID: modelID,
		AssignmentID:        "a0",
		ModelPath:           "/unused",
		CompressedModelPath: writeModelZip(t),
	}))
}

func TestGetModelByID(t *testing.T) {
	svc, _ := newTestService(t)
	brain := createTestBrain(t, svc)
	session := createTestSession(t, svc, brain.BrainID)
	seedModel(t, svc, brain.BrainID, session.SessionID, "m0")

	resp, err := svc.GetModel(authedContext(), &GetModelRequest{
		ProjectID: "p0", BrainID: brain.BrainID, ModelID: "m0",
	})
	require.NoError(t, err)
	assert.Equal(t, "m0", resp.ModelID)
	// Only files under saved_model/, keyed relative to it.
	assert.Contains(t, resp.Files, "model.json")
	assert.Contains(t, resp.Files, "weights.json")
	assert.Contains(t, resp.Files, "inference/inference.json")
	assert.NotContains(t, resp.Files, "checkpoint/checkpoint.json")
	assert.Equal(t, []byte(`{"format":"saved_model.v1"}`), resp.Files["model.json"])
}

func TestGetModelBySnapshot(t *testing.T) {
	svc, _ := newTestService(t)
	brain := createTestBrain(t, svc)
	session := createTestSession(t, svc, brain.BrainID)
	seedModel(t, svc, brain.BrainID, session.SessionID, "m0")
	require.NoError(t, svc.store.Write(&models.Snapshot{
		ProjectID: "p0", BrainID: brain.BrainID, SnapshotID: "sn0",
		SessionID: session.SessionID, ModelID: "m0",
	}))

	resp, err := svc.GetModel(authedContext(), &GetModelRequest{
		ProjectID: "p0", BrainID: brain.BrainID, SnapshotID: "sn0",
	})
	require.NoError(t, err)
	assert.Equal(t, "m0", resp.ModelID)
	assert.Contains(t, resp.Files, "model.json")
}

func TestGetModelRejectsBothIDs(t *testing.T) {
	svc, _ := newTestService(t)
	brain := createTestBrain(t, svc)
	_, err := svc.GetModel(authedContext(), &GetModelRequest{
		ProjectID: "p0", BrainID: brain.BrainID, ModelID: "m0", SnapshotID: "sn0",
	})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestGetModelRequiresOneID(t *testing.T) {
	svc, _ := newTestService(t)
	brain := createTestBrain(t, svc)
	_, err := svc.GetModel(authedContext(), &GetModelRequest{
		ProjectID: "p0", BrainID: brain.BrainID,
	})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestGetModelUnknown(t *testing.T) {
	svc, _ := newTestService(t)
	brain := createTestBrain(t, svc)
	_, err := svc.GetModel(authedContext(), &GetModelRequest{
		ProjectID: "p0", BrainID: brain.BrainID, ModelID: "ghost",
	})
	require.Error(t, err)
}
