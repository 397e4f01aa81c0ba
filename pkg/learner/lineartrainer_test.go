package learner

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcadia-ml/mimic/pkg/models"
)

func noEvalHyperparameters() models.Hyperparameters {
	h := testHyperparameters()
	h.EvalFraction = 0
	return h
}

func TestLinearTrainerLearns(t *testing.T) {
	trainer, err := NewLinearTrainer(testBrainSpec(), noEvalHyperparameters(), "", "", true)
	require.NoError(t, err)
	require.NoError(t, trainer.AddDemonstration(testChunk("e0", 0, 32, models.EpisodeInProgress)))

	// Build an eval batch from a second demonstration of the same policy.
	eval := NewEvalDatastore()
	batchSource := testChunk("e1", 0, 16, models.EpisodeInProgress)
	evalFrames, err := chunkFrames(t, batchSource)
	require.NoError(t, err)
	require.NoError(t, eval.AddTrajectory(evalFrames))
	v, ok := eval.CreateVersion()
	require.True(t, ok)
	batch, err := eval.GetVersion(v)
	require.NoError(t, err)

	before, err := trainer.EvaluateOffline(batch)
	require.NoError(t, err)

	var examples int64
	for i := 0; i < 200; i++ {
		examples, _, err = trainer.TrainStep()
		require.NoError(t, err)
	}
	assert.Greater(t, examples, int64(0))

	after, err := trainer.EvaluateOffline(batch)
	require.NoError(t, err)
	assert.Less(t, after, before, "training must reduce the offline score")
}

// chunkFrames converts a chunk through a throwaway trainer that keeps every
// frame in its demonstration buffer.
func chunkFrames(t *testing.T, chunk *models.EpisodeChunk) ([]Frame, error) {
	t.Helper()
	tr, err := NewLinearTrainer(testBrainSpec(), noEvalHyperparameters(), "", "", true)
	if err != nil {
		return nil, err
	}
	if err := tr.AddDemonstration(chunk); err != nil {
		return nil, err
	}
	return tr.(*linearTrainer).replay.Gather()
}

func TestTrainStepCountsExamples(t *testing.T) {
	hp := noEvalHyperparameters()
	trainer, err := NewLinearTrainer(testBrainSpec(), hp, "", "", true)
	require.NoError(t, err)
	require.NoError(t, trainer.AddDemonstration(testChunk("e0", 0, 8, models.EpisodeInProgress)))

	examples, demoMicros, err := trainer.TrainStep()
	require.NoError(t, err)
	assert.Equal(t, int64(hp.BatchSize), examples)
	assert.Equal(t, int64(1000), demoMicros)

	examples, _, err = trainer.TrainStep()
	require.NoError(t, err)
	assert.Equal(t, int64(2*hp.BatchSize), examples)
}

func TestTrainStepEmptyBuffer(t *testing.T) {
	trainer, err := NewLinearTrainer(testBrainSpec(), noEvalHyperparameters(), "", "", true)
	require.NoError(t, err)
	_, _, err = trainer.TrainStep()
	assert.ErrorIs(t, err, ErrEmptyBuffer)
}

func TestAddDemonstrationValidates(t *testing.T) {
	trainer, err := NewLinearTrainer(testBrainSpec(), noEvalHyperparameters(), "", "", true)
	require.NoError(t, err)

	chunk := testChunk("e0", 0, 1, models.EpisodeInProgress)
	chunk.Steps[0].Action.Actions[0].Number.Value = 7 // outside [-1, 1]
	assert.Error(t, trainer.AddDemonstration(chunk))
}

func TestEvalSplitIsDeterministic(t *testing.T) {
	hp := testHyperparameters()
	hp.EvalFraction = 0.5
	t1, err := NewLinearTrainer(testBrainSpec(), hp, "", "", true)
	require.NoError(t, err)
	t2, err := NewLinearTrainer(testBrainSpec(), hp, "", "", true)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		chunk := testChunk("e0", i, 2, models.EpisodeInProgress)
		require.NoError(t, t1.AddDemonstration(chunk))
		require.NoError(t, t2.AddDemonstration(chunk))
	}
	t1.EvalDatastore().CreateVersion()
	t2.EvalDatastore().CreateVersion()
	assert.Equal(t, t1.EvalDatastore().EvalFrames(), t2.EvalDatastore().EvalFrames())
	assert.Greater(t, t1.EvalDatastore().EvalFrames(), 0,
		"a 50%% split over 20 chunks must land some eval frames")
}

func TestCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	trainer, err := NewLinearTrainer(testBrainSpec(), noEvalHyperparameters(), "", "", true)
	require.NoError(t, err)
	require.NoError(t, trainer.AddDemonstration(testChunk("e0", 0, 16, models.EpisodeInProgress)))
	for i := 0; i < 20; i++ {
		_, _, err = trainer.TrainStep()
		require.NoError(t, err)
	}
	require.NoError(t, trainer.SaveCheckpoint(dir))

	restored, err := NewLinearTrainer(testBrainSpec(), noEvalHyperparameters(), dir, "", false)
	require.NoError(t, err)

	batch, err := chunkFrames(t, testChunk("e1", 0, 8, models.EpisodeInProgress))
	require.NoError(t, err)
	orig, err := trainer.EvaluateOffline(batch)
	require.NoError(t, err)
	loaded, err := restored.EvaluateOffline(batch)
	require.NoError(t, err)
	assert.InDelta(t, orig, loaded, 1e-12, "restored weights must score identically")
}

func TestExportAndConvert(t *testing.T) {
	trainer, err := NewLinearTrainer(testBrainSpec(), noEvalHyperparameters(), "", "", true)
	require.NoError(t, err)

	saved := filepath.Join(t.TempDir(), "saved_model")
	require.NoError(t, trainer.ExportSavedModel(saved))
	assert.FileExists(t, filepath.Join(saved, "model.json"))
	assert.FileExists(t, filepath.Join(saved, "weights.json"))

	inference := filepath.Join(saved, "inference")
	require.NoError(t, trainer.ConvertForInference(saved, inference))

	data, err := os.ReadFile(filepath.Join(inference, "inference.json"))
	require.NoError(t, err)
	var bundle struct {
		Inputs  []struct{ Name string }
		Outputs []struct{ Name string }
	}
	require.NoError(t, json.Unmarshal(data, &bundle))
	require.Len(t, bundle.Inputs, 1)
	require.Len(t, bundle.Outputs, 1)
	// Tensor names survive conversion.
	assert.Equal(t, "position", bundle.Inputs[0].Name)
	assert.Equal(t, "a", bundle.Outputs[0].Name)
}

func TestReinitializeAgentResets(t *testing.T) {
	trainer, err := NewLinearTrainer(testBrainSpec(), noEvalHyperparameters(), "", "", true)
	require.NoError(t, err)
	require.NoError(t, trainer.AddDemonstration(testChunk("e0", 0, 8, models.EpisodeInProgress)))
	_, _, err = trainer.TrainStep()
	require.NoError(t, err)

	require.NoError(t, trainer.ReinitializeAgent())
	examples, demo, err := trainer.TrainStep()
	require.NoError(t, err)
	assert.Equal(t, int64(noEvalHyperparameters().BatchSize), examples,
		"example counter restarts after reinitialization")
	assert.NotZero(t, demo)
}
