// Package learner contains the training-side components: the worker driver,
// the per-assignment processor, the trainer cache, the model exporter and
// the reference trainer.
package learner

import (
	"github.com/arcadia-ml/mimic/pkg/models"
	"github.com/arcadia-ml/mimic/pkg/specs"
)

// Frame is one step converted to tensors: observation leaves and action
// leaves in spec order, plus the ingestion timestamp of the chunk it came
// from.
type Frame struct {
	Observations []specs.Tensor
	Actions      []specs.Tensor
	TimeMicros   int64
}

// Trainer is the opaque learning collaborator. Any policy/optimizer
// implementation can plug in behind it; the service only drives the
// lifecycle.
type Trainer interface {
	// AddDemonstration appends a chunk's frames to the internal buffers,
	// routing the deterministic eval split into the eval datastore.
	AddDemonstration(chunk *models.EpisodeChunk) error

	// TrainStep runs one optimizer step and returns the cumulative count of
	// training examples consumed and the ingestion time of the most recent
	// demonstration trained on.
	TrainStep() (trainingExamplesCompleted int64, mostRecentDemoTimeMicros int64, err error)

	// EvaluateOffline scores the trainer's current policy on an eval batch.
	// Lower is better.
	EvaluateOffline(batch []Frame) (float64, error)

	// EvalDatastore exposes the versioned held-out frames accumulated by
	// AddDemonstration.
	EvalDatastore() *EvalDatastore

	// SaveCheckpoint persists the trainable state into dir.
	SaveCheckpoint(dir string) error

	// ExportSavedModel writes a loadable model bundle to path.
	ExportSavedModel(path string) error

	// ConvertForInference converts a saved-model bundle into the mobile
	// inference format, preserving the declared tensor names.
	ConvertForInference(inPath, outPath string) error

	// ReinitializeAgent resets the trainable weights.
	ReinitializeAgent() error

	// ClearStepBuffers drops buffered demonstration and eval frames.
	ClearStepBuffers()

	// SetPaths rebinds the checkpoint and summary directories, used when a
	// cached trainer is reused for a new assignment.
	SetPaths(checkpointPath, summaryPath string)

	// Hyperparameters returns the effective, post-validation set.
	Hyperparameters() models.Hyperparameters
}

// TrainerFactory creates a trainer for a brain spec and hyperparameter set.
// When compileGraph is false the trainer only needs to support export paths
// (checkpoint rehydration without building the training graph).
type TrainerFactory func(spec models.BrainSpec, hparams models.Hyperparameters,
	checkpointPath, summaryPath string, compileGraph bool) (Trainer, error)
