package learner

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/arcadia-ml/mimic/pkg/models"
	"github.com/arcadia-ml/mimic/pkg/telemetry"
)

// ErrInactiveExporter is returned when ExportModel is called after the
// exporter stopped.
var ErrInactiveExporter = errors.New("exporter is not running")

// ExportTask carries everything needed to publish one trained model out of
// band.
type ExportTask struct {
	CheckpointPath            string
	EvalList                  []EvalScore
	Stats                     *telemetry.StatsCollector
	ModelID                   string
	EpisodeID                 string
	ChunkID                   int
	TrainingExamplesCompleted int64
	MaxTrainingExamples       int64
	MostRecentDemoTimeMicros  int64
}

// Exporter serializes, converts, publishes and records trained models on a
// single background writer. Errors from the writer surface to the producer
// on its next ExportModel or Stop call; a failed task never kills the
// worker.
type Exporter struct {
	assignment *models.Assignment
	brainSpec  models.BrainSpec
	hparams    models.Hyperparameters
	storage    *Storage
	dirs       Dirs
	factory    TrainerFactory
	metrics    *telemetry.Metrics

	synchronous bool
	tasks       chan *ExportTask
	errs        chan error
	done        chan struct{}
	wg          sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewExporter creates an exporter for one assignment.
func NewExporter(assignment *models.Assignment, brainSpec models.BrainSpec,
	storage *Storage, dirs Dirs, factory TrainerFactory, metrics *telemetry.Metrics) *Exporter {
	return &Exporter{
		assignment:  assignment,
		brainSpec:   brainSpec,
		hparams:     assignment.Hyperparameters,
		storage:     storage,
		dirs:        dirs,
		factory:     factory,
		metrics:     metrics,
		synchronous: assignment.Hyperparameters.SynchronousExport,
		tasks:       make(chan *ExportTask, 16),
		errs:        make(chan error, 16),
		done:        make(chan struct{}),
	}
}

// Start launches the background writer.
func (e *Exporter) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.wg.Add(1)
	go e.run()
}

// Stop drains queued tasks, stops the writer and returns the first pending
// error, if any.
func (e *Exporter) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return e.pendingError()
	}
	e.running = false
	e.mu.Unlock()

	close(e.done)
	e.wg.Wait()
	return e.pendingError()
}

// ExportModel publishes a model, synchronously when the assignment's
// hyperparameters demand it, otherwise on the background writer. It returns
// any error the writer produced since the previous call.
func (e *Exporter) ExportModel(task *ExportTask) error {
	if task.CheckpointPath == "" {
		return errors.New("checkpoint path is empty")
	}
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if !running {
		return ErrInactiveExporter
	}
	if e.synchronous {
		if err := e.export(task); err != nil {
			return err
		}
		return e.pendingError()
	}
	select {
	case e.tasks <- task:
	case <-e.done:
		return ErrInactiveExporter
	}
	return e.pendingError()
}

func (e *Exporter) pendingError() error {
	select {
	case err := <-e.errs:
		return err
	default:
		return nil
	}
}

func (e *Exporter) run() {
	defer e.wg.Done()
	for {
		select {
		case task := <-e.tasks:
			if err := e.export(task); err != nil {
				slog.Error("Model export failed",
					"model_id", task.ModelID, "error", err)
				select {
				case e.errs <- err:
				default: // Oldest error wins; drop the rest.
				}
			}
		case <-e.done:
			// Drain whatever is still queued before exiting.
			for {
				select {
				case task := <-e.tasks:
					if err := e.export(task); err != nil {
						slog.Error("Model export failed during drain",
							"model_id", task.ModelID, "error", err)
						select {
						case e.errs <- err:
						default:
						}
					}
				default:
					return
				}
			}
		}
	}
}

// export runs the publish pipeline for one task: export a saved-model
// bundle next to the checkpoint, convert it for inference, copy and
// compress into permanent storage, then record the model and its
// evaluations.
func (e *Exporter) export(task *ExportTask) error {
	slog.Info("Exporting model",
		"model_id", task.ModelID, "checkpoint_path", task.CheckpointPath)

	info, err := os.Stat(task.CheckpointPath)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("no checkpoint directory at %s", task.CheckpointPath)
	}
	tmpModelPath, err := e.dirs.TmpModelPathFromCheckpoint(task.CheckpointPath)
	if err != nil {
		return err
	}

	// Rehydrate a trainer from spec + checkpoint without compiling the
	// training graph.
	trainer, err := e.factory(e.brainSpec, e.hparams, task.CheckpointPath, "", false)
	if err != nil {
		return fmt.Errorf("rehydrating trainer: %w", err)
	}

	stop := task.Stats.RecordEvent(telemetry.EventExportModel)
	err = trainer.ExportSavedModel(tmpModelPath)
	stop()
	if err != nil {
		return fmt.Errorf("exporting saved model: %w", err)
	}

	stop = task.Stats.RecordEvent(telemetry.EventConvertInference)
	err = trainer.ConvertForInference(tmpModelPath, filepath.Join(tmpModelPath, "inference"))
	stop()
	if err != nil {
		return fmt.Errorf("converting for inference: %w", err)
	}

	tmpParent := filepath.Dir(tmpModelPath)
	stop = task.Stats.RecordEvent(telemetry.EventSaveModel)
	publishPath, err := e.dirs.CopyToModelDir(tmpParent)
	if err != nil {
		stop()
		return fmt.Errorf("publishing model: %w", err)
	}
	zipPath, err := e.dirs.CompressModelDir(tmpParent)
	stop()
	if err != nil {
		return fmt.Errorf("compressing model: %w", err)
	}
	if err := e.dirs.WipeTmpModelDir(tmpParent); err != nil {
		slog.Warn("Failed to remove tmp model directory",
			"model_path", tmpParent, "error", err)
	}

	stop = task.Stats.RecordEvent(telemetry.EventRecordModel)
	err = e.storage.RecordModel(&models.Model{
		ProjectID:                 e.assignment.ProjectID,
		BrainID:                   e.assignment.BrainID,
		SessionID:                 e.assignment.SessionID,
		ModelID:                   task.ModelID,
		AssignmentID:              e.assignment.AssignmentID,
		EpisodeID:                 task.EpisodeID,
		ChunkID:                   task.ChunkID,
		TrainingExamplesCompleted: task.TrainingExamplesCompleted,
		MaxTrainingExamples:       task.MaxTrainingExamples,
		MostRecentDemoTimeMicros:  task.MostRecentDemoTimeMicros,
		ModelPath:                 publishPath,
		CompressedModelPath:       zipPath,
		LatencyStats:              task.Stats.LatencyStats(),
	})
	stop()
	if err != nil {
		return fmt.Errorf("recording model: %w", err)
	}

	stop = task.Stats.RecordEvent(telemetry.EventRecordEval)
	err = e.storage.RecordOfflineEvaluations(e.assignment, task.ModelID, task.EvalList)
	stop()
	if err != nil {
		return err
	}

	if e.metrics != nil {
		e.metrics.ModelsPublished.Inc()
	}
	slog.Info("Model published",
		"model_id", task.ModelID, "model_path", publishPath)
	return nil
}
