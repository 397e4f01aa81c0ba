package learner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/arcadia-ml/mimic/pkg/models"
	"github.com/arcadia-ml/mimic/pkg/resourceid"
	"github.com/arcadia-ml/mimic/pkg/telemetry"
)

// State enumerates the processor's phases.
type State string

const (
	StateIdle       State = "IDLE"
	StateTraining   State = "TRAINING"
	StateEvaluating State = "EVALUATING"
	StatePublishing State = "PUBLISHING"
	StateTerminated State = "TERMINATED"
)

// Stop reasons returned by Run.
const (
	ReasonBudgetExhausted   = "training example budget exhausted"
	ReasonSessionStopped    = "session stopped"
	ReasonExternalStop      = "stop requested"
	ReasonContextCancelled  = "context cancelled"
	ReasonTooManyExportFail = "too many consecutive export failures"
)

// How many train steps between session-stop checks, and how long to sleep
// when the demonstration buffer is empty.
const (
	stopCheckInterval = 64
	idleWait          = 500 * time.Millisecond
)

// maxConsecutiveExportFailures terminates the assignment when exceeded.
const maxConsecutiveExportFailures = 3

// Processor runs the training loop for one acquired assignment: feed
// demonstrations, step the trainer, evaluate on the versioned eval set,
// and publish improving models through the exporter.
type Processor struct {
	storage    *Storage
	dirs       Dirs
	cache      *BrainCache
	factory    TrainerFactory
	assignment *models.Assignment
	brainSpec  models.BrainSpec
	metrics    *telemetry.Metrics
	stats      *telemetry.StatsCollector

	chunkCh chan []resourceid.ID
	stop    atomic.Bool
	state   atomic.Value // State

	log *slog.Logger
}

// NewProcessor creates a processor for one assignment. The brain spec is
// read once up front; it is immutable.
func NewProcessor(storage *Storage, dirs Dirs, cache *BrainCache, factory TrainerFactory,
	assignment *models.Assignment, metrics *telemetry.Metrics) (*Processor, error) {
	spec, err := storage.BrainSpec(assignment.ProjectID, assignment.BrainID)
	if err != nil {
		return nil, fmt.Errorf("reading brain spec: %w", err)
	}
	p := &Processor{
		storage:    storage,
		dirs:       dirs,
		cache:      cache,
		factory:    factory,
		assignment: assignment,
		brainSpec:  spec,
		metrics:    metrics,
		stats: telemetry.NewStatsCollector(assignment.ProjectID, assignment.BrainID,
			assignment.SessionID, assignment.AssignmentID),
		chunkCh: make(chan []resourceid.ID, 64),
		log: slog.With("session_id", assignment.SessionID,
			"assignment_id", Sanitize(assignment.AssignmentID)),
	}
	p.state.Store(StateIdle)
	return p, nil
}

// State returns the processor's current phase.
func (p *Processor) State() State { return p.state.Load().(State) }

// Stop requests termination; the loop notices between steps and phases.
func (p *Processor) Stop() { p.stop.Store(true) }

// EnqueueChunks hands newly observed chunk ids to the loop. Non-blocking:
// when the queue is full the ids are dropped and picked up by the next
// full listing, which keeps the monitor callback from stalling ingestion.
func (p *Processor) EnqueueChunks(ids []resourceid.ID) {
	select {
	case p.chunkCh <- ids:
	default:
		p.log.Warn("Chunk queue full, dropping notification batch", "chunks", len(ids))
	}
}

// Run executes the training loop until a stop condition is reached and
// returns the stop reason. An in-flight export is always allowed to
// finish.
func (p *Processor) Run(ctx context.Context) (string, error) {
	defer p.state.Store(StateTerminated)

	checkpointPath, err := p.dirs.CreateCheckpointsPath(p.assignment)
	if err != nil {
		return "", err
	}
	summaryPath, err := p.dirs.CreateSummaryPath(p.assignment)
	if err != nil {
		return "", err
	}
	trainer, hparams, err := p.cache.GetOrCreate(p.brainSpec, p.assignment.Hyperparameters,
		checkpointPath, summaryPath)
	if err != nil {
		return "", fmt.Errorf("obtaining trainer: %w", err)
	}
	p.stats.BatchSize = hparams.BatchSize

	// Replay everything already persisted before consuming notifications.
	existing, err := p.storage.ListChunkIDs(p.assignment.ProjectID, p.assignment.BrainID,
		p.assignment.SessionID)
	if err != nil {
		return "", fmt.Errorf("listing existing chunks: %w", err)
	}
	if err := p.feedChunks(trainer, existing); err != nil {
		return "", err
	}
	p.log.Info("Replayed existing chunks", "chunks", len(existing))

	manager := NewModelManager()
	exporter := NewExporter(p.assignment, p.brainSpec, p.storage, p.dirs, p.factory, p.metrics)
	exporter.Start()
	stopExporter := func() error {
		p.state.Store(StatePublishing)
		return exporter.Stop()
	}

	var batches int64
	exportFailures := 0
	for {
		if reason := p.checkStop(ctx, batches); reason != "" {
			if err := stopExporter(); err != nil {
				p.log.Error("Exporter reported failure during drain", "error", err)
			}
			return reason, nil
		}

		if err := p.drainChunks(trainer); err != nil {
			stopExporter()
			return "", err
		}

		p.state.Store(StateTraining)
		stopTimer := p.stats.RecordEvent(telemetry.EventTrainStep)
		examples, demoMicros, err := trainer.TrainStep()
		stopTimer()
		if errors.Is(err, ErrEmptyBuffer) {
			if !p.waitForChunks(ctx) {
				continue // Re-run stop checks.
			}
			continue
		}
		if err != nil {
			stopExporter()
			return "", fmt.Errorf("train step: %w", err)
		}
		batches++
		p.stats.TrainingSteps = batches
		if p.metrics != nil {
			p.metrics.TrainingSteps.Inc()
		}

		if examples >= hparams.MaxTrainingExamples {
			if err := stopExporter(); err != nil {
				p.log.Error("Exporter reported failure during drain", "error", err)
			}
			return ReasonBudgetExhausted, nil
		}

		if batches%int64(hparams.SaveIntervalBatches) != 0 {
			continue
		}

		// Evaluate on every eval version and record the model.
		p.state.Store(StateEvaluating)
		evalStore := trainer.EvalDatastore()
		evalStore.CreateVersion()
		fullEval, err := p.fullEvaluation(trainer, evalStore)
		if err != nil {
			stopExporter()
			return "", err
		}
		p.stats.EvaluationFrames = int64(evalStore.EvalFrames())

		modelID := uuid.NewString()
		if err := manager.RecordNewModel(modelID, fullEval); err != nil {
			stopExporter()
			return "", err
		}

		if manager.BestModelID() == modelID {
			p.state.Store(StatePublishing)
			if err := p.exportBest(trainer, exporter, modelID, fullEval, examples,
				demoMicros, hparams); err != nil {
				exportFailures++
				p.log.Error("Export failed", "model_id", modelID,
					"consecutive_failures", exportFailures, "error", err)
				if exportFailures > maxConsecutiveExportFailures {
					stopExporter()
					return ReasonTooManyExportFail, nil
				}
			} else {
				exportFailures = 0
			}
		}

		if reason := manager.ShouldStop(); reason != "" {
			if err := stopExporter(); err != nil {
				p.log.Error("Exporter reported failure during drain", "error", err)
			}
			return reason, nil
		}
	}
}

// checkStop evaluates the cheap stop conditions, polling the session record
// at a bounded rate.
func (p *Processor) checkStop(ctx context.Context, batches int64) string {
	if p.stop.Load() {
		return ReasonExternalStop
	}
	if ctx.Err() != nil {
		return ReasonContextCancelled
	}
	if batches%stopCheckInterval == 0 {
		stopped, err := p.storage.SessionStopped(p.assignment.ProjectID,
			p.assignment.BrainID, p.assignment.SessionID)
		if err != nil {
			p.log.Warn("Failed to read session state", "error", err)
			return ""
		}
		if stopped {
			return ReasonSessionStopped
		}
	}
	return ""
}

// drainChunks feeds every queued notification batch without blocking.
func (p *Processor) drainChunks(trainer Trainer) error {
	for {
		select {
		case ids := <-p.chunkCh:
			if err := p.feedChunks(trainer, ids); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// waitForChunks blocks until data arrives, the context ends or the idle
// wait elapses. It returns true when chunks were consumed.
func (p *Processor) waitForChunks(ctx context.Context) bool {
	select {
	case ids := <-p.chunkCh:
		// Push back for drainChunks so feeding stays on one code path.
		p.EnqueueChunks(ids)
		return true
	case <-ctx.Done():
		return false
	case <-time.After(idleWait):
		return false
	}
}

func (p *Processor) feedChunks(trainer Trainer, ids []resourceid.ID) error {
	for _, id := range ids {
		stopTimer := p.stats.RecordEvent(telemetry.EventFetchChunk)
		chunk, err := p.storage.ReadChunk(id)
		stopTimer()
		if err != nil {
			return fmt.Errorf("reading chunk %s: %w", id, err)
		}
		if err := trainer.AddDemonstration(chunk); err != nil {
			return fmt.Errorf("feeding chunk %s: %w", id, err)
		}
		p.stats.DemonstrationFrames += int64(len(chunk.Steps))
	}
	return nil
}

// fullEvaluation scores the current policy on every eval version, oldest
// first.
func (p *Processor) fullEvaluation(trainer Trainer, evalStore *EvalDatastore) ([]EvalScore, error) {
	var out []EvalScore
	for _, v := range evalStore.Versions() {
		batch, err := evalStore.GetVersion(v)
		if err != nil {
			return nil, err
		}
		stopTimer := p.stats.RecordEvent(telemetry.EventEval)
		score, err := trainer.EvaluateOffline(batch)
		stopTimer()
		if err != nil {
			return nil, fmt.Errorf("evaluating version %d: %w", v, err)
		}
		out = append(out, EvalScore{Version: v, Score: score})
	}
	return out, nil
}

func (p *Processor) exportBest(trainer Trainer, exporter *Exporter, modelID string,
	fullEval []EvalScore, examples, demoMicros int64, hparams models.Hyperparameters) error {
	tmpCheckpoint, err := p.dirs.CreateTmpCheckpointPath(p.assignment, modelID)
	if err != nil {
		return err
	}
	stopTimer := p.stats.RecordEvent(telemetry.EventSaveModelTmp)
	err = trainer.SaveCheckpoint(tmpCheckpoint)
	stopTimer()
	if err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	return exporter.ExportModel(&ExportTask{
		CheckpointPath:            tmpCheckpoint,
		EvalList:                  append([]EvalScore(nil), fullEval...),
		Stats:                     p.stats.Clone(),
		ModelID:                   modelID,
		TrainingExamplesCompleted: examples,
		MaxTrainingExamples:       hparams.MaxTrainingExamples,
		MostRecentDemoTimeMicros:  demoMicros,
	})
}
