package telemetry

import (
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/arcadia-ml/mimic/pkg/models"
)

// Event names a timed phase of the training pipeline.
type Event string

// Repeated events accumulate mean and deviation; single events keep the
// last recorded duration.
const (
	EventFetchChunk       Event = "fetch_chunk"
	EventTrainStep        Event = "train_step"
	EventEval             Event = "eval"
	EventExportModel      Event = "export_model"
	EventConvertInference Event = "convert_inference"
	EventSaveModelTmp     Event = "save_model_tmp"
	EventSaveModel        Event = "save_model"
	EventRecordModel      Event = "record_model"
	EventRecordEval       Event = "record_eval"
)

var repeatedEvents = map[Event]bool{
	EventFetchChunk: true,
	EventTrainStep:  true,
	EventEval:       true,
}

var singleEvents = map[Event]bool{
	EventExportModel:      true,
	EventConvertInference: true,
	EventSaveModelTmp:     true,
	EventSaveModel:        true,
	EventRecordModel:      true,
	EventRecordEval:       true,
}

// StatsCollector aggregates per-assignment latency samples and training
// counters attached to each published model.
type StatsCollector struct {
	ProjectID    string
	BrainID      string
	SessionID    string
	AssignmentID string

	mu        sync.Mutex
	durations map[Event][]float64

	TrainingSteps       int64
	BatchSize           int
	DemonstrationFrames int64
	EvaluationFrames    int64
}

// NewStatsCollector creates a collector scoped to one assignment.
func NewStatsCollector(project, brain, session, assignment string) *StatsCollector {
	return &StatsCollector{
		ProjectID:    project,
		BrainID:      brain,
		SessionID:    session,
		AssignmentID: assignment,
		durations:    make(map[Event][]float64),
	}
}

// RecordEvent starts timing an event and returns the function that stops
// the timer:
//
//	defer stats.RecordEvent(telemetry.EventTrainStep)()
//
// Unknown events panic: the event set is closed and a typo would silently
// drop samples.
func (s *StatsCollector) RecordEvent(e Event) func() {
	if !repeatedEvents[e] && !singleEvents[e] {
		panic(fmt.Sprintf("unknown stats event %q", e))
	}
	start := time.Now()
	return func() {
		elapsed := time.Since(start).Seconds()
		s.mu.Lock()
		defer s.mu.Unlock()
		if singleEvents[e] {
			s.durations[e] = []float64{elapsed}
			return
		}
		s.durations[e] = append(s.durations[e], elapsed)
	}
}

// Clone returns an independent copy, used to freeze stats into an export
// task while the training loop keeps recording.
func (s *StatsCollector) Clone() *StatsCollector {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := NewStatsCollector(s.ProjectID, s.BrainID, s.SessionID, s.AssignmentID)
	c.TrainingSteps = s.TrainingSteps
	c.BatchSize = s.BatchSize
	c.DemonstrationFrames = s.DemonstrationFrames
	c.EvaluationFrames = s.EvaluationFrames
	for e, d := range s.durations {
		c.durations[e] = append([]float64(nil), d...)
	}
	return c
}

func (s *StatsCollector) meanDev(e Event) (float64, float64) {
	d := s.durations[e]
	if len(d) == 0 {
		return 0, 0
	}
	mean := stat.Mean(d, nil)
	if len(d) < 2 {
		return mean, 0
	}
	return mean, stat.StdDev(d, nil)
}

func (s *StatsCollector) last(e Event) float64 {
	d := s.durations[e]
	if len(d) == 0 {
		return 0
	}
	return d[len(d)-1]
}

// LatencyStats renders the collected samples into the record attached to a
// model.
func (s *StatsCollector) LatencyStats() *models.LatencyStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := &models.LatencyStats{
		TrainingSteps:       s.TrainingSteps,
		BatchSize:           s.BatchSize,
		DemonstrationFrames: s.DemonstrationFrames,
		EvaluationFrames:    s.EvaluationFrames,
		ExportModelSeconds:  s.last(EventExportModel),
		ConvertModelSeconds: s.last(EventConvertInference),
		SaveModelTmpSeconds: s.last(EventSaveModelTmp),
		SaveModelSeconds:    s.last(EventSaveModel),
		RecordModelSeconds:  s.last(EventRecordModel),
		RecordEvalSeconds:   s.last(EventRecordEval),
	}
	out.FetchChunkMean, out.FetchChunkDeviation = s.meanDev(EventFetchChunk)
	out.TrainStepMean, out.TrainStepDeviation = s.meanDev(EventTrainStep)
	out.EvalMean, out.EvalDeviation = s.meanDev(EventEval)
	return out
}
