// Package models defines the persistent record types and the brain
// observation/action schema shared by the API server and the learner.
package models

import (
	"github.com/arcadia-ml/mimic/pkg/resourceid"
)

// SessionType enumerates the kinds of sessions clients can open.
type SessionType string

const (
	SessionInteractiveTraining SessionType = "INTERACTIVE_TRAINING"
	SessionInference           SessionType = "INFERENCE"
	SessionEvaluation          SessionType = "EVALUATION"
)

// EpisodeState enumerates episode terminal states. IN_PROGRESS is the only
// non-terminal state.
type EpisodeState string

const (
	EpisodeInProgress EpisodeState = "IN_PROGRESS"
	EpisodeSuccess    EpisodeState = "SUCCESS"
	EpisodeFailure    EpisodeState = "FAILURE"
	EpisodeGaveUp     EpisodeState = "GAVE_UP"
)

// Terminal reports whether the state closes an episode.
func (s EpisodeState) Terminal() bool {
	return s == EpisodeSuccess || s == EpisodeFailure || s == EpisodeGaveUp
}

// StepPhase enumerates the phase markers clients attach to steps.
type StepPhase string

const (
	PhaseUnspecified StepPhase = "UNSPECIFIED"
	PhaseStart       StepPhase = "START"
	PhaseOngoing     StepPhase = "ONGOING"
	PhaseEnd         StepPhase = "END"
)

// Resource is implemented by every persistent record type.
type Resource interface {
	// ResourceID derives the record's path from its embedded ids.
	ResourceID() (resourceid.ID, error)
	// Created returns the creation timestamp in UTC microseconds, 0 when
	// the record has not been persisted yet.
	Created() int64
	// SetCreated stamps the creation timestamp. The store calls this once,
	// on first write.
	SetCreated(micros int64)
}

// Project is the root resource; it is created on first use and owns brains.
type Project struct {
	ProjectID     string `json:"project_id"`
	DisplayName   string `json:"display_name"`
	APIKey        string `json:"api_key"`
	CreatedMicros int64  `json:"created_micros"`
}

func (p *Project) ResourceID() (resourceid.ID, error) {
	return resourceid.ForProject(p.ProjectID)
}
func (p *Project) Created() int64          { return p.CreatedMicros }
func (p *Project) SetCreated(micros int64) { p.CreatedMicros = micros }

// Brain owns sessions and snapshots. Immutable after creation.
type Brain struct {
	ProjectID     string    `json:"project_id"`
	BrainID       string    `json:"brain_id"`
	DisplayName   string    `json:"display_name"`
	BrainSpec     BrainSpec `json:"brain_spec"`
	CreatedMicros int64     `json:"created_micros"`
}

func (b *Brain) ResourceID() (resourceid.ID, error) {
	return resourceid.ForBrain(b.ProjectID, b.BrainID)
}
func (b *Brain) Created() int64          { return b.CreatedMicros }
func (b *Brain) SetCreated(micros int64) { b.CreatedMicros = micros }

// Session is a recording/training boundary owning episodes, assignments,
// models and evaluations. It reaches its terminal state on explicit Stop.
type Session struct {
	ProjectID           string      `json:"project_id"`
	BrainID             string      `json:"brain_id"`
	SessionID           string      `json:"session_id"`
	SessionType         SessionType `json:"session_type"`
	StartingSnapshotIDs []string    `json:"starting_snapshot_ids,omitempty"`
	UserAgent           string      `json:"user_agent,omitempty"`
	Stopped             bool        `json:"stopped,omitempty"`
	StoppedMicros       int64       `json:"stopped_micros,omitempty"`
	CreatedMicros       int64       `json:"created_micros"`
}

func (s *Session) ResourceID() (resourceid.ID, error) {
	return resourceid.ForSession(s.ProjectID, s.BrainID, s.SessionID)
}
func (s *Session) Created() int64          { return s.CreatedMicros }
func (s *Session) SetCreated(micros int64) { s.CreatedMicros = micros }

// EpisodeChunk is a contiguous, atomically submitted subrange of an episode.
// Chunk ids are dense integers starting at 0; a chunk with a terminal
// episode state is the last chunk of its episode.
type EpisodeChunk struct {
	ProjectID     string       `json:"project_id"`
	BrainID       string       `json:"brain_id"`
	SessionID     string       `json:"session_id"`
	EpisodeID     string       `json:"episode_id"`
	ChunkID       int          `json:"chunk_id"`
	Steps         []Step       `json:"steps,omitempty"`
	EpisodeState  EpisodeState `json:"episode_state"`
	ModelID       string       `json:"model_id,omitempty"`
	CreatedMicros int64        `json:"created_micros"`
}

func (c *EpisodeChunk) ResourceID() (resourceid.ID, error) {
	return resourceid.ForChunk(c.ProjectID, c.BrainID, c.SessionID, c.EpisodeID, c.ChunkID)
}
func (c *EpisodeChunk) Created() int64          { return c.CreatedMicros }
func (c *EpisodeChunk) SetCreated(micros int64) { c.CreatedMicros = micros }

// Step is a single (observation, action) pair with an optional reward.
type Step struct {
	Observation ObservationData `json:"observation"`
	Action      ActionData      `json:"action"`
	Reward      float64         `json:"reward,omitempty"`
	Phase       StepPhase       `json:"phase,omitempty"`
}

// Assignment is a hyperparameter-keyed training job within a session. Its id
// is the canonical serialization of the hyperparameter set, so identical
// hyperparameters collapse onto one assignment.
type Assignment struct {
	ProjectID       string          `json:"project_id"`
	BrainID         string          `json:"brain_id"`
	SessionID       string          `json:"session_id"`
	AssignmentID    string          `json:"assignment_id"`
	Hyperparameters Hyperparameters `json:"hyperparameters"`
	CreatedMicros   int64           `json:"created_micros"`
}

func (a *Assignment) ResourceID() (resourceid.ID, error) {
	return resourceid.ForAssignment(a.ProjectID, a.BrainID, a.SessionID, a.AssignmentID)
}
func (a *Assignment) Created() int64          { return a.CreatedMicros }
func (a *Assignment) SetCreated(micros int64) { a.CreatedMicros = micros }

// Model records a published trained model. Immutable once recorded.
type Model struct {
	ProjectID                 string        `json:"project_id"`
	BrainID                   string        `json:"brain_id"`
	SessionID                 string        `json:"session_id"`
	ModelID                   string        `json:"model_id"`
	AssignmentID              string        `json:"assignment_id"`
	EpisodeID                 string        `json:"episode_id,omitempty"`
	ChunkID                   int           `json:"chunk_id,omitempty"`
	TrainingExamplesCompleted int64         `json:"training_examples_completed"`
	MaxTrainingExamples       int64         `json:"max_training_examples"`
	MostRecentDemoTimeMicros  int64         `json:"most_recent_demo_time_micros"`
	ModelPath                 string        `json:"model_path"`
	CompressedModelPath       string        `json:"compressed_model_path"`
	LatencyStats              *LatencyStats `json:"latency_stats,omitempty"`
	CreatedMicros             int64         `json:"created_micros"`
}

func (m *Model) ResourceID() (resourceid.ID, error) {
	return resourceid.ForModel(m.ProjectID, m.BrainID, m.SessionID, m.ModelID)
}
func (m *Model) Created() int64          { return m.CreatedMicros }
func (m *Model) SetCreated(micros int64) { m.CreatedMicros = micros }

// OfflineEvaluation scores a model against one eval-set version. Lower
// scores are better.
type OfflineEvaluation struct {
	ProjectID      string  `json:"project_id"`
	BrainID        string  `json:"brain_id"`
	SessionID      string  `json:"session_id"`
	EvaluationID   string  `json:"evaluation_id"`
	ModelID        string  `json:"model_id"`
	EvalSetVersion int     `json:"eval_set_version"`
	Score          float64 `json:"score"`
	CreatedMicros  int64   `json:"created_micros"`
}

func (e *OfflineEvaluation) ResourceID() (resourceid.ID, error) {
	return resourceid.ForOfflineEvaluation(e.ProjectID, e.BrainID, e.SessionID, e.EvaluationID)
}
func (e *OfflineEvaluation) Created() int64          { return e.CreatedMicros }
func (e *OfflineEvaluation) SetCreated(micros int64) { e.CreatedMicros = micros }

// OnlineEvaluation accumulates deployment feedback for a model.
type OnlineEvaluation struct {
	ProjectID     string `json:"project_id"`
	BrainID       string `json:"brain_id"`
	SessionID     string `json:"session_id"`
	ModelID       string `json:"model_id"`
	Successes     int    `json:"successes"`
	Failures      int    `json:"failures"`
	CreatedMicros int64  `json:"created_micros"`
}

func (e *OnlineEvaluation) ResourceID() (resourceid.ID, error) {
	return resourceid.ForOnlineEvaluation(e.ProjectID, e.BrainID, e.SessionID, e.ModelID)
}
func (e *OnlineEvaluation) Created() int64          { return e.CreatedMicros }
func (e *OnlineEvaluation) SetCreated(micros int64) { e.CreatedMicros = micros }

// SuccessRate returns successes/(successes+failures), 0 with no feedback.
func (e *OnlineEvaluation) SuccessRate() float64 {
	total := e.Successes + e.Failures
	if total == 0 {
		return 0
	}
	return float64(e.Successes) / float64(total)
}

// Snapshot is an immutable pointer to the canonical model for a session.
type Snapshot struct {
	ProjectID     string `json:"project_id"`
	BrainID       string `json:"brain_id"`
	SnapshotID    string `json:"snapshot_id"`
	SessionID     string `json:"session_id"`
	ModelID       string `json:"model_id"`
	CreatedMicros int64  `json:"created_micros"`
}

func (s *Snapshot) ResourceID() (resourceid.ID, error) {
	return resourceid.ForSnapshot(s.ProjectID, s.BrainID, s.SnapshotID)
}
func (s *Snapshot) Created() int64          { return s.CreatedMicros }
func (s *Snapshot) SetCreated(micros int64) { s.CreatedMicros = micros }

// LatencyStats summarizes the learner-side timings attached to a model.
type LatencyStats struct {
	FetchChunkMean        float64 `json:"fetch_chunk_mean,omitempty"`
	FetchChunkDeviation   float64 `json:"fetch_chunk_deviation,omitempty"`
	TrainStepMean         float64 `json:"train_step_mean,omitempty"`
	TrainStepDeviation    float64 `json:"train_step_deviation,omitempty"`
	EvalMean              float64 `json:"eval_mean,omitempty"`
	EvalDeviation         float64 `json:"eval_deviation,omitempty"`
	ExportModelSeconds    float64 `json:"export_model_seconds,omitempty"`
	ConvertModelSeconds   float64 `json:"convert_model_seconds,omitempty"`
	SaveModelTmpSeconds   float64 `json:"save_model_tmp_seconds,omitempty"`
	SaveModelSeconds      float64 `json:"save_model_seconds,omitempty"`
	RecordModelSeconds    float64 `json:"record_model_seconds,omitempty"`
	RecordEvalSeconds     float64 `json:"record_eval_seconds,omitempty"`
	TrainingSteps         int64   `json:"training_steps,omitempty"`
	BatchSize             int     `json:"batch_size,omitempty"`
	DemonstrationFrames   int64   `json:"demonstration_frames,omitempty"`
	EvaluationFrames      int64   `json:"evaluation_frames,omitempty"`
}
