package learner

import (
	"fmt"
	"log/slog"
)

// Stopping rules: how many models to train without an eval set, the score
// progress required to count as improvement, and how many non-improving
// models to tolerate before giving up.
const (
	noEvalModelLimit        = 10
	improvementEpsilon      = 5e-2
	noImprovementModelLimit = 3
)

// EvalScore is one (eval version, offline score) entry. Lower scores are
// better.
type EvalScore struct {
	Version int     `json:"version"`
	Score   float64 `json:"score"`
}

// ModelManager tracks the best model of one assignment and decides when
// further training stops paying for itself.
type ModelManager struct {
	bestModelID     string
	bestEvalVersion *int
	bestScore       *float64

	modelsRecorded           int
	modelsWithoutImprovement int
}

// NewModelManager creates an empty manager.
func NewModelManager() *ModelManager {
	return &ModelManager{}
}

// BestModelID returns the current best model id, "" when none recorded.
func (m *ModelManager) BestModelID() string { return m.bestModelID }

// BestEvalVersion returns the eval version of the best model, or nil when
// the best model predates any eval set.
func (m *ModelManager) BestEvalVersion() *int { return m.bestEvalVersion }

// ResetCounters clears the stopping-rule counters.
func (m *ModelManager) ResetCounters() {
	m.modelsRecorded = 0
	m.modelsWithoutImprovement = 0
}

// ShouldStop returns a human-readable stop reason, or "" to keep training.
func (m *ModelManager) ShouldStop() string {
	if m.bestEvalVersion == nil && m.modelsRecorded > noEvalModelLimit {
		return "too many models without an eval set"
	}
	if m.modelsWithoutImprovement > noImprovementModelLimit {
		return "too many models without improvement"
	}
	return ""
}

func (m *ModelManager) setBest(modelID string, version *int, score *float64) {
	// Any strict improvement, a fresh eval version, or the absence of
	// scores resets the no-improvement counter.
	if score == nil || m.bestScore == nil || *score < *m.bestScore ||
		!sameVersion(m.bestEvalVersion, version) {
		m.modelsWithoutImprovement = 0
	}
	m.bestModelID = modelID
	m.bestEvalVersion = version
	m.bestScore = score
}

func sameVersion(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// RecordNewModel records the full evaluation of a freshly trained model and
// updates the best-model tracking. The incoming model's latest eval version
// must be >= the best model's version: models arrive in training order and
// eval sets only grow.
func (m *ModelManager) RecordNewModel(modelID string, fullEval []EvalScore) error {
	m.modelsRecorded++
	if m.bestEvalVersion == nil {
		// Prefer newer models while no eval data is available.
		if len(fullEval) == 0 {
			slog.Info("No eval data, updating best model", "model_id", modelID)
			m.setBest(modelID, nil, nil)
			return nil
		}
		last := fullEval[len(fullEval)-1]
		slog.Info("First eval set, updating best model",
			"model_id", modelID, "eval_version", last.Version, "score", last.Score)
		v, s := last.Version, last.Score
		m.setBest(modelID, &v, &s)
		return nil
	}

	if len(fullEval) == 0 {
		return fmt.Errorf("model %s has no eval entries but an eval set exists", modelID)
	}
	last := fullEval[len(fullEval)-1]
	if last.Version < *m.bestEvalVersion {
		return fmt.Errorf("eval version regressed: model %s has version %d, best has %d",
			modelID, last.Version, *m.bestEvalVersion)
	}
	if last.Version > *m.bestEvalVersion {
		// Newer eval data wins unconditionally.
		slog.Info("Newer eval set available, updating best model",
			"model_id", modelID, "eval_version", last.Version, "score", last.Score)
		v, s := last.Version, last.Score
		m.setBest(modelID, &v, &s)
		return nil
	}

	slog.Info("Comparing model against best",
		"model_id", modelID, "eval_version", last.Version,
		"score", last.Score, "best_score", *m.bestScore)
	if *m.bestScore-last.Score < improvementEpsilon {
		m.modelsWithoutImprovement++
	}
	if last.Score < *m.bestScore {
		v, s := last.Version, last.Score
		m.setBest(modelID, &v, &s)
		slog.Info("Updated best model", "model_id", modelID)
	} else {
		slog.Info("No significant improvement",
			"models_without_improvement", m.modelsWithoutImprovement)
	}
	return nil
}
