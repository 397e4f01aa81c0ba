package api

import (
	"errors"
	"fmt"
	"sort"

	"github.com/arcadia-ml/mimic/pkg/api/sampling"
	"github.com/arcadia-ml/mimic/pkg/datastore"
	"github.com/arcadia-ml/mimic/pkg/models"
)

var errNoModels = errors.New("no models recorded for session")

// ModelScore pairs a model with one offline score.
type ModelScore struct {
	ModelID string
	Score   float64
}

// ModelScores tracks the offline scores of one (assignment, eval version)
// pair, ascending by score. A score only enters the list when it beats the
// current worst.
type ModelScores struct {
	scores []ModelScore
}

// AddScore records a score if it improves on the worst retained one.
func (m *ModelScores) AddScore(modelID string, score float64) {
	if len(m.scores) > 0 && score >= m.scores[len(m.scores)-1].Score {
		return
	}
	m.scores = append(m.scores, ModelScore{ModelID: modelID, Score: score})
	sort.Slice(m.scores, func(i, j int) bool { return m.scores[i].Score < m.scores[j].Score })
}

// RemoveScore deletes an exact entry.
func (m *ModelScores) RemoveScore(score ModelScore) {
	for i, s := range m.scores {
		if s == score {
			m.scores = append(m.scores[:i], m.scores[i+1:]...)
			return
		}
	}
}

// Scores returns the entries ascending by score.
func (m *ModelScores) Scores() []ModelScore {
	return append([]ModelScore(nil), m.scores...)
}

// ModelIDs returns the set of model ids retained.
func (m *ModelScores) ModelIDs() map[string]bool {
	out := make(map[string]bool, len(m.scores))
	for _, s := range m.scores {
		out[s.ModelID] = true
	}
	return out
}

// AssignmentEvalKey keys offline evaluations by assignment and eval
// version.
type AssignmentEvalKey struct {
	AssignmentID string
	EvalID       int
}

// OfflineEvaluations maps (assignment, eval version) to retained model
// scores.
type OfflineEvaluations map[AssignmentEvalKey]*ModelScores

// Add records one offline evaluation.
func (o OfflineEvaluations) Add(assignmentID string, evalID int, modelID string, score float64) {
	key := AssignmentEvalKey{AssignmentID: assignmentID, EvalID: evalID}
	scores, ok := o[key]
	if !ok {
		scores = &ModelScores{}
		o[key] = scores
	}
	scores.AddScore(modelID, score)
}

// EvalIDScore is one flattened selection entry.
type EvalIDScore struct {
	EvalID int
	Score  ModelScore
}

// ScoresByOfflineEvaluationID flattens the map into entries sorted
// primarily by descending eval id and secondarily by ascending score.
// assignmentID filters when non-empty. modelsLimit, when positive, stops
// the walk over (assignment, eval version) keys once that many distinct
// models are collected; a key's models are always added whole, so the
// result can hold more models than the limit.
func (o OfflineEvaluations) ScoresByOfflineEvaluationID(assignmentID string, modelsLimit int) []EvalIDScore {
	keys := make([]AssignmentEvalKey, 0, len(o))
	for key := range o {
		if assignmentID != "" && key.AssignmentID != assignmentID {
			continue
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].EvalID > keys[j].EvalID })

	var out []EvalIDScore
	seen := make(map[string]bool)
	for _, key := range keys {
		if modelsLimit > 0 && len(seen) >= modelsLimit {
			break
		}
		for _, score := range o[key].Scores() {
			out = append(out, EvalIDScore{EvalID: key.EvalID, Score: score})
			seen[score.ModelID] = true
		}
	}
	// Keys of different assignments can share an eval id; order their
	// entries by score too.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].EvalID != out[j].EvalID {
			return out[i].EvalID > out[j].EvalID
		}
		return out[i].Score.Score < out[j].Score.Score
	})
	return out
}

// ModelIDsForAssignment returns every model id retained for an assignment.
func (o OfflineEvaluations) ModelIDsForAssignment(assignmentID string) map[string]bool {
	out := make(map[string]bool)
	for key, scores := range o {
		if key.AssignmentID != assignmentID {
			continue
		}
		for id := range scores.ModelIDs() {
			out[id] = true
		}
	}
	return out
}

// RemoveScore removes an entry, dropping the key when it empties.
func (o OfflineEvaluations) RemoveScore(assignmentID string, evalID int, score ModelScore) {
	key := AssignmentEvalKey{AssignmentID: assignmentID, EvalID: evalID}
	scores, ok := o[key]
	if !ok {
		return
	}
	scores.RemoveScore(score)
	if len(scores.scores) == 0 {
		delete(o, key)
	}
}

// AssignmentIDs returns the assignments present in the map.
func (o OfflineEvaluations) AssignmentIDs() map[string]bool {
	out := make(map[string]bool)
	for key := range o {
		out[key.AssignmentID] = true
	}
	return out
}

// EvaluationSummary aggregates one model's scores across eval versions and
// online feedback.
type EvaluationSummary struct {
	ModelID       string
	OfflineScores map[int]float64
	OnlineScores  []float64
}

// SummaryMap maps assignment ids to their models' evaluation summaries.
type SummaryMap map[string][]EvaluationSummary

// SummaryForAssignmentAndModel returns the single summary for a model
// under an assignment, nil when absent.
func (m SummaryMap) SummaryForAssignmentAndModel(assignmentID, modelID string) (*EvaluationSummary, error) {
	var found *EvaluationSummary
	for i := range m[assignmentID] {
		if m[assignmentID][i].ModelID != modelID {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf(
				"expected exactly one evaluation summary for assignment and model pair %s/%s",
				assignmentID, modelID)
		}
		found = &m[assignmentID][i]
	}
	return found, nil
}

// ModelsCount returns the total number of summaries.
func (m SummaryMap) ModelsCount() int {
	n := 0
	for _, summaries := range m {
		n += len(summaries)
	}
	return n
}

// Selector selects the best model of a session across its assignments,
// preferring online success rates and falling back to offline scores at
// the newest eval version.
type Selector struct {
	offline OfflineEvaluations
	online  map[string]sampling.ModelRecord
}

// BuildSelector loads a session's models and evaluations into a selector.
func BuildSelector(store *datastore.Store, project, brain, session string) (*Selector, error) {
	sel := &Selector{
		offline: make(OfflineEvaluations),
		online:  make(map[string]sampling.ModelRecord),
	}

	modelAssignments := make(map[string]string)
	modelIDs, _, err := store.List(
		fmt.Sprintf("projects/%s/brains/%s/sessions/%s/models/*", project, brain, session), 0, "")
	if err != nil {
		return nil, err
	}
	for _, id := range modelIDs {
		model, err := datastore.Read[models.Model](store, id)
		if err != nil {
			return nil, err
		}
		modelAssignments[model.ModelID] = model.AssignmentID
	}

	offlineIDs, _, err := store.List(
		fmt.Sprintf("projects/%s/brains/%s/sessions/%s/offline_evaluations/*", project, brain, session), 0, "")
	if err != nil {
		return nil, err
	}
	for _, id := range offlineIDs {
		eval, err := datastore.Read[models.OfflineEvaluation](store, id)
		if err != nil {
			return nil, err
		}
		sel.offline.Add(modelAssignments[eval.ModelID], eval.EvalSetVersion, eval.ModelID, eval.Score)
	}

	onlineIDs, _, err := store.List(
		fmt.Sprintf("projects/%s/brains/%s/sessions/%s/online_evaluations/*", project, brain, session), 0, "")
	if err != nil {
		return nil, err
	}
	for _, id := range onlineIDs {
		eval, err := datastore.Read[models.OnlineEvaluation](store, id)
		if err != nil {
			return nil, err
		}
		sel.online[eval.ModelID] = sampling.ModelRecord{
			Successes: eval.Successes,
			Failures:  eval.Failures,
		}
	}
	return sel, nil
}

// SelectBestModel returns the winning model id, errNoModels when the
// session has no scored models.
func (s *Selector) SelectBestModel() (string, error) {
	// Online feedback wins when present.
	if len(s.online) > 0 {
		ids := make([]string, 0, len(s.online))
		records := make([]sampling.ModelRecord, 0, len(s.online))
		for id, record := range s.online {
			if record.Total() == 0 {
				continue
			}
			ids = append(ids, id)
			records = append(records, record)
		}
		sort.Strings(ids)
		if len(ids) > 0 {
			// Rebuild records in the sorted id order for determinism.
			for i, id := range ids {
				records[i] = s.online[id]
			}
			best, err := sampling.HighestAverageSelection{}.SelectBest(records)
			if err != nil {
				return "", err
			}
			return ids[best], nil
		}
	}

	flattened := s.offline.ScoresByOfflineEvaluationID("", 0)
	if len(flattened) == 0 {
		return "", errNoModels
	}
	newest := flattened[0].EvalID
	best := flattened[0].Score
	for _, entry := range flattened[1:] {
		if entry.EvalID != newest {
			break
		}
		if entry.Score.Score < best.Score {
			best = entry.Score
		}
	}
	return best.ModelID, nil
}
