package learner

import (
	"fmt"
	"sort"

	"github.com/arcadia-ml/mimic/pkg/datastore"
	"github.com/arcadia-ml/mimic/pkg/models"
	"github.com/arcadia-ml/mimic/pkg/resourceid"
)

// Storage is the learner's view of the datastore: chunk listing, record
// writes for published models, and session stop checks.
type Storage struct {
	store *datastore.Store
}

// NewStorage wraps a datastore for learner-side access.
func NewStorage(store *datastore.Store) *Storage {
	return &Storage{store: store}
}

// Store exposes the wrapped datastore.
func (s *Storage) Store() *datastore.Store { return s.store }

// BrainSpec reads a brain's spec.
func (s *Storage) BrainSpec(project, brain string) (models.BrainSpec, error) {
	b, err := s.store.ReadBrain(project, brain)
	if err != nil {
		return models.BrainSpec{}, err
	}
	return b.BrainSpec, nil
}

// ReadAssignment reads the assignment record behind a resource id.
func (s *Storage) ReadAssignment(id resourceid.ID) (*models.Assignment, error) {
	return datastore.Read[models.Assignment](s.store, id)
}

// ReadChunk reads one episode chunk.
func (s *Storage) ReadChunk(id resourceid.ID) (*models.EpisodeChunk, error) {
	return datastore.Read[models.EpisodeChunk](s.store, id)
}

// ListChunkIDs returns every chunk id of the session, ordered by episode id
// and ascending numeric chunk id within each episode.
func (s *Storage) ListChunkIDs(project, brain, session string) ([]resourceid.ID, error) {
	pattern := fmt.Sprintf("projects/%s/brains/%s/sessions/%s/episodes/*/chunks/*",
		project, brain, session)
	ids, _, err := s.store.List(pattern, 0, "")
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Episode() != ids[j].Episode() {
			return ids[i].Episode() < ids[j].Episode()
		}
		ci, _ := ids[i].ChunkIndex()
		cj, _ := ids[j].ChunkIndex()
		return ci < cj
	})
	return ids, nil
}

// SessionStopped reports whether the session has been stopped.
func (s *Storage) SessionStopped(project, brain, session string) (bool, error) {
	sess, err := s.store.ReadSession(project, brain, session)
	if err != nil {
		return false, err
	}
	return sess.Stopped, nil
}

// RecordModel persists a published model's record.
func (s *Storage) RecordModel(m *models.Model) error {
	return s.store.Write(m)
}

// RecordOfflineEvaluations persists one offline evaluation per eval entry.
func (s *Storage) RecordOfflineEvaluations(a *models.Assignment, modelID string, evals []EvalScore) error {
	for _, e := range evals {
		record := &models.OfflineEvaluation{
			ProjectID:      a.ProjectID,
			BrainID:        a.BrainID,
			SessionID:      a.SessionID,
			EvaluationID:   fmt.Sprintf("%s_%d", modelID, e.Version),
			ModelID:        modelID,
			EvalSetVersion: e.Version,
			Score:          e.Score,
		}
		if err := s.store.Write(record); err != nil {
			return fmt.Errorf("recording evaluation v%d for %s: %w", e.Version, modelID, err)
		}
	}
	return nil
}
