package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arcadia-ml/mimic/pkg/datastore"
	"github.com/arcadia-ml/mimic/pkg/models"
)

// CreateSession opens a session against a brain. INFERENCE and EVALUATION
// sessions start from a snapshot: the one named in the spec, or the
// brain's most recent. EVALUATION additionally requires the snapshot to
// come from an INTERACTIVE_TRAINING session. INTERACTIVE_TRAINING sessions
// get one assignment per configured hyperparameter set so learners can
// pick the work up.
func (s *Service) CreateSession(ctx context.Context, req *CreateSessionRequest) (*Session, error) {
	spec := req.Spec
	if err := s.authorize(ctx, spec.ProjectID); err != nil {
		return nil, err
	}
	switch spec.SessionType {
	case models.SessionInteractiveTraining, models.SessionInference, models.SessionEvaluation:
	case "":
		return nil, invalidArgumentf("session type not set in the request")
	default:
		return nil, invalidArgumentf("unknown session type %q", spec.SessionType)
	}
	if spec.BrainID == "" {
		return nil, invalidArgumentf("brain_id must be specified")
	}
	if _, err := s.cache.GetBrain(spec.ProjectID, spec.BrainID); err != nil {
		return nil, err
	}

	snapshot, err := s.startingSnapshot(spec)
	if err != nil {
		return nil, err
	}
	if spec.SessionType == models.SessionInference || spec.SessionType == models.SessionEvaluation {
		if snapshot == nil {
			return nil, invalidArgumentf(
				"session type %s requires a starting snapshot for brain %s",
				spec.SessionType, spec.BrainID)
		}
	}
	if spec.SessionType == models.SessionEvaluation {
		sourceType, err := s.cache.GetSessionType(spec.ProjectID, spec.BrainID, snapshot.SessionID)
		if err != nil {
			return nil, err
		}
		if sourceType != models.SessionInteractiveTraining {
			return nil, failedPreconditionf(
				"evaluation sessions must start from a snapshot produced by an "+
					"interactive training session for brain %s", spec.BrainID)
		}
	}

	session := &models.Session{
		ProjectID:   spec.ProjectID,
		BrainID:     spec.BrainID,
		SessionID:   uuid.NewString(),
		SessionType: spec.SessionType,
		UserAgent:   metadataValue(ctx, "user-agent"),
	}
	if snapshot != nil {
		session.StartingSnapshotIDs = []string{snapshot.SnapshotID}
	}
	if err := s.store.Write(session); err != nil {
		return nil, err
	}

	if spec.SessionType == models.SessionInteractiveTraining {
		for _, hp := range s.hparamSets {
			assignment := &models.Assignment{
				ProjectID:       spec.ProjectID,
				BrainID:         spec.BrainID,
				SessionID:       session.SessionID,
				AssignmentID:    hp.CanonicalID(),
				Hyperparameters: hp,
			}
			if err := s.store.Write(assignment); err != nil {
				return nil, err
			}
		}
	}

	slog.Debug("Session created", "session_id", session.SessionID,
		"session_type", session.SessionType)
	return sessionToWire(session), nil
}

// startingSnapshot resolves the snapshot a new session starts from, nil
// when the brain has none and the spec names none.
func (s *Service) startingSnapshot(spec SessionSpec) (*models.Snapshot, error) {
	if spec.SnapshotID != "" {
		return s.store.ReadSnapshot(spec.ProjectID, spec.BrainID, spec.SnapshotID)
	}
	return s.store.GetMostRecentSnapshot(spec.ProjectID, spec.BrainID)
}

// GetSession retrieves a session by id.
func (s *Service) GetSession(ctx context.Context, req *GetSessionRequest) (*Session, error) {
	if err := s.authorize(ctx, req.ProjectID); err != nil {
		return nil, err
	}
	if req.BrainID == "" || req.SessionID == "" {
		return nil, invalidArgumentf("brain_id and session_id must be specified")
	}
	session, err := s.store.ReadSession(req.ProjectID, req.BrainID, req.SessionID)
	if err != nil {
		return nil, err
	}
	return sessionToWire(session), nil
}

// GetSessionByIndex retrieves the n-th session of a brain in listing
// order.
func (s *Service) GetSessionByIndex(ctx context.Context, req *GetSessionByIndexRequest) (*Session, error) {
	if err := s.authorize(ctx, req.ProjectID); err != nil {
		return nil, err
	}
	if req.BrainID == "" || req.SessionIndex < 0 {
		return nil, invalidArgumentf("brain_id and a non-negative session_index must be specified")
	}
	pattern := fmt.Sprintf("projects/%s/brains/%s/sessions/*", req.ProjectID, req.BrainID)
	ids, _, err := s.store.List(pattern, req.SessionIndex+1, "")
	if err != nil {
		return nil, err
	}
	if len(ids) <= req.SessionIndex {
		return nil, fmt.Errorf("%w: session at index %d", datastore.ErrNotFound, req.SessionIndex)
	}
	session, err := datastore.Read[models.Session](s.store, ids[req.SessionIndex])
	if err != nil {
		return nil, err
	}
	return sessionToWire(session), nil
}

// GetSessionCount counts a brain's sessions.
func (s *Service) GetSessionCount(ctx context.Context, req *GetSessionCountRequest) (*GetSessionCountResponse, error) {
	if err := s.authorize(ctx, req.ProjectID); err != nil {
		return nil, err
	}
	if req.BrainID == "" {
		return nil, invalidArgumentf("brain_id must be specified")
	}
	pattern := fmt.Sprintf("projects/%s/brains/%s/sessions/*", req.ProjectID, req.BrainID)
	ids, _, err := s.store.List(pattern, 0, "")
	if err != nil {
		return nil, err
	}
	return &GetSessionCountResponse{SessionCount: len(ids)}, nil
}

// ListSessions returns a brain's sessions, paged.
func (s *Service) ListSessions(ctx context.Context, req *ListSessionsRequest) (*ListSessionsResponse, error) {
	if err := s.authorize(ctx, req.ProjectID); err != nil {
		return nil, err
	}
	if req.BrainID == "" {
		return nil, invalidArgumentf("brain_id must be specified")
	}
	pattern := fmt.Sprintf("projects/%s/brains/%s/sessions/*", req.ProjectID, req.BrainID)
	ids, next, err := s.list(pattern, req.PageSize, req.PageToken)
	if err != nil {
		return nil, err
	}
	resp := &ListSessionsResponse{NextPageToken: next}
	for _, id := range ids {
		session, err := datastore.Read[models.Session](s.store, id)
		if err != nil {
			return nil, err
		}
		resp.Sessions = append(resp.Sessions, sessionToWire(session))
	}
	return resp, nil
}

// StopSession marks the session stopped; the assignment processor notices
// at its next cancellation check and finishes any in-flight export. For
// INTERACTIVE_TRAINING sessions the best model across assignments is
// promoted to the session-terminal snapshot.
func (s *Service) StopSession(ctx context.Context, req *StopSessionRequest) (*StopSessionResponse, error) {
	if err := s.authorize(ctx, req.ProjectID); err != nil {
		return nil, err
	}
	if req.BrainID == "" || req.SessionID == "" {
		return nil, invalidArgumentf("brain_id and session_id must be specified")
	}
	session, err := s.store.ReadSession(req.ProjectID, req.BrainID, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Stopped {
		return nil, failedPreconditionf("session %s is already stopped", req.SessionID)
	}
	session.Stopped = true
	session.StoppedMicros = time.Now().UTC().UnixMicro()
	if err := s.store.Write(session); err != nil {
		return nil, err
	}
	s.cache.Invalidate(req.ProjectID, req.BrainID, req.SessionID)

	resp := &StopSessionResponse{Session: sessionToWire(session)}
	if session.SessionType != models.SessionInteractiveTraining {
		return resp, nil
	}

	selector, err := BuildSelector(s.store, req.ProjectID, req.BrainID, req.SessionID)
	if err != nil {
		return nil, err
	}
	bestModel, err := selector.SelectBestModel()
	if errors.Is(err, errNoModels) {
		slog.Info("Session stopped with no models to promote", "session_id", req.SessionID)
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	snapshot := &models.Snapshot{
		ProjectID:  req.ProjectID,
		BrainID:    req.BrainID,
		SnapshotID: uuid.NewString(),
		SessionID:  req.SessionID,
		ModelID:    bestModel,
	}
	if err := s.store.Write(snapshot); err != nil {
		return nil, err
	}
	resp.SnapshotID = snapshot.SnapshotID
	slog.Info("Promoted model to snapshot", "session_id", req.SessionID,
		"model_id", bestModel, "snapshot_id", snapshot.SnapshotID)
	return resp, nil
}
