package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arcadia-ml/mimic/pkg/datastore"
	"github.com/arcadia-ml/mimic/pkg/models"
	"github.com/arcadia-ml/mimic/pkg/resourceid"
	"github.com/arcadia-ml/mimic/pkg/specs"
)

// SubmitEpisodeChunks validates the submitted chunks against the session
// brain's spec, persists them in request order, and notifies every
// assignment attached to the session.
//
// Failure semantics: every chunk is validated before any is written, so a
// structural or spec failure aborts the call with InvalidArgument and
// persists nothing. A write error partway through aborts the call and
// chunks persisted earlier in the same call are kept, not rolled back.
// Clients retry the whole request; rewriting an already-persisted chunk is
// idempotent.
func (s *Service) SubmitEpisodeChunks(ctx context.Context, req *SubmitEpisodeChunksRequest) (*SubmitEpisodeChunksResponse, error) {
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
		return nil, failedPreconditionf("session %s is stopped", req.SessionID)
	}
	tree, err := s.specTree(req.ProjectID, req.BrainID)
	if err != nil {
		return nil, err
	}

	if err := s.validateChunks(tree, req.Chunks); err != nil {
		return nil, fmt.Errorf("%w: episode data did not match the brain spec for the session: %s",
			ErrInvalidArgument, err)
	}

	assignments, err := s.sessionAssignments(req.ProjectID, req.BrainID, req.SessionID)
	if err != nil {
		return nil, err
	}

	accepted := 0
	for _, submitted := range req.Chunks {
		chunk := &models.EpisodeChunk{
			ProjectID:    req.ProjectID,
			BrainID:      req.BrainID,
			SessionID:    req.SessionID,
			EpisodeID:    submitted.EpisodeID,
			ChunkID:      submitted.ChunkID,
			Steps:        submitted.Steps,
			EpisodeState: submitted.EpisodeState,
			ModelID:      submitted.ModelID,
		}
		if err := s.store.Write(chunk); err != nil {
			return nil, err
		}
		accepted++
		if s.metrics != nil {
			s.metrics.ChunksIngested.Inc()
		}
		chunkID, err := chunk.ResourceID()
		if err != nil {
			return nil, err
		}
		for _, assignment := range assignments {
			if err := datastore.TriggerNotification(s.fs, assignment, chunkID); err != nil {
				// The chunk is durable; a missed notification is recovered
				// by the learner's full listing on acquisition.
				slog.Warn("Failed to write assignment notification",
					"assignment", assignment.String(), "error", err)
			}
		}
		if session.SessionType == models.SessionEvaluation {
			if err := s.recordOnlineFeedback(chunk); err != nil {
				return nil, err
			}
		}
	}
	slog.Debug("Chunks submitted", "session_id", req.SessionID, "chunks", accepted)
	return &SubmitEpisodeChunksResponse{AcceptedChunks: accepted}, nil
}

// recordOnlineFeedback tallies a terminal episode of an evaluation session
// as deployment feedback for the evaluated model: the chunk's model when
// the client attributed one, otherwise the model behind the session's
// starting snapshot.
func (s *Service) recordOnlineFeedback(chunk *models.EpisodeChunk) error {
	var success bool
	switch chunk.EpisodeState {
	case models.EpisodeSuccess:
		success = true
	case models.EpisodeFailure:
	default:
		return nil // IN_PROGRESS and GAVE_UP carry no feedback.
	}
	modelID := chunk.ModelID
	if modelID == "" {
		snapshot, err := s.cache.GetStartingSnapshot(chunk.ProjectID, chunk.BrainID, chunk.SessionID)
		if err != nil {
			return fmt.Errorf("resolving evaluated model for session %s: %w", chunk.SessionID, err)
		}
		modelID = snapshot.ModelID
	}
	id, err := resourceid.ForOnlineEvaluation(chunk.ProjectID, chunk.BrainID, chunk.SessionID, modelID)
	if err != nil {
		return err
	}
	eval, err := datastore.Read[models.OnlineEvaluation](s.store, id)
	if errors.Is(err, datastore.ErrNotFound) {
		eval = &models.OnlineEvaluation{
			ProjectID: chunk.ProjectID,
			BrainID:   chunk.BrainID,
			SessionID: chunk.SessionID,
			ModelID:   modelID,
		}
	} else if err != nil {
		return err
	}
	if success {
		eval.Successes++
	} else {
		eval.Failures++
	}
	return s.store.Write(eval)
}

// validateChunks applies the structural chunk invariants and validates
// every step against the spec tree, reporting the chunk and step indices
// with the exact leaf path on failure.
func (s *Service) validateChunks(tree *specs.Tree, chunks []SubmittedChunk) error {
	for i, chunk := range chunks {
		switch chunk.EpisodeState {
		case models.EpisodeInProgress, models.EpisodeSuccess,
			models.EpisodeFailure, models.EpisodeGaveUp:
		default:
			return fmt.Errorf("unknown episode state %q at chunk_index: %d", chunk.EpisodeState, i)
		}
		if chunk.EpisodeID == "" {
			return fmt.Errorf("missing episode id at chunk_index: %d", i)
		}
		// Episode ids become path components and appear in listing globs.
		if strings.ContainsAny(chunk.EpisodeID, `/\*?[]{}`) {
			return fmt.Errorf("episode id %q contains reserved characters at chunk_index: %d",
				chunk.EpisodeID, i)
		}
		if chunk.ChunkID < 0 {
			return fmt.Errorf("negative chunk id at chunk_index: %d", i)
		}
		if len(chunk.Steps) == 0 {
			if !chunk.EpisodeState.Terminal() {
				return fmt.Errorf("received an empty chunk that does not close the episode "+
					"at chunk_index: %d", i)
			}
			if chunk.ChunkID == 0 {
				return fmt.Errorf("received an empty episode at chunk_index: %d", i)
			}
		}
		for j := range chunk.Steps {
			if err := tree.ValidateStep(&chunk.Steps[j]); err != nil {
				return fmt.Errorf("brain spec check failed in chunk %d, step %d: %w", i, j, err)
			}
		}
	}
	return nil
}

// sessionAssignments lists the assignments attached to a session.
func (s *Service) sessionAssignments(project, brain, session string) ([]resourceid.ID, error) {
	pattern := fmt.Sprintf("projects/%s/brains/%s/sessions/%s/assignments/*",
		project, brain, session)
	ids, _, err := s.store.List(pattern, 0, "")
	if err != nil {
		return nil, err
	}
	return ids, nil
}
