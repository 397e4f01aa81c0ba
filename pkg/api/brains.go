package api

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/arcadia-ml/mimic/pkg/datastore"
	"github.com/arcadia-ml/mimic/pkg/models"
	"github.com/arcadia-ml/mimic/pkg/resourceid"
	"github.com/arcadia-ml/mimic/pkg/specs"
)

// CreateBrain validates the spec, assigns a brain id and persists the
// brain.
func (s *Service) CreateBrain(ctx context.Context, req *CreateBrainRequest) (*Brain, error) {
	if err := s.authorize(ctx, req.ProjectID); err != nil {
		return nil, err
	}
	if _, err := specs.FromSpec(req.BrainSpec); err != nil {
		return nil, fmt.Errorf("%w: unable to create brain, brain spec invalid: %s",
			ErrInvalidArgument, err)
	}
	brain := &models.Brain{
		ProjectID:   req.ProjectID,
		BrainID:     uuid.NewString(),
		DisplayName: req.DisplayName,
		BrainSpec:   req.BrainSpec,
	}
	if err := s.store.Write(brain); err != nil {
		return nil, err
	}
	slog.Debug("Brain created", "project_id", req.ProjectID, "brain_id", brain.BrainID)
	return brainToWire(brain), nil
}

// GetBrain retrieves an existing brain.
func (s *Service) GetBrain(ctx context.Context, req *GetBrainRequest) (*Brain, error) {
	if err := s.authorize(ctx, req.ProjectID); err != nil {
		return nil, err
	}
	if req.BrainID == "" {
		return nil, invalidArgumentf("brain_id must be specified")
	}
	brain, err := s.cache.GetBrain(req.ProjectID, req.BrainID)
	if err != nil {
		return nil, err
	}
	return brainToWire(brain), nil
}

// ListBrains returns the project's brains, paged.
func (s *Service) ListBrains(ctx context.Context, req *ListBrainsRequest) (*ListBrainsResponse, error) {
	if err := s.authorize(ctx, req.ProjectID); err != nil {
		return nil, err
	}
	pattern := fmt.Sprintf("projects/%s/brains/*", req.ProjectID)
	ids, next, err := s.list(pattern, req.PageSize, req.PageToken)
	if err != nil {
		return nil, err
	}
	resp := &ListBrainsResponse{NextPageToken: next}
	for _, id := range ids {
		brain, err := datastore.Read[models.Brain](s.store, id)
		if err != nil {
			return nil, err
		}
		resp.Brains = append(resp.Brains, brainToWire(brain))
	}
	return resp, nil
}

// list wraps the datastore listing with page-token validation.
func (s *Service) list(pattern string, pageSize int, pageToken string) ([]resourceid.ID, string, error) {
	if pageToken != "" {
		if _, err := resourceid.Parse(resourceid.Resources, pageToken); err != nil {
			return nil, "", invalidArgumentf("malformed page token %q", pageToken)
		}
	}
	if pageSize < 0 {
		return nil, "", invalidArgumentf("page_size must not be negative")
	}
	return s.store.List(pattern, pageSize, pageToken)
}
