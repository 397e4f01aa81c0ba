package api

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/arcadia-ml/mimic/pkg/datastore"
	"github.com/arcadia-ml/mimic/pkg/models"
)

// savedModelDir is the bundle subtree GetModel extracts from the published
// zip.
const savedModelDir = "saved_model"

// GetModel returns a packaged model addressed by snapshot id or model id,
// with per-file payloads extracted from the published zip. Only files under
// saved_model/ are returned, keyed by their path relative to it.
func (s *Service) GetModel(ctx context.Context, req *GetModelRequest) (*GetModelResponse, error) {
	if err := s.authorize(ctx, req.ProjectID); err != nil {
		return nil, err
	}
	if req.BrainID == "" {
		return nil, invalidArgumentf("brain_id must be specified")
	}
	if req.SnapshotID != "" && req.ModelID != "" {
		return nil, invalidArgumentf(
			"either model_id or snapshot_id should be specified, not both")
	}
	if req.SnapshotID == "" && req.ModelID == "" {
		return nil, invalidArgumentf("one of model_id or snapshot_id must be specified")
	}
	for name, value := range map[string]string{
		"brain_id": req.BrainID, "model_id": req.ModelID, "snapshot_id": req.SnapshotID,
	} {
		if err := checkIDComponent(name, value); err != nil {
			return nil, err
		}
	}

	model, err := s.resolveModel(req)
	if err != nil {
		return nil, err
	}
	files, err := extractSavedModel(model.CompressedModelPath)
	if err != nil {
		return nil, fmt.Errorf("reading model bundle for %s: %w", model.ModelID, err)
	}
	return &GetModelResponse{ModelID: model.ModelID, Files: files}, nil
}

func (s *Service) resolveModel(req *GetModelRequest) (*models.Model, error) {
	if req.ModelID != "" {
		// The session owning the model is not part of the request; find it.
		pattern := fmt.Sprintf("projects/%s/brains/%s/sessions/*/models/%s",
			req.ProjectID, req.BrainID, req.ModelID)
		ids, _, err := s.store.List(pattern, 2, "")
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("%w: model %s", datastore.ErrNotFound, req.ModelID)
		}
		if len(ids) > 1 {
			return nil, fmt.Errorf("%d resources found for model %s, expected one",
				len(ids), req.ModelID)
		}
		return datastore.Read[models.Model](s.store, ids[0])
	}
	snapshot, err := s.store.ReadSnapshot(req.ProjectID, req.BrainID, req.SnapshotID)
	if err != nil {
		return nil, err
	}
	return s.store.ReadModel(req.ProjectID, req.BrainID, snapshot.SessionID, snapshot.ModelID)
}

// extractSavedModel reads the files under saved_model/ out of a published
// zip.
func extractSavedModel(zipPath string) (map[string][]byte, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	files := make(map[string][]byte)
	for _, entry := range reader.File {
		name := path.Clean(entry.Name)
		if entry.FileInfo().IsDir() || !strings.HasPrefix(name, savedModelDir+"/") {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		files[strings.TrimPrefix(name, savedModelDir+"/")] = data
	}
	return files, nil
}
