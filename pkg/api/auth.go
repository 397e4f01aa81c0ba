package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc/metadata"

	"github.com/arcadia-ml/mimic/pkg/datastore"
	"github.com/arcadia-ml/mimic/pkg/models"
)

// APIKeyMetadataKey is the request metadata key clients put their API key
// under.
const APIKeyMetadataKey = "x-goog-api-key"

// GenerateAPIKey returns an opaque urlsafe-base64 128-bit token.
func GenerateAPIKey() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// GetOrCreateAPIKey returns the API key of an existing project, creating
// the project with a fresh key when it does not exist yet.
func GetOrCreateAPIKey(store *datastore.Store, projectID string) (string, error) {
	project, err := store.ReadProject(projectID)
	if err == nil {
		return project.APIKey, nil
	}
	if !errors.Is(err, datastore.ErrNotFound) {
		return "", err
	}
	key, err := GenerateAPIKey()
	if err != nil {
		return "", err
	}
	if err := store.Write(&models.Project{
		ProjectID:   projectID,
		DisplayName: projectID,
		APIKey:      key,
	}); err != nil {
		return "", err
	}
	slog.Info("Generated API key for project", "project_id", projectID)
	return key, nil
}

// metadataValue returns the first value of a metadata key, "" when absent.
func metadataValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// authorize validates the request's project id against the API key in the
// call metadata.
func (s *Service) authorize(ctx context.Context, projectID string) error {
	if projectID == "" {
		return fmt.Errorf("%w: no project ID set in the request", ErrUnauthenticated)
	}
	apiKey := metadataValue(ctx, APIKeyMetadataKey)
	if apiKey == "" {
		return fmt.Errorf("%w: no API key found in the metadata", ErrUnauthenticated)
	}
	project, err := s.store.ReadProject(projectID)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return fmt.Errorf("%w: unknown project %s", ErrUnauthenticated, projectID)
		}
		return err
	}
	if project.APIKey != apiKey {
		return fmt.Errorf("%w: project %s and API key do not match", ErrUnauthenticated, projectID)
	}
	return nil
}
