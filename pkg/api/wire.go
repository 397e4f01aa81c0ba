package api

import (
	"github.com/arcadia-ml/mimic/pkg/models"
)

// Wire types of the RPC surface. They deliberately mirror the storage
// records minus server-internal fields (API keys, filesystem paths).

// Brain is the client-visible brain.
type Brain struct {
	ProjectID     string           `json:"project_id"`
	BrainID       string           `json:"brain_id"`
	DisplayName   string           `json:"display_name,omitempty"`
	BrainSpec     models.BrainSpec `json:"brain_spec"`
	CreatedMicros int64            `json:"created_micros"`
}

func brainToWire(b *models.Brain) *Brain {
	return &Brain{
		ProjectID:     b.ProjectID,
		BrainID:       b.BrainID,
		DisplayName:   b.DisplayName,
		BrainSpec:     b.BrainSpec,
		CreatedMicros: b.CreatedMicros,
	}
}

// Session is the client-visible session.
type Session struct {
	ProjectID           string             `json:"project_id"`
	BrainID             string             `json:"brain_id"`
	SessionID           string             `json:"session_id"`
	SessionType         models.SessionType `json:"session_type"`
	StartingSnapshotIDs []string           `json:"starting_snapshot_ids,omitempty"`
	Stopped             bool               `json:"stopped,omitempty"`
	CreatedMicros       int64              `json:"created_micros"`
}

func sessionToWire(s *models.Session) *Session {
	return &Session{
		ProjectID:           s.ProjectID,
		BrainID:             s.BrainID,
		SessionID:           s.SessionID,
		SessionType:         s.SessionType,
		StartingSnapshotIDs: s.StartingSnapshotIDs,
		Stopped:             s.Stopped,
		CreatedMicros:       s.CreatedMicros,
	}
}

// EpisodeChunk is the client-visible chunk. In id-only listings Steps is
// empty.
type EpisodeChunk struct {
	EpisodeID    string              `json:"episode_id"`
	ChunkID      int                 `json:"chunk_id"`
	Steps        []models.Step       `json:"steps,omitempty"`
	EpisodeState models.EpisodeState `json:"episode_state,omitempty"`
	ModelID      string              `json:"model_id,omitempty"`
}

// Requests and responses.

type CreateBrainRequest struct {
	ProjectID   string           `json:"project_id"`
	DisplayName string           `json:"display_name,omitempty"`
	BrainSpec   models.BrainSpec `json:"brain_spec"`
}

type GetBrainRequest struct {
	ProjectID string `json:"project_id"`
	BrainID   string `json:"brain_id"`
}

type ListBrainsRequest struct {
	ProjectID string `json:"project_id"`
	PageSize  int    `json:"page_size,omitempty"`
	PageToken string `json:"page_token,omitempty"`
}

type ListBrainsResponse struct {
	Brains        []*Brain `json:"brains"`
	NextPageToken string   `json:"next_page_token,omitempty"`
}

// SessionSpec describes the session a client wants to open.
type SessionSpec struct {
	ProjectID   string             `json:"project_id"`
	BrainID     string             `json:"brain_id"`
	SessionType models.SessionType `json:"session_type"`
	SnapshotID  string             `json:"snapshot_id,omitempty"`
}

type CreateSessionRequest struct {
	Spec SessionSpec `json:"spec"`
}

type GetSessionRequest struct {
	ProjectID string `json:"project_id"`
	BrainID   string `json:"brain_id"`
	SessionID string `json:"session_id"`
}

type GetSessionByIndexRequest struct {
	ProjectID    string `json:"project_id"`
	BrainID      string `json:"brain_id"`
	SessionIndex int    `json:"session_index"`
}

type GetSessionCountRequest struct {
	ProjectID string `json:"project_id"`
	BrainID   string `json:"brain_id"`
}

type GetSessionCountResponse struct {
	SessionCount int `json:"session_count"`
}

type ListSessionsRequest struct {
	ProjectID string `json:"project_id"`
	BrainID   string `json:"brain_id"`
	PageSize  int    `json:"page_size,omitempty"`
	PageToken string `json:"page_token,omitempty"`
}

type ListSessionsResponse struct {
	Sessions      []*Session `json:"sessions"`
	NextPageToken string     `json:"next_page_token,omitempty"`
}

type StopSessionRequest struct {
	ProjectID string `json:"project_id"`
	BrainID   string `json:"brain_id"`
	SessionID string `json:"session_id"`
}

type StopSessionResponse struct {
	Session    *Session `json:"session"`
	SnapshotID string   `json:"snapshot_id,omitempty"`
}

// ChunkFilter selects how ListEpisodeChunks scopes and renders results.
type ChunkFilter string

const (
	// FilterAll lists every chunk of the session with payloads.
	FilterAll ChunkFilter = "ALL"
	// FilterSpecifiedEpisode lists one episode's chunks with payloads.
	FilterSpecifiedEpisode ChunkFilter = "SPECIFIED_EPISODE"
	// FilterEpisodeIDs lists id-only chunk stubs without reading payloads.
	FilterEpisodeIDs ChunkFilter = "EPISODE_IDS"
)

type ListEpisodeChunksRequest struct {
	ProjectID string      `json:"project_id"`
	BrainID   string      `json:"brain_id"`
	SessionID string      `json:"session_id"`
	EpisodeID string      `json:"episode_id,omitempty"`
	Filter    ChunkFilter `json:"filter,omitempty"`
	PageSize  int         `json:"page_size,omitempty"`
	PageToken string      `json:"page_token,omitempty"`
}

type ListEpisodeChunksResponse struct {
	EpisodeChunks []*EpisodeChunk `json:"episode_chunks"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

// SubmittedChunk is one chunk of a submission request.
type SubmittedChunk struct {
	EpisodeID    string              `json:"episode_id"`
	ChunkID      int                 `json:"chunk_id"`
	Steps        []models.Step       `json:"steps,omitempty"`
	EpisodeState models.EpisodeState `json:"episode_state"`
	ModelID      string              `json:"model_id,omitempty"`
}

type SubmitEpisodeChunksRequest struct {
	ProjectID string           `json:"project_id"`
	BrainID   string           `json:"brain_id"`
	SessionID string           `json:"session_id"`
	Chunks    []SubmittedChunk `json:"chunks"`
}

type SubmitEpisodeChunksResponse struct {
	AcceptedChunks int `json:"accepted_chunks"`
}

type GetModelRequest struct {
	ProjectID  string `json:"project_id"`
	BrainID    string `json:"brain_id"`
	SnapshotID string `json:"snapshot_id,omitempty"`
	ModelID    string `json:"model_id,omitempty"`
}

// GetModelResponse packages a published model: the per-file payloads of the
// saved-model bundle keyed by path relative to saved_model/.
type GetModelResponse struct {
	ModelID string            `json:"model_id"`
	Files   map[string][]byte `json:"files"`
}
