package api

import (
	"context"
	"fmt"
	"sort"

	"github.com/arcadia-ml/mimic/pkg/datastore"
	"github.com/arcadia-ml/mimic/pkg/models"
	"github.com/arcadia-ml/mimic/pkg/resourceid"
)

// ListEpisodeChunks lists a session's chunks. FilterSpecifiedEpisode scopes
// to one episode; FilterEpisodeIDs returns id-only stubs without reading
// payloads. The chunks of one response are ordered by episode id, then by
// ascending chunk id; paging itself follows the listing's id-string order,
// so with a page size chunk 10 of an episode can arrive on an earlier page
// than chunk 2.
func (s *Service) ListEpisodeChunks(ctx context.Context, req *ListEpisodeChunksRequest) (*ListEpisodeChunksResponse, error) {
	if err := s.authorize(ctx, req.ProjectID); err != nil {
		return nil, err
	}
	if req.BrainID == "" || req.SessionID == "" {
		return nil, invalidArgumentf("brain_id and session_id must be specified")
	}
	for name, value := range map[string]string{
		"brain_id": req.BrainID, "session_id": req.SessionID, "episode_id": req.EpisodeID,
	} {
		if err := checkIDComponent(name, value); err != nil {
			return nil, err
		}
	}
	var pattern string
	switch req.Filter {
	case FilterSpecifiedEpisode:
		if req.EpisodeID == "" {
			return nil, invalidArgumentf("episode_id must be specified with filter %s", req.Filter)
		}
		pattern = fmt.Sprintf("projects/%s/brains/%s/sessions/%s/episodes/%s/chunks/*",
			req.ProjectID, req.BrainID, req.SessionID, req.EpisodeID)
	case FilterAll, FilterEpisodeIDs, "":
		pattern = fmt.Sprintf("projects/%s/brains/%s/sessions/%s/episodes/*/chunks/*",
			req.ProjectID, req.BrainID, req.SessionID)
	default:
		return nil, invalidArgumentf("unknown filter %q", req.Filter)
	}
	ids, next, err := s.list(pattern, req.PageSize, req.PageToken)
	if err != nil {
		return nil, err
	}
	sortChunkIDs(ids)

	resp := &ListEpisodeChunksResponse{NextPageToken: next}
	for _, id := range ids {
		if req.Filter == FilterEpisodeIDs {
			index, err := id.ChunkIndex()
			if err != nil {
				return nil, err
			}
			resp.EpisodeChunks = append(resp.EpisodeChunks, &EpisodeChunk{
				EpisodeID: id.Episode(),
				ChunkID:   index,
			})
			continue
		}
		chunk, err := datastore.Read[models.EpisodeChunk](s.store, id)
		if err != nil {
			return nil, err
		}
		resp.EpisodeChunks = append(resp.EpisodeChunks, &EpisodeChunk{
			EpisodeID:    chunk.EpisodeID,
			ChunkID:      chunk.ChunkID,
			Steps:        chunk.Steps,
			EpisodeState: chunk.EpisodeState,
			ModelID:      chunk.ModelID,
		})
	}
	return resp, nil
}

// sortChunkIDs orders by episode id then numeric chunk id: the listing's
// lexicographic order would put chunk 10 before chunk 2.
func sortChunkIDs(ids []resourceid.ID) {
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Episode() != ids[j].Episode() {
			return ids[i].Episode() < ids[j].Episode()
		}
		ci, _ := ids[i].ChunkIndex()
		cj, _ := ids[j].ChunkIndex()
		return ci < cj
	})
}
