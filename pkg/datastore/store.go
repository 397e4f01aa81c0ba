// Package datastore layers typed resource records on the file store and
// couples chunk ingestion to learner wakeups through the assignment
// monitor.
package datastore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arcadia-ml/mimic/pkg/filestore"
	"github.com/arcadia-ml/mimic/pkg/models"
	"github.com/arcadia-ml/mimic/pkg/resourceid"
)

// ErrNotFound is returned when a resource does not exist.
var ErrNotFound = errors.New("resource not found")

// recordFile is the attribute file holding a resource's serialized record
// inside its path directory, so child collections can nest alongside it.
const recordFile = "record.json"

// Store persists one JSON record per resource at the path derived from its
// resource id.
type Store struct {
	fs *filestore.Store

	mu         sync.Mutex
	lastMicros int64
}

// New creates a store over fs.
func New(fs *filestore.Store) *Store {
	return &Store{fs: fs}
}

// FileStore exposes the underlying byte store.
func (s *Store) FileStore() *filestore.Store { return s.fs }

func recordPath(id resourceid.ID) string {
	return id.String() + "/" + recordFile
}

// nowMicros returns current UTC microseconds, forced monotone non-decreasing
// within this process so creation order is observable from timestamps.
func (s *Store) nowMicros() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC().UnixMicro()
	if now <= s.lastMicros {
		now = s.lastMicros + 1
	}
	s.lastMicros = now
	return now
}

// Write persists a resource at the path derived from its embedded ids,
// stamping created_micros on first write and preserving it on rewrites.
func (s *Store) Write(r models.Resource) error {
	id, err := r.ResourceID()
	if err != nil {
		return err
	}
	if r.Created() == 0 {
		if existing, err := s.fs.Read(recordPath(id)); err == nil {
			var prior struct {
				CreatedMicros int64 `json:"created_micros"`
			}
			if json.Unmarshal(existing, &prior) == nil && prior.CreatedMicros != 0 {
				r.SetCreated(prior.CreatedMicros)
			}
		}
	}
	if r.Created() == 0 {
		r.SetCreated(s.nowMicros())
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", id, err)
	}
	return s.fs.Write(recordPath(id), data)
}

// Read unmarshals the resource at id into a fresh T.
func Read[T any](s *Store, id resourceid.ID) (*T, error) {
	data, err := s.fs.Read(recordPath(id))
	if errors.Is(err, filestore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	r := new(T)
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("unmarshaling %s: %w", id, err)
	}
	return r, nil
}

// Exists reports whether a record exists at id.
func (s *Store) Exists(id resourceid.ID) bool {
	return s.fs.Exists(recordPath(id))
}

// Delete removes a resource and everything owned below it.
func (s *Store) Delete(id resourceid.ID) error {
	return s.fs.RemoveTree(id.String())
}

// List returns resource ids matching a glob-style id pattern ('*' per
// component, '{a,b}' alternation), ascending by id string. Paging is stable
// across calls with no intervening writes: the returned token is the id
// immediately after the last returned element, and passing it back resumes
// from that id.
func (s *Store) List(pattern string, pageSize int, pageToken string) ([]resourceid.ID, string, error) {
	paths, err := s.fs.Glob(pattern + "/" + recordFile)
	if err != nil {
		return nil, "", err
	}
	ids := make([]resourceid.ID, 0, len(paths))
	for _, p := range paths {
		idStr := strings.TrimSuffix(p, "/"+recordFile)
		id, err := resourceid.Parse(resourceid.Resources, idStr)
		if err != nil {
			continue // Unrelated file in the tree.
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	if pageToken != "" {
		start := sort.Search(len(ids), func(i int) bool {
			return ids[i].String() >= pageToken
		})
		ids = ids[start:]
	}
	next := ""
	if pageSize > 0 && len(ids) > pageSize {
		next = ids[pageSize].String()
		ids = ids[:pageSize]
	}
	return ids, next, nil
}

// GetMostRecentSnapshot returns the brain's newest snapshot by
// created_micros, ties broken by id string, or nil when the brain has none.
func (s *Store) GetMostRecentSnapshot(project, brain string) (*models.Snapshot, error) {
	pattern := fmt.Sprintf("projects/%s/brains/%s/snapshots/*", project, brain)
	ids, _, err := s.List(pattern, 0, "")
	if err != nil {
		return nil, err
	}
	var best *models.Snapshot
	for _, id := range ids {
		snap, err := Read[models.Snapshot](s, id)
		if err != nil {
			return nil, err
		}
		if best == nil || snap.CreatedMicros > best.CreatedMicros ||
			(snap.CreatedMicros == best.CreatedMicros && snap.SnapshotID > best.SnapshotID) {
			best = snap
		}
	}
	return best, nil
}

// Typed read conveniences for the hot paths.

func (s *Store) ReadProject(project string) (*models.Project, error) {
	id, err := resourceid.ForProject(project)
	if err != nil {
		return nil, err
	}
	return Read[models.Project](s, id)
}

func (s *Store) ReadBrain(project, brain string) (*models.Brain, error) {
	id, err := resourceid.ForBrain(project, brain)
	if err != nil {
		return nil, err
	}
	return Read[models.Brain](s, id)
}

func (s *Store) ReadSession(project, brain, session string) (*models.Session, error) {
	id, err := resourceid.ForSession(project, brain, session)
	if err != nil {
		return nil, err
	}
	return Read[models.Session](s, id)
}

func (s *Store) ReadChunk(project, brain, session, episode string, chunk int) (*models.EpisodeChunk, error) {
	id, err := resourceid.ForChunk(project, brain, session, episode, chunk)
	if err != nil {
		return nil, err
	}
	return Read[models.EpisodeChunk](s, id)
}

func (s *Store) ReadAssignment(project, brain, session, assignment string) (*models.Assignment, error) {
	id, err := resourceid.ForAssignment(project, brain, session, assignment)
	if err != nil {
		return nil, err
	}
	return Read[models.Assignment](s, id)
}

func (s *Store) ReadModel(project, brain, session, model string) (*models.Model, error) {
	id, err := resourceid.ForModel(project, brain, session, model)
	if err != nil {
		return nil, err
	}
	return Read[models.Model](s, id)
}

func (s *Store) ReadSnapshot(project, brain, snapshot string) (*models.Snapshot, error) {
	id, err := resourceid.ForSnapshot(project, brain, snapshot)
	if err != nil {
		return nil, err
	}
	return Read[models.Snapshot](s, id)
}
