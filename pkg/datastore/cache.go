package datastore

import (
	"fmt"
	"sync"

	"github.com/arcadia-ml/mimic/pkg/models"
)

// cacheLimit bounds each cache map; past it the map is dropped wholesale.
// The working set is tiny (one brain per active session), so a cheap reset
// beats per-entry eviction here.
const cacheLimit = 512

// Cache memoizes the read-mostly records the request path needs on every
// call: brains (immutable), session types (immutable) and starting
// snapshots (immutable). Session stop state is deliberately not cached.
type Cache struct {
	store *Store

	mu        sync.RWMutex
	brains    map[string]*models.Brain
	sessions  map[string]models.SessionType
	snapshots map[string]*models.Snapshot
}

// NewCache creates a cache in front of store.
func NewCache(store *Store) *Cache {
	return &Cache{
		store:     store,
		brains:    make(map[string]*models.Brain),
		sessions:  make(map[string]models.SessionType),
		snapshots: make(map[string]*models.Snapshot),
	}
}

// GetBrain returns the brain, reading through the cache.
func (c *Cache) GetBrain(project, brain string) (*models.Brain, error) {
	key := project + "/" + brain
	c.mu.RLock()
	cached, ok := c.brains[key]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}
	b, err := c.store.ReadBrain(project, brain)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if len(c.brains) >= cacheLimit {
		c.brains = make(map[string]*models.Brain)
	}
	c.brains[key] = b
	c.mu.Unlock()
	return b, nil
}

// GetBrainSpec returns the brain's spec, reading through the cache.
func (c *Cache) GetBrainSpec(project, brain string) (models.BrainSpec, error) {
	b, err := c.GetBrain(project, brain)
	if err != nil {
		return models.BrainSpec{}, err
	}
	return b.BrainSpec, nil
}

// GetSessionType returns the immutable type of a session.
func (c *Cache) GetSessionType(project, brain, session string) (models.SessionType, error) {
	key := project + "/" + brain + "/" + session
	c.mu.RLock()
	cached, ok := c.sessions[key]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}
	s, err := c.store.ReadSession(project, brain, session)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	if len(c.sessions) >= cacheLimit {
		c.sessions = make(map[string]models.SessionType)
	}
	c.sessions[key] = s.SessionType
	c.mu.Unlock()
	return s.SessionType, nil
}

// GetStartingSnapshot returns the session's single starting snapshot.
func (c *Cache) GetStartingSnapshot(project, brain, session string) (*models.Snapshot, error) {
	key := project + "/" + brain + "/" + session
	c.mu.RLock()
	cached, ok := c.snapshots[key]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}
	s, err := c.store.ReadSession(project, brain, session)
	if err != nil {
		return nil, err
	}
	if len(s.StartingSnapshotIDs) != 1 {
		return nil, fmt.Errorf("session %s requires exactly 1 starting snapshot, got %d",
			session, len(s.StartingSnapshotIDs))
	}
	snap, err := c.store.ReadSnapshot(project, brain, s.StartingSnapshotIDs[0])
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if len(c.snapshots) >= cacheLimit {
		c.snapshots = make(map[string]*models.Snapshot)
	}
	c.snapshots[key] = snap
	c.mu.Unlock()
	return snap, nil
}

// Invalidate drops any cached state for a brain or session key. Writers
// call it after mutating a record the cache may hold.
func (c *Cache) Invalidate(keyParts ...string) {
	key := ""
	for i, p := range keyParts {
		if i > 0 {
			key += "/"
		}
		key += p
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.brains, key)
	delete(c.sessions, key)
	delete(c.snapshots, key)
}
