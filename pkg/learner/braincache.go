package learner

import (
	"container/list"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/arcadia-ml/mimic/pkg/models"
)

// DefaultBrainCacheSize is the default number of warm trainers kept.
const DefaultBrainCacheSize = 8

// BrainCache is a bounded LRU of warm trainer instances keyed by the
// canonical string of (brain spec, hyperparameters). Creating a trainer is
// expensive; rebinding a cached one to new paths is not.
type BrainCache struct {
	factory TrainerFactory
	size    int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // Front is most recently used.
}

type cacheEntry struct {
	key     string
	trainer Trainer
}

// NewBrainCache creates a cache of at most size trainers built by factory.
func NewBrainCache(factory TrainerFactory, size int) *BrainCache {
	if size <= 0 {
		size = DefaultBrainCacheSize
	}
	return &BrainCache{
		factory: factory,
		size:    size,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func cacheKey(spec models.BrainSpec, hparams models.Hyperparameters) string {
	raw, _ := json.Marshal(spec)
	return string(raw) + hparams.CanonicalID()
}

// GetOrCreate returns a trainer for (spec, hparams), reusing a cached one
// when available. A cache hit is rebound to the given paths, its agent
// weights reinitialized and its step buffers cleared. The returned
// hyperparameters are the trainer's effective, post-validation set.
func (c *BrainCache) GetOrCreate(spec models.BrainSpec, hparams models.Hyperparameters,
	checkpointPath, summaryPath string) (Trainer, models.Hyperparameters, error) {
	key := cacheKey(spec, hparams)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		slog.Info("Reusing cached trainer", "assignment_id", hparams.CanonicalID())
		entry.trainer.SetPaths(checkpointPath, summaryPath)
		if err := entry.trainer.ReinitializeAgent(); err != nil {
			return nil, models.Hyperparameters{}, err
		}
		entry.trainer.ClearStepBuffers()
		c.order.MoveToFront(elem)
		return entry.trainer, entry.trainer.Hyperparameters(), nil
	}

	if c.order.Len() >= c.size {
		lru := c.order.Back()
		if lru != nil {
			evicted := c.order.Remove(lru).(*cacheEntry)
			delete(c.entries, evicted.key)
			slog.Info("Evicted least recently used trainer")
		}
	}

	slog.Info("Creating trainer", "assignment_id", hparams.CanonicalID())
	trainer, err := c.factory(spec, hparams, checkpointPath, summaryPath, true)
	if err != nil {
		return nil, models.Hyperparameters{}, err
	}
	elem := c.order.PushFront(&cacheEntry{key: key, trainer: trainer})
	c.entries[key] = elem
	return trainer, trainer.Hyperparameters(), nil
}

// Contains reports whether a trainer for (spec, hparams) is cached.
func (c *BrainCache) Contains(spec models.BrainSpec, hparams models.Hyperparameters) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[cacheKey(spec, hparams)]
	return ok
}

// Len returns the number of cached trainers.
func (c *BrainCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
