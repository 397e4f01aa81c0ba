package learner

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcadia-ml/mimic/pkg/models"
)

func specWithActionName(name string) models.BrainSpec {
	spec := testBrainSpec()
	spec.ActionSpec.Actions[0].Name = name
	return spec
}

func TestBrainCacheReusesTrainer(t *testing.T) {
	created := 0
	factory := func(spec models.BrainSpec, h models.Hyperparameters,
		ckpt, summary string, compile bool) (Trainer, error) {
		created++
		return NewLinearTrainer(spec, h, ckpt, summary, compile)
	}
	cache := NewBrainCache(factory, 2)
	hp := testHyperparameters()

	first, _, err := cache.GetOrCreate(testBrainSpec(), hp, t.TempDir(), "")
	require.NoError(t, err)
	second, _, err := cache.GetOrCreate(testBrainSpec(), hp, t.TempDir(), "")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, created)
}

func TestBrainCacheEvictsLRU(t *testing.T) {
	cache := NewBrainCache(NewLinearTrainer, 2)
	hp := testHyperparameters()

	specA := specWithActionName("a")
	specB := specWithActionName("b")
	specC := specWithActionName("c")

	_, _, err := cache.GetOrCreate(specA, hp, t.TempDir(), "")
	require.NoError(t, err)
	_, _, err = cache.GetOrCreate(specB, hp, t.TempDir(), "")
	require.NoError(t, err)

	// Touch A so B becomes least recently used.
	_, _, err = cache.GetOrCreate(specA, hp, t.TempDir(), "")
	require.NoError(t, err)

	_, _, err = cache.GetOrCreate(specC, hp, t.TempDir(), "")
	require.NoError(t, err)

	assert.True(t, cache.Contains(specA, hp))
	assert.False(t, cache.Contains(specB, hp), "LRU entry must be evicted")
	assert.True(t, cache.Contains(specC, hp))
	assert.Equal(t, 2, cache.Len())
}

func TestBrainCacheDistinguishesHyperparameters(t *testing.T) {
	cache := NewBrainCache(NewLinearTrainer, 4)
	h1 := testHyperparameters()
	h2 := testHyperparameters()
	h2.BatchSize = h1.BatchSize * 2

	t1, eff1, err := cache.GetOrCreate(testBrainSpec(), h1, t.TempDir(), "")
	require.NoError(t, err)
	t2, eff2, err := cache.GetOrCreate(testBrainSpec(), h2, t.TempDir(), "")
	require.NoError(t, err)

	assert.NotSame(t, t1, t2)
	assert.NotEqual(t, eff1.CanonicalID(), eff2.CanonicalID())
	assert.Equal(t, 2, cache.Len())
}

func TestBrainCacheHitClearsBuffers(t *testing.T) {
	cache := NewBrainCache(NewLinearTrainer, 2)
	hp := testHyperparameters()
	hp.EvalFraction = 0 // Route every frame into the demonstration buffer.

	trainer, _, err := cache.GetOrCreate(testBrainSpec(), hp, t.TempDir(), "")
	require.NoError(t, err)
	require.NoError(t, trainer.AddDemonstration(testChunk("e0", 0, 8, models.EpisodeInProgress)))
	_, _, err = trainer.TrainStep()
	require.NoError(t, err)

	reused, _, err := cache.GetOrCreate(testBrainSpec(), hp, t.TempDir(), "")
	require.NoError(t, err)
	require.Same(t, trainer, reused)
	_, _, err = reused.TrainStep()
	assert.ErrorIs(t, err, ErrEmptyBuffer, "cache hit must clear step buffers")
}

func TestBrainCacheFactoryError(t *testing.T) {
	factory := func(models.BrainSpec, models.Hyperparameters, string, string, bool) (Trainer, error) {
		return nil, fmt.Errorf("boom")
	}
	cache := NewBrainCache(factory, 2)
	_, _, err := cache.GetOrCreate(testBrainSpec(), testHyperparameters(), t.TempDir(), "")
	assert.Error(t, err)
	assert.Zero(t, cache.Len())
}
