package hybridann

import (
	"context"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A fresh, empty index (no pre-existing disk index, no inserts) returns
// k padding slots (label=0, dist=+Inf).
func TestScenarioFreshEmptyIndex(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t, 8, 20)

	results, err := ix.Search(ctx, make([]float32, 8), 5, 20)
	require.NoError(t, err)
	require.Len(t, results, 5)
	for _, r := range results {
		assert.Equal(t, uint64(0), r.Label)
		assert.True(t, math.IsInf(float64(r.Distance), 1))
	}
}

// Insert-search-delete cycle.
func TestScenarioInsertSearchDeleteCycle(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t, 8, 1000)
	rng := rand.New(rand.NewSource(22))
	v0 := randVec(rng, 8)

	require.NoError(t, ix.Insert(ctx, 100000, v0))

	results, err := ix.Search(ctx, v0, 5, 20)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, uint64(100000), results[0].Label)
	assert.Less(t, results[0].Distance, float32(1e-5))

	require.NoError(t, ix.Remove(100000))

	results, err = ix.Search(ctx, v0, 5, 20)
	require.NoError(t, err)
	assert.False(t, labelsOf(results)[100000])
}

// Crossing the memory-index threshold fires exactly one automatic merge,
// folding the full batch into the disk index.
func TestScenarioMergeTrigger(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	collector := &BasicMetricsCollector{}
	ix, err := New(
		filepath.Join(dir, "corpus.data"),
		filepath.Join(dir, "corpus_disk"),
		WithDimension(8),
		WithMemThreshold(50),
		WithMaxDegree(8),
		WithMetricsCollector(collector),
	)
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })

	rng := rand.New(rand.NewSource(33))
	vecs := make(map[uint64][]float32, 60)
	for i := 0; i < 60; i++ {
		label := uint64(1_000_000 + i)
		v := randVec(rng, 8)
		vecs[label] = v
		require.NoError(t, ix.Insert(ctx, label, v))
	}

	stats := collector.GetStats()
	assert.Equal(t, int64(1), stats.MergeCount, "exactly one merge should have fired")

	assert.Equal(t, 0, ix.mem.NumPoints())
	require.NotNil(t, ix.disk)
	assert.Equal(t, 60, ix.disk.NumPoints())

	hits := 0
	for label, v := range vecs {
		results, err := ix.Search(ctx, v, 1, 50)
		require.NoError(t, err)
		if len(results) > 0 && results[0].Label == label {
			hits++
		}
	}
	assert.GreaterOrEqual(t, float64(hits)/60.0, 0.95)
}

// Delete a disk-resident label, confirm it's masked, then resurrect it
// pointing at a new vector.
func TestScenarioDeleteAcrossSubstrates(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t, 8, 5)
	rng := rand.New(rand.NewSource(44))

	for i := 0; i < 5; i++ {
		require.NoError(t, ix.Insert(ctx, uint64(2000+i), randVec(rng, 8)))
	}
	require.NotNil(t, ix.disk, "threshold-triggered merge should have populated the disk index")

	target := uint64(2002)
	require.NoError(t, ix.Remove(target))

	results, err := ix.Search(ctx, make([]float32, 8), 5, 20)
	require.NoError(t, err)
	assert.False(t, labelsOf(results)[target])

	vNew := randVec(rng, 8)
	require.NoError(t, ix.Insert(ctx, target, vNew))

	results, err = ix.Search(ctx, vNew, 1, 20)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, target, results[0].Label)
}

// Multi-merge churn: repeated inserts trigger several merges; deleted
// labels never resurface and most fresh labels remain retrievable.
func TestScenarioMultiMergeChurn(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t, 8, 50)
	rng := rand.New(rand.NewSource(55))

	labels := make([]uint64, 500)
	vecs := make([][]float32, 500)
	for i := 0; i < 500; i++ {
		labels[i] = uint64(i)
		vecs[i] = randVec(rng, 8)
		require.NoError(t, ix.Insert(ctx, labels[i], vecs[i]))
	}

	for i := 0; i < 100; i++ {
		require.NoError(t, ix.Remove(labels[i]))
	}

	freshLabels := make([]uint64, 100)
	freshVecs := make([][]float32, 100)
	for i := 0; i < 100; i++ {
		freshLabels[i] = uint64(10_000 + i)
		freshVecs[i] = randVec(rng, 8)
		require.NoError(t, ix.Insert(ctx, freshLabels[i], freshVecs[i]))
	}

	for i := 0; i < 100; i++ {
		results, err := ix.Search(ctx, vecs[i], 5, 50)
		require.NoError(t, err)
		assert.False(t, labelsOf(results)[labels[i]])
	}

	hits := 0
	for i, label := range freshLabels {
		results, err := ix.Search(ctx, freshVecs[i], 1, 50)
		require.NoError(t, err)
		if len(results) > 0 && results[0].Label == label {
			hits++
		}
	}
	assert.GreaterOrEqual(t, float64(hits)/100.0, 0.95)
}

// A RAM-budget-derived threshold is a small positive integer, and the
// index survives inserting past it without crashing.
func TestScenarioBudgetDerivedThreshold(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ix, err := New(
		filepath.Join(dir, "corpus.data"),
		filepath.Join(dir, "corpus_disk"),
		WithDimension(8),
		WithMemThreshold(0),
		WithRAMBudgetGB(0.00005),
		WithMaxDegree(8),
	)
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })

	assert.Greater(t, ix.threshold, 0)

	rng := rand.New(rand.NewSource(66))
	for i := 0; i < 100; i++ {
		require.NoError(t, ix.Insert(ctx, uint64(i), randVec(rng, 8)))
	}
}
