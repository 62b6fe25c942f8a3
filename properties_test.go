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

func newTestIndex(t *testing.T, dim int, threshold int) *Index {
	t.Helper()
	dir := t.TempDir()
	ix, err := New(
		filepath.Join(dir, "corpus.data"),
		filepath.Join(dir, "corpus_disk"),
		WithDimension(dim),
		WithMemThreshold(threshold),
		WithMaxDegree(8),
	)
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	return ix
}

func randVec(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = rng.Float32()
	}
	return v
}

func labelsOf(results []SearchResult) map[uint64]bool {
	out := make(map[uint64]bool, len(results))
	for _, r := range results {
		out[r.Label] = true
	}
	return out
}

// A removed label must be absent from every subsequent search until a
// fresh insert under that label succeeds.
func TestPropertyRemoveExcludesFromSearch(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t, 8, 1000)
	rng := rand.New(rand.NewSource(1))
	v := randVec(rng, 8)

	require.NoError(t, ix.Insert(ctx, 42, v))
	require.NoError(t, ix.Remove(42))

	results, err := ix.Search(ctx, v, 5, 50)
	require.NoError(t, err)
	assert.False(t, labelsOf(results)[42])
}

// Searching with a just-inserted vector as the query should return its own
// label at rank 0 with distance approximately 0.
func TestPropertySelfQueryReturnsRankZero(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t, 8, 1000)
	rng := rand.New(rand.NewSource(2))
	v := randVec(rng, 8)

	require.NoError(t, ix.Insert(ctx, 7, v))

	results, err := ix.Search(ctx, v, 1, 50)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, uint64(7), results[0].Label)
	assert.InDelta(t, 0, results[0].Distance, 1e-4)
}

// Returned labels must have no duplicates.
func TestPropertyNoDuplicateLabels(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t, 8, 1000)
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 20; i++ {
		require.NoError(t, ix.Insert(ctx, uint64(i), randVec(rng, 8)))
	}

	results, err := ix.Search(ctx, randVec(rng, 8), 10, 50)
	require.NoError(t, err)

	seen := make(map[uint64]bool)
	for _, r := range results {
		if r.Label == 0 {
			continue // padding slot, not a real duplicate
		}
		assert.False(t, seen[r.Label], "duplicate label %d", r.Label)
		seen[r.Label] = true
	}
}

// A deleted label must never appear among returned labels. Labels start at
// 1 because label 0 marks Search's padding slots.
func TestPropertyDeletedLabelsNeverReturned(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t, 8, 1000)
	rng := rand.New(rand.NewSource(4))
	vecs := make([][]float32, 30)
	for i := range vecs {
		vecs[i] = randVec(rng, 8)
		require.NoError(t, ix.Insert(ctx, uint64(i+1), vecs[i]))
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, ix.Remove(uint64(i+1)))
	}

	results, err := ix.Search(ctx, vecs[0], 30, 100)
	require.NoError(t, err)
	got := labelsOf(results)
	for i := 0; i < 10; i++ {
		assert.False(t, got[uint64(i+1)])
	}
}

// The labels sidecar after a merge must have exactly as many lines as the
// disk index has points.
func TestPropertyLabelsFileLineCountMatchesDiskPoints(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t, 8, 5)
	rng := rand.New(rand.NewSource(6))
	for i := 0; i < 5; i++ {
		require.NoError(t, ix.Insert(ctx, uint64(1000+i), randVec(rng, 8)))
	}
	require.NoError(t, ix.Merge(ctx))

	require.NotNil(t, ix.disk)
	labelMap, err := LoadLabelIDMapFromFile(ix.diskIndexPrefix + "_labels.txt")
	require.NoError(t, err)
	assert.Equal(t, ix.disk.NumPoints(), labelMap.Len())
}

// Resurrection round-trip: insert, remove, re-insert under the same label
// with a new vector, then search returns the label at rank 0.
func TestPropertyResurrection(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t, 8, 1000)
	rng := rand.New(rand.NewSource(7))
	v1 := randVec(rng, 8)
	v2 := randVec(rng, 8)

	require.NoError(t, ix.Insert(ctx, 99, v1))
	require.NoError(t, ix.Remove(99))
	require.NoError(t, ix.Insert(ctx, 99, v2))

	results, err := ix.Search(ctx, v2, 1, 50)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, uint64(99), results[0].Label)
}

// Padding slots for a short result set use +Inf distance, never NaN.
func TestPropertyPaddingDistanceIsInfNotNaN(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t, 8, 1000)
	results, err := ix.Search(ctx, make([]float32, 8), 5, 20)
	require.NoError(t, err)
	require.Len(t, results, 5)
	for _, r := range results {
		assert.False(t, math.IsNaN(float64(r.Distance)))
		assert.True(t, math.IsInf(float64(r.Distance), 1))
	}
}
