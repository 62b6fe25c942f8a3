package memindex

import (
	"context"
	"encoding/binary"
	"math/rand"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nilshell/hybridann/metric"
)

func readTagsFileForTest(path string) ([]uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var n, width int32
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if err := binary.Read(f, binary.LittleEndian, &width); err != nil {
		return nil, err
	}
	labels := make([]uint64, n)
	if err := binary.Read(f, binary.LittleEndian, labels); err != nil {
		return nil, err
	}
	return labels, nil
}

func randomVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = rng.Float32()
	}
	return v
}

func TestInsertSearchFindsSelf(t *testing.T) {
	ix := New(8, 8, metric.SquaredL2)
	rng := rand.New(rand.NewSource(42))

	var target []float32
	for label := uint64(1); label <= 50; label++ {
		v := randomVector(rng, 8)
		if label == 25 {
			target = v
		}
		require.NoError(t, ix.Insert(context.Background(), label, v))
	}

	results, err := ix.SearchWithTags(context.Background(), target, 5, 50)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, uint64(25), results[0].Label)
	assert.InDelta(t, 0, results[0].Distance, 1e-6)
}

func TestLazyDeleteHidesLabel(t *testing.T) {
	ix := New(4, 8, metric.SquaredL2)
	ctx := context.Background()
	v := []float32{1, 0, 0, 0}
	require.NoError(t, ix.Insert(ctx, 100, v))
	require.NoError(t, ix.Insert(ctx, 101, []float32{0, 1, 0, 0}))

	require.NoError(t, ix.LazyDelete(100))
	assert.Error(t, ix.LazyDelete(100)) // already gone: DeleteMiss

	results, err := ix.SearchWithTags(ctx, v, 5, 20)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, uint64(100), r.Label)
	}
	assert.Equal(t, 1, ix.NumPoints())
}

func TestResurrection(t *testing.T) {
	ix := New(2, 8, metric.SquaredL2)
	ctx := context.Background()
	require.NoError(t, ix.Insert(ctx, 7, []float32{1, 0}))
	require.NoError(t, ix.LazyDelete(7))
	require.NoError(t, ix.Insert(ctx, 7, []float32{0, 1}))

	results, err := ix.SearchWithTags(ctx, []float32{0, 1}, 1, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(7), results[0].Label)
}

func TestSaveWritesOnlyLivePoints(t *testing.T) {
	ix := New(2, 4, metric.SquaredL2)
	ctx := context.Background()
	require.NoError(t, ix.Insert(ctx, 1, []float32{1, 1}))
	require.NoError(t, ix.Insert(ctx, 2, []float32{2, 2}))
	require.NoError(t, ix.LazyDelete(1))
	ix.ConsolidateDeletes()

	dir := t.TempDir()
	prefix := dir + "/snap"
	require.NoError(t, ix.Save(prefix, true))

	labels, err := readTagsFileForTest(prefix + ".tags")
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, labels)
}
