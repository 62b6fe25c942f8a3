package diskindex

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nilshell/hybridann/apitypes"
	"github.com/nilshell/hybridann/metric"
)

func randomVectors(rng *rand.Rand, n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()
		}
		out[i] = v
	}
	return out
}

func TestBuildLoadRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	dim := 16
	vectors := randomVectors(rng, 64, dim)

	b := NewBuilder(dim, 8, metric.SquaredL2)
	for i, v := range vectors {
		b.Add(v, uint64(1000+i))
	}

	prefix := t.TempDir() + "/disk"
	require.NoError(t, b.Build(context.Background(), prefix))

	ix, err := Load(prefix)
	require.NoError(t, err)
	defer ix.Close()

	assert.Equal(t, 64, ix.NumPoints())

	label, err := ix.GetLabel(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), label)

	results, err := ix.BeamSearch(context.Background(), vectors[10], 5, 64, 4, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, uint64(1010), mustLabel(t, ix, results[0].ID))
}

func TestBeamSearchRespectsMask(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	dim := 8
	vectors := randomVectors(rng, 32, dim)

	b := NewBuilder(dim, 6, metric.SquaredL2)
	for i, v := range vectors {
		b.Add(v, uint64(i))
	}

	prefix := t.TempDir() + "/disk"
	require.NoError(t, b.Build(context.Background(), prefix))

	ix, err := Load(prefix)
	require.NoError(t, err)
	defer ix.Close()

	mask := maskSet{5: true}
	results, err := ix.BeamSearch(context.Background(), vectors[5], 10, 32, 4, mask)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, uint32(5), r.ID)
	}
}

func TestLoadMissingIndexIsNotExist(t *testing.T) {
	_, err := Load(t.TempDir() + "/missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

type maskSet map[uint32]bool

func (m maskSet) Contains(id uint32) bool { return m[id] }

var _ apitypes.DiskIDSet = maskSet{}

func mustLabel(t *testing.T, ix *Index, id uint32) uint64 {
	t.Helper()
	label, err := ix.GetLabel(id)
	require.NoError(t, err)
	return label
}
