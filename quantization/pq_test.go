package quantization

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomUnitVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}
	var norm float32
	for _, x := range v {
		norm += x * x
	}
	if norm > 0 {
		inv := 1 / float32(math.Sqrt(float64(norm)))
		for i := range v {
			v[i] *= inv
		}
	}
	return v
}

func TestProductQuantizerTrainEncodeDecode(t *testing.T) {
	const (
		dim = 128
		n   = 1000
		m   = 8
		k   = 256
	)
	rng := rand.New(rand.NewSource(1))

	pq, err := NewProductQuantizer(dim, m, k)
	require.NoError(t, err)

	training := make([][]float32, n)
	for i := range training {
		training[i] = randomUnitVector(rng, dim)
	}
	require.NoError(t, pq.Train(training))
	assert.True(t, pq.IsTrained())

	probe := randomUnitVector(rng, dim)
	codes := pq.Encode(probe)
	require.Len(t, codes, m)

	reconstructed := pq.Decode(codes)
	require.Len(t, reconstructed, dim)

	var mse float32
	for i := range probe {
		diff := probe[i] - reconstructed[i]
		mse += diff * diff
	}
	mse /= float32(dim)
	assert.Lessf(t, mse, float32(0.5), "reconstruction error too high: %f", mse)

	wantRatio := float64(dim*4) / float64(m)
	assert.InDelta(t, wantRatio, pq.CompressionRatio(), 0.01)
	assert.Equal(t, m, pq.BytesPerVector())
}

func TestProductQuantizerAdcMatchesFullDistance(t *testing.T) {
	const (
		dim = 64
		n   = 500
		m   = 8
		k   = 256
	)
	rng := rand.New(rand.NewSource(2))

	pq, err := NewProductQuantizer(dim, m, k)
	require.NoError(t, err)

	training := make([][]float32, n)
	for i := range training {
		training[i] = randomUnitVector(rng, dim)
	}
	require.NoError(t, pq.Train(training))

	query := randomUnitVector(rng, dim)
	target := randomUnitVector(rng, dim)
	codes := pq.Encode(target)

	adc := pq.ComputeAsymmetricDistance(query, codes)

	table := pq.BuildDistanceTable(query)
	lookup := pq.AdcDistance(table, codes)
	assert.InDelta(t, adc, lookup, 1e-4, "ADC-via-table should match ADC computed directly")

	decoded := pq.Decode(codes)
	var full float32
	for i := range query {
		diff := query[i] - decoded[i]
		full += diff * diff
	}
	assert.InDelta(t, adc, full, 1e-3, "ADC should equal distance to the decoded centroid")
}

func TestProductQuantizerRejectsBadParameters(t *testing.T) {
	_, err := NewProductQuantizer(100, 7, 256)
	assert.Error(t, err, "100 is not divisible by 7 subspaces")

	_, err = NewProductQuantizer(128, 8, 300)
	assert.Error(t, err, "300 centroids can't fit a byte code")
}

func TestProductQuantizerPanicsBeforeTrain(t *testing.T) {
	pq, err := NewProductQuantizer(32, 4, 16)
	require.NoError(t, err)

	assert.Panics(t, func() { pq.Encode(make([]float32, 32)) })
	assert.Panics(t, func() { pq.Decode(make([]byte, 4)) })
}

func BenchmarkProductQuantizerEncode(b *testing.B) {
	const dim, m, k = 128, 8, 256
	rng := rand.New(rand.NewSource(3))

	pq, _ := NewProductQuantizer(dim, m, k)
	training := make([][]float32, 1000)
	for i := range training {
		training[i] = randomUnitVector(rng, dim)
	}
	_ = pq.Train(training)

	probe := randomUnitVector(rng, dim)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = pq.Encode(probe)
	}
}

func BenchmarkProductQuantizerAdcDistance(b *testing.B) {
	const dim, m, k = 128, 8, 256
	rng := rand.New(rand.NewSource(4))

	pq, _ := NewProductQuantizer(dim, m, k)
	training := make([][]float32, 1000)
	for i := range training {
		training[i] = randomUnitVector(rng, dim)
	}
	_ = pq.Train(training)

	query := randomUnitVector(rng, dim)
	codes := pq.Encode(randomUnitVector(rng, dim))
	table := pq.BuildDistanceTable(query)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = pq.AdcDistance(table, codes)
	}
}
