package metric

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSquaredL2Distance(t *testing.T) {
	d := SquaredL2.Distance([]float32{0, 0}, []float32{3, 4})
	assert.InDelta(t, 25, d, 1e-6)
}

func TestCosineDistanceIdenticalVectorsIsZero(t *testing.T) {
	v := []float32{1, 2, 3}
	d := Cosine.Distance(v, v)
	assert.InDelta(t, 0, d, 1e-6)
}

func TestCosineDistanceOrthogonalIsOne(t *testing.T) {
	d := Cosine.Distance([]float32{1, 0}, []float32{0, 1})
	assert.InDelta(t, 1, d, 1e-6)
}

func TestCosineSimilarityMismatchedLengths(t *testing.T) {
	_, err := CosineSimilarity([]float32{1}, []float32{1, 2})
	assert.Error(t, err)
}

func TestCosineDistanceZeroVectorIsNotNaN(t *testing.T) {
	d := Cosine.Distance([]float32{0, 0}, []float32{0, 0})
	assert.False(t, math.IsNaN(float64(d)))
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "squared_l2", SquaredL2.String())
	assert.Equal(t, "cosine", Cosine.String())
}
