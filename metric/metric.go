// Package metric defines the distance metrics usable across the memory and
// disk substrates, so a caller can pick the metric once at construction and
// have it threaded through both collaborators uniformly.
package metric

import (
	"errors"
	"math"

	"github.com/nilshell/hybridann/internal/mathx"
)

// Type selects the distance function a coordinator's substrates use to rank
// candidates. Persisted in the disk index's header so a reload uses the
// same metric the index was built with.
type Type uint32

const (
	// SquaredL2 ranks by squared Euclidean distance (the default).
	SquaredL2 Type = iota
	// Cosine ranks by 1 - cosine similarity, for direction-only comparisons.
	Cosine
)

// String returns a human-readable name, used in log fields.
func (t Type) String() string {
	switch t {
	case Cosine:
		return "cosine"
	default:
		return "squared_l2"
	}
}

// Distance computes the configured distance between a and b. Smaller is
// always closer, regardless of metric, so callers never branch on Type
// themselves.
func (t Type) Distance(a, b []float32) float32 {
	if t == Cosine {
		sim, err := CosineSimilarity(a, b)
		if err != nil {
			return float32(math.Inf(1))
		}
		return 1 - sim
	}
	return mathx.SquaredL2(a, b)
}

// Magnitude calculates the magnitude (length) of a float32 slice.
func Magnitude(v []float32) float32 {
	return mathx.Sqrt(mathx.Dot(v, v))
}

// CosineSimilarity calculates the cosine similarity between two float32 slices.
func CosineSimilarity(v1, v2 []float32) (float32, error) {
	// Check if the vector sizes match
	if len(v1) != len(v2) {
		return 0, errors.New("vector sizes do not match")
	}

	dotProduct := mathx.Dot(v1, v2)
	magnitudeA := Magnitude(v1)
	magnitudeB := Magnitude(v2)

	// Avoid division by zero
	if magnitudeA == 0 || magnitudeB == 0 {
		return 0, nil
	}

	return dotProduct / (magnitudeA * magnitudeB), nil
}

// SquaredL2Distance calculates the squared L2 distance between two float32 slices.
func SquaredL2Distance(v1, v2 []float32) (float32, error) {
	// Check if the vector sizes match
	if len(v1) != len(v2) {
		return 0, errors.New("vector sizes do not match")
	}

	return mathx.SquaredL2(v1, v2), nil
}
