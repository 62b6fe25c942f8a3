// Package quantization implements product quantization: splitting a vector
// into fixed-width subspaces and replacing each subspace with the index of
// its nearest centroid in a per-subspace codebook. A dim-float32 vector
// becomes m single-byte codes, trading exact distances for a fixed,
// small per-vector footprint and fast asymmetric (query-vs-code) distance
// computation.
package quantization

import (
	"errors"
	"math"
	"math/rand"

	"github.com/nilshell/hybridann/internal/mathx"
)

// maxCentroids is the ceiling on centroids per subspace imposed by encoding
// each subspace as a single byte.
const maxCentroids = 256

// ProductQuantizer holds one trained codebook per subspace of a fixed vector
// dimension. Zero value is not usable; construct with NewProductQuantizer.
type ProductQuantizer struct {
	m      int // subspace count
	k      int // centroids per subspace
	dim    int // full vector dimension
	subDim int // dim / m

	codebooks [][][]float32 // [m][k][subDim]
	trained   bool
}

// NewProductQuantizer builds a quantizer for vectors of the given dim, split
// into m equal-width subspaces of k centroids each. dim must be divisible by
// m, and k must fit in a byte code (<= 256).
func NewProductQuantizer(dim, m, k int) (*ProductQuantizer, error) {
	if dim%m != 0 {
		return nil, errors.New("quantization: dim must be divisible by m")
	}
	if k > maxCentroids {
		return nil, errors.New("quantization: k must be <= 256 to fit a byte code")
	}

	return &ProductQuantizer{
		m:         m,
		k:         k,
		dim:       dim,
		subDim:    dim / m,
		codebooks: make([][][]float32, m),
	}, nil
}

// Train fits one codebook per subspace against vectors via k-means. Must run
// before Encode/Decode/BuildDistanceTable.
func (pq *ProductQuantizer) Train(vectors [][]float32) error {
	if len(vectors) == 0 {
		return errors.New("quantization: no training vectors")
	}
	if len(vectors[0]) != pq.dim {
		return errors.New("quantization: training vector dimension mismatch")
	}

	for sub := 0; sub < pq.m; sub++ {
		pq.codebooks[sub] = trainSubspace(subspaceView(vectors, sub, pq.subDim), pq.k, 20)
	}

	pq.trained = true
	return nil
}

// subspaceView slices out subspace sub from every row, without copying the
// underlying backing arrays.
func subspaceView(vectors [][]float32, sub, subDim int) [][]float32 {
	start := sub * subDim
	views := make([][]float32, len(vectors))
	for i, v := range vectors {
		views[i] = v[start : start+subDim]
	}
	return views
}

// Encode quantizes vec into m byte codes, one nearest-centroid index per
// subspace.
func (pq *ProductQuantizer) Encode(vec []float32) []byte {
	if !pq.trained {
		panic("quantization: encode before train")
	}
	if len(vec) != pq.dim {
		panic("quantization: vector dimension mismatch")
	}

	codes := make([]byte, pq.m)
	for sub := 0; sub < pq.m; sub++ {
		start := sub * pq.subDim
		codes[sub] = byte(nearestCentroid(vec[start:start+pq.subDim], pq.codebooks[sub]))
	}
	return codes
}

// Decode reconstructs an approximate vector by concatenating each subspace's
// chosen centroid. Lossy: the inverse of Encode only up to quantization error.
func (pq *ProductQuantizer) Decode(codes []byte) []float32 {
	if !pq.trained {
		panic("quantization: decode before train")
	}
	if len(codes) != pq.m {
		panic("quantization: code length mismatch")
	}

	out := make([]float32, pq.dim)
	for sub, code := range codes {
		start := sub * pq.subDim
		copy(out[start:start+pq.subDim], pq.codebooks[sub][code])
	}
	return out
}

// ComputeAsymmetricDistance returns the squared L2 distance between a
// full-precision query and a quantized vector (asymmetric distance
// computation, ADC): each subspace contributes the squared distance from the
// query's slice to the centroid the code names, summed across subspaces.
// Avoids ever materializing the reconstructed vector.
func (pq *ProductQuantizer) ComputeAsymmetricDistance(query []float32, codes []byte) float32 {
	if !pq.trained {
		panic("quantization: distance before train")
	}

	var total float32
	for sub, code := range codes {
		start := sub * pq.subDim
		total += mathx.SquaredL2(query[start:start+pq.subDim], pq.codebooks[sub][code])
	}
	return total
}

// BytesPerVector is the encoded size: one byte per subspace.
func (pq *ProductQuantizer) BytesPerVector() int { return pq.m }

// CompressionRatio is the ratio of the original float32 footprint to the
// encoded footprint.
func (pq *ProductQuantizer) CompressionRatio() float64 {
	return float64(pq.dim*4) / float64(pq.m)
}

// trainSubspace clusters subvectors (all drawn from the same subspace) into
// k centroids: a k-means++ seeding pass followed by bounded Lloyd refinement.
func trainSubspace(subvectors [][]float32, k, maxIters int) [][]float32 {
	if len(subvectors) < k {
		return padCentroids(subvectors, k)
	}
	centroids := seedKMeansPlusPlus(subvectors, k)
	refineLloyd(subvectors, centroids, maxIters)
	return centroids
}

// padCentroids handles the degenerate case of fewer training points than
// requested centroids by cycling through the available points.
func padCentroids(subvectors [][]float32, k int) [][]float32 {
	dim := len(subvectors[0])
	centroids := make([][]float32, k)
	for i := range centroids {
		centroids[i] = make([]float32, dim)
		copy(centroids[i], subvectors[i%len(subvectors)])
	}
	return centroids
}

// seedKMeansPlusPlus picks k initial centroids from subvectors via k-means++:
// the first uniformly at random, each subsequent one sampled with probability
// proportional to its squared distance from the nearest centroid chosen so
// far, so seeds spread out across the data rather than clumping.
func seedKMeansPlusPlus(subvectors [][]float32, k int) [][]float32 {
	dim := len(subvectors[0])
	centroids := make([][]float32, k)
	for i := range centroids {
		centroids[i] = make([]float32, dim)
	}
	copy(centroids[0], subvectors[rand.Intn(len(subvectors))])

	minDistSq := make([]float32, len(subvectors))
	var sum float32
	for i, v := range subvectors {
		d := mathx.SquaredL2(v, centroids[0])
		minDistSq[i] = d
		sum += d
	}

	for c := 1; c < k; c++ {
		if sum == 0 {
			copy(centroids[c], subvectors[rand.Intn(len(subvectors))])
			continue
		}

		target := rand.Float32() * sum
		chosen := 0
		var cumsum float32
		for i, d := range minDistSq {
			cumsum += d
			if cumsum >= target {
				chosen = i
				break
			}
		}
		copy(centroids[c], subvectors[chosen])

		sum = 0
		for i, v := range subvectors {
			d := mathx.SquaredL2(v, centroids[c])
			if d < minDistSq[i] {
				minDistSq[i] = d
			}
			sum += minDistSq[i]
		}
	}

	return centroids
}

// refineLloyd runs up to maxIters assign/update rounds of Lloyd's algorithm
// over centroids in place, stopping early once no point changes cluster.
func refineLloyd(subvectors [][]float32, centroids [][]float32, maxIters int) {
	dim := len(centroids[0])
	k := len(centroids)
	assignments := make([]int, len(subvectors))

	for iter := 0; iter < maxIters; iter++ {
		changed := false
		for i, v := range subvectors {
			nearest := nearestCentroid(v, centroids)
			if assignments[i] != nearest {
				assignments[i] = nearest
				changed = true
			}
		}
		if !changed {
			return
		}

		counts := make([]int, k)
		sums := make([][]float32, k)
		for i := range sums {
			sums[i] = make([]float32, dim)
		}
		for i, v := range subvectors {
			c := assignments[i]
			counts[c]++
			for j, x := range v {
				sums[c][j] += x
			}
		}

		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			for j := range centroids[c] {
				centroids[c][j] = sums[c][j] / float32(counts[c])
			}
		}
	}
}

// nearestCentroid returns the index of the centroid closest to v by squared
// L2 distance.
func nearestCentroid(v []float32, centroids [][]float32) int {
	best := 0
	bestDist := float32(math.MaxFloat32)
	for i, c := range centroids {
		d := mathx.SquaredL2(v, c)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

// NumSubvectors returns m, the number of subspaces.
func (pq *ProductQuantizer) NumSubvectors() int { return pq.m }

// NumCentroids returns k, the centroid count per subspace.
func (pq *ProductQuantizer) NumCentroids() int { return pq.k }

// IsTrained reports whether Train (or SetCodebooks) has run.
func (pq *ProductQuantizer) IsTrained() bool { return pq.trained }

// Codebooks returns the trained codebooks, shaped [m][k][subDim].
func (pq *ProductQuantizer) Codebooks() [][][]float32 { return pq.codebooks }

// SetCodebooks installs codebooks loaded from disk directly, bypassing
// Train, and marks the quantizer trained.
func (pq *ProductQuantizer) SetCodebooks(codebooks [][][]float32) {
	pq.codebooks = codebooks
	pq.trained = true
}

// BuildDistanceTable precomputes, for one query, the squared distance from
// each of its subspace slices to every centroid in that subspace's codebook.
// The result is a flattened m*k table (table[sub*k+c]) that AdcDistance can
// then sum from by table lookup alone, with no further float32 arithmetic
// over the query.
func (pq *ProductQuantizer) BuildDistanceTable(query []float32) []float32 {
	if len(query) != pq.dim {
		panic("quantization: query dimension mismatch")
	}

	table := make([]float32, pq.m*pq.k)
	for sub := 0; sub < pq.m; sub++ {
		start := sub * pq.subDim
		qsub := query[start : start+pq.subDim]
		for c := 0; c < pq.k; c++ {
			table[sub*pq.k+c] = mathx.SquaredL2(qsub, pq.codebooks[sub][c])
		}
	}
	return table
}

// AdcDistance sums the precomputed per-subspace entries from table that
// codes selects, the table-lookup counterpart to ComputeAsymmetricDistance.
func (pq *ProductQuantizer) AdcDistance(table []float32, codes []byte) float32 {
	if len(codes) != pq.m {
		panic("quantization: codes length mismatch")
	}
	return mathx.PqAdcLookup(table, codes, pq.m)
}
