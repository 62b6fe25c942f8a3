package diskindex

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"

	"github.com/nilshell/hybridann/metric"
	"github.com/nilshell/hybridann/quantization"
)

// candidate pairs an internal node id with its distance to some query,
// used by both graph construction and greedySearch.
type candidate struct {
	nodeID uint32
	dist   float32
}

// insertCandidate inserts c into the distance-sorted slice cands, bounded
// to at most max entries; c is dropped if it would sort past the bound.
func insertCandidate(cands []candidate, c candidate, max int) []candidate {
	i := sort.Search(len(cands), func(i int) bool { return cands[i].dist > c.dist })
	if i >= max {
		return cands
	}
	cands = append(cands, candidate{})
	copy(cands[i+1:], cands[i:])
	cands[i] = c
	if len(cands) > max {
		cands = cands[:max]
	}
	return cands
}

const (
	// DefaultBuildListSize is the candidate-list size used while
	// constructing each node's connections (the Vamana build's `L`).
	DefaultBuildListSize = 128
	// DefaultAlpha is the pruning factor for robust pruning (Vamana's `α`).
	DefaultAlpha = 1.2
	// DefaultPQSubvectors is the number of PQ subspaces (`M`).
	DefaultPQSubvectors = 8
	// DefaultPQCentroids is the centroid count per subspace (`K`).
	DefaultPQCentroids = 256
)

// Builder is the concrete disk-index builder collaborator: it stages
// vectors and labels, then rebuilds a bounded-out-degree Vamana graph with
// α-RNG robust pruning over them, PQ-compresses the vectors, and writes
// every artifact plus the authoritative labels sidecar under outPrefix.
type Builder struct {
	dim           int
	maxDegree     int
	buildListSize int
	alpha         float32
	dist          metric.Type

	vectors [][]float32
	labels  []uint64
}

// NewBuilder returns a builder for vectors of dimension dim with a bounded
// out-degree of maxDegree (Vamana's `R`), ranking candidates by dist.
func NewBuilder(dim, maxDegree int, dist metric.Type) *Builder {
	if maxDegree < 2 {
		maxDegree = 2
	}
	return &Builder{
		dim:           dim,
		maxDegree:     maxDegree,
		buildListSize: DefaultBuildListSize,
		alpha:         DefaultAlpha,
		dist:          dist,
	}
}

// Add stages one vector/label pair for the next Build.
func (b *Builder) Add(vector []float32, label uint64) {
	v := make([]float32, len(vector))
	copy(v, vector)
	b.vectors = append(b.vectors, v)
	b.labels = append(b.labels, label)
}

// Build trains the PQ codebook, constructs the Vamana graph, and
// atomically writes all index files plus the labels sidecar under
// outPrefix. Internal ids are assigned densely in Add-call order, 0..n-1,
// matching the row order of whatever corpus fed Add — row i's label must
// be line i of the sidecar. Payload files are written and renamed into
// place before the header file, so a reader that can open the header may
// trust every referenced artifact is complete, the same crash-safety
// discipline applied across this multi-file layout.
func (b *Builder) Build(ctx context.Context, outPrefix string) error {
	n := len(b.vectors)

	var codes [][]byte
	var pq *quantization.ProductQuantizer
	numSubvectors, numCentroids := 0, 0
	if n > 0 {
		numSubvectors = pqSubvectorsFor(b.dim)
		numCentroids = DefaultPQCentroids
		if numCentroids > n {
			numCentroids = n
		}
		var err error
		pq, err = quantization.NewProductQuantizer(b.dim, numSubvectors, numCentroids)
		if err != nil {
			return fmt.Errorf("diskindex: train PQ: %w", err)
		}
		if err := pq.Train(b.vectors); err != nil {
			return fmt.Errorf("diskindex: train PQ: %w", err)
		}
		codes = make([][]byte, n)
		for i, v := range b.vectors {
			codes[i] = pq.Encode(v)
		}
	}

	neighbors := buildVamanaGraph(b.vectors, b.maxDegree, b.buildListSize, b.alpha, b.dist)

	if err := writeAndCommit(outPrefix, VectorsFilename, func(path string) error {
		return writeVectorsFile(path, b.dim, b.vectors)
	}); err != nil {
		return err
	}
	if err := writeAndCommit(outPrefix, PQCodesFilename, func(path string) error {
		return writePQCodesFile(path, codes, numSubvectors)
	}); err != nil {
		return err
	}
	if pq != nil {
		if err := writeAndCommit(outPrefix, "index.codebook", func(path string) error {
			return writeCodebookFile(path, pq)
		}); err != nil {
			return err
		}
	}
	if err := writeAndCommit(outPrefix, GraphFilename, func(path string) error {
		return writeGraphFile(path, neighbors)
	}); err != nil {
		return err
	}
	if err := writeAndCommit(outPrefix, LabelsFilename, func(path string) error {
		return writeLabelsFile(path, b.labels)
	}); err != nil {
		return err
	}

	header := &FileHeader{
		Magic:        FormatMagic,
		Version:      FormatVersion,
		Flags:        FlagMmapEnabled,
		Dimension:    uint32(b.dim),
		Count:        uint64(n),
		R:            uint32(b.maxDegree),
		L:            uint32(b.buildListSize),
		Alpha:        uint32(b.alpha * 1000),
		PQSubvectors: uint32(numSubvectors),
		PQCentroids:  uint32(numCentroids),
		Metric:       uint32(b.dist),
	}
	if pq != nil {
		header.Flags |= FlagPQEnabled
	}
	return writeAndCommit(outPrefix, MetaFilename, func(path string) error {
		return writeMetaFile(path, header)
	})
}

func pqSubvectorsFor(dim int) int {
	m := DefaultPQSubvectors
	for m > 1 && dim%m != 0 {
		m--
	}
	return m
}

func tempPath(outPrefix, filename string) string {
	return fmt.Sprintf("%s_%s.tmp", outPrefix, filename)
}

// writeAndCommit writes filename's content to a same-prefix temp file via
// write, then renames it into place so a reader never observes a
// partially-written artifact.
func writeAndCommit(outPrefix, filename string, write func(path string) error) error {
	tmp := tempPath(outPrefix, filename)
	if err := write(tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, outPrefix+"_"+filename)
}

// buildVamanaGraph runs a single-pass Vamana construction: for each point
// in random order, greedy-search from a fixed medoid to
// find a candidate set, then robust-prune it with the configured α down
// to maxDegree, adding backward edges and re-pruning any neighbor that
// overflows. This single-pass variant (rather than the paper's two-pass
// α=1-then-α build) is a grounded simplification for this implementation's
// scale — each merge rebuilds from scratch, so there is no accumulated
// graph quality to preserve across passes.
func buildVamanaGraph(vectors [][]float32, maxDegree, buildListSize int, alpha float32, dist metric.Type) [][]uint32 {
	n := len(vectors)
	neighbors := make([][]uint32, n)
	if n == 0 {
		return neighbors
	}

	medoid := approximateMedoid(vectors, dist)
	order := rand.New(rand.NewSource(1)).Perm(n)

	for _, p := range order {
		candidates := greedySearch(neighbors, vectors, medoid, vectors[p], buildListSize, dist)
		pruned := robustPrune(vectors, p, candidates, alpha, maxDegree, dist)
		neighbors[p] = pruned

		for _, q := range pruned {
			if containsID(neighbors[q], uint32(p)) {
				continue
			}
			neighbors[q] = append(neighbors[q], uint32(p))
			if len(neighbors[q]) > maxDegree {
				neighbors[q] = robustPrune(vectors, int(q), neighbors[q], alpha, maxDegree, dist)
			}
		}
	}
	return neighbors
}

func approximateMedoid(vectors [][]float32, dist metric.Type) uint32 {
	dim := len(vectors[0])
	centroid := make([]float32, dim)
	for _, v := range vectors {
		for i, x := range v {
			centroid[i] += x
		}
	}
	for i := range centroid {
		centroid[i] /= float32(len(vectors))
	}

	best := uint32(0)
	bestDist := dist.Distance(vectors[0], centroid)
	for i := 1; i < len(vectors); i++ {
		d := dist.Distance(vectors[i], centroid)
		if d < bestDist {
			best, bestDist = uint32(i), d
		}
	}
	return best
}

// greedySearch walks the graph built so far (neighbors, possibly still
// partially populated) from start toward query, greedy-best-first: always
// expand the closest unvisited candidate, bounding the result set to
// listSize and the frontier to 2*listSize the way a streaming
// search would, even though construction here runs as one batch rather
// than against live concurrent readers.
func greedySearch(neighbors [][]uint32, vectors [][]float32, start uint32, query []float32, listSize int, dist metric.Type) []uint32 {
	visited := make(map[uint32]bool, listSize*2)
	startDist := dist.Distance(vectors[start], query)

	candidates := []candidate{{nodeID: start, dist: startDist}}
	results := []candidate{{nodeID: start, dist: startDist}}
	visited[start] = true

	for len(candidates) > 0 {
		closest := candidates[0]
		candidates = candidates[1:]
		if len(results) >= listSize && closest.dist > results[len(results)-1].dist {
			break
		}
		if int(closest.nodeID) >= len(neighbors) {
			continue
		}

		for _, nb := range neighbors[closest.nodeID] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			c := candidate{nodeID: nb, dist: dist.Distance(vectors[nb], query)}
			candidates = insertCandidate(candidates, c, listSize*2)
			results = insertCandidate(results, c, listSize)
		}
	}

	order := make([]uint32, len(results))
	for i, c := range results {
		order[i] = c.nodeID
	}
	return order
}

// robustPrune implements Vamana's α-RNG edge selection for nodeID against
// candidates (sorted ascending by distance to nodeID): walk the sorted list
// once, keeping a candidate only if no already-kept point dominates it —
// "dominates" meaning that kept point lies closer to the candidate than
// alpha times the candidate's own distance to nodeID, so a point already
// well-served by an existing edge doesn't also earn a direct one. Unlike
// the single streaming pass this mirrors, a one-shot batch rebuild can
// afford to recompute the sorted candidate list fresh for every node, so
// there's no shared mutable graph state to guard here.
func robustPrune(vectors [][]float32, nodeID int, candidateIDs []uint32, alpha float32, r int, dist metric.Type) []uint32 {
	cands := make([]candidate, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		if int(id) == nodeID {
			continue
		}
		cands = append(cands, candidate{nodeID: id, dist: dist.Distance(vectors[nodeID], vectors[id])})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })

	result := make([]uint32, 0, r)
	for _, c := range cands {
		if len(result) >= r {
			break
		}
		dominated := false
		for _, s := range result {
			if dist.Distance(vectors[s], vectors[c.nodeID]) < alpha*c.dist {
				dominated = true
				break
			}
		}
		if !dominated {
			result = append(result, c.nodeID)
		}
	}
	return result
}

func containsID(ids []uint32, id uint32) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
