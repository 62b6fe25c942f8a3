// Package memindex implements the in-memory collaborator of a hybrid
// mutable vector index: a small, mutable Hierarchical Navigable Small
// World (HNSW) graph keyed directly by external label, built for cheap
// incremental inserts and lazy deletes rather than for holding the bulk
// of a large corpus.
package memindex

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/bits-and-blooms/bitset"

	"github.com/nilshell/hybridann/apitypes"
	"github.com/nilshell/hybridann/metric"
)

// ErrNoSuchLabel is returned by LazyDelete when label is not currently
// live. Callers match it with errors.Is rather than by message, since a
// removal of a label this index never held (or already tombstoned) is a
// valid no-op, not a failure.
var ErrNoSuchLabel = errors.New("memindex: no such live label")

// DefaultEfConstruction is the candidate-list size used while building a
// new node's connections.
const DefaultEfConstruction = 200

const mMax0Multiplier = 2

// node is one point in the graph, addressed by a dense internal id.
type node struct {
	label     uint64
	vector    []float32
	neighbors [][]uint32 // neighbors[level] = neighbor ids at that level
}

// Index is the concrete in-memory collaborator: a mutable, multi-layer
// HNSW-style graph keyed by external label rather than internal id.
// `Insert` is the only mutation path that adds graph edges,
// `LazyDelete`/`ConsolidateDeletes` implement tombstoned removal (the
// latter strips dead ids from neighbor lists), and
// `Save` emits the binary layout a merge consumes.
//
// Callers (the coordinator) serialize all access to Index: reads happen
// under a shared lock, writes under an exclusive one, so Index itself
// holds no internal lock.
type Index struct {
	dim            int
	m              int
	mMax0          int
	efConstruction int
	levelMult      float64

	dist metric.Type

	nodes     []*node
	labelToID map[uint64]uint32
	deleted   *bitset.BitSet
	liveCount int

	entryPoint uint32
	hasEntry   bool
	maxLevel   int

	rng *rand.Rand
}

// New returns an empty memory index for vectors of dimension dim, with a
// bounded out-degree of maxDegree per upper layer (twice that at layer 0),
// ranking candidates by dist.
func New(dim, maxDegree int, dist metric.Type) *Index {
	if maxDegree < 2 {
		maxDegree = 2
	}
	return &Index{
		dim:            dim,
		m:              maxDegree,
		mMax0:          maxDegree * mMax0Multiplier,
		efConstruction: DefaultEfConstruction,
		levelMult:      1.0 / math.Log(float64(maxDegree)),
		dist:           dist,
		labelToID:      make(map[uint64]uint32),
		deleted:        bitset.New(0),
		rng:            rand.New(rand.NewSource(1)),
	}
}

// Insert adds or overwrites the point for label. An
// overwrite tombstones the old internal id and allocates a fresh one,
// which also serves the resurrection path cleanly: the stale node simply
// stops being live.
func (ix *Index) Insert(ctx context.Context, label uint64, vector []float32) error {
	if len(vector) != ix.dim {
		return fmt.Errorf("memindex: expected dimension %d, got %d", ix.dim, len(vector))
	}

	if oldID, ok := ix.labelToID[label]; ok {
		ix.tombstone(oldID)
	}

	level := ix.randomLevel()
	id := uint32(len(ix.nodes))
	n := &node{label: label, vector: vector, neighbors: make([][]uint32, level+1)}
	ix.nodes = append(ix.nodes, n)
	ix.labelToID[label] = id
	ix.liveCount++

	// The only live point (in an empty graph, or one holding nothing but
	// tombstoned nodes) becomes the entry point directly: it has no live
	// node to link to, and a dead entry point would leave it unreachable.
	if !ix.hasEntry || ix.liveCount == 1 {
		ix.entryPoint = id
		ix.hasEntry = true
		ix.maxLevel = level
		return nil
	}

	ix.connect(id, vector, level)
	if level > ix.maxLevel {
		ix.maxLevel = level
		ix.entryPoint = id
	}
	return nil
}

func (ix *Index) randomLevel() int {
	level := int(-math.Log(ix.rng.Float64()+1e-12) * ix.levelMult)
	const maxLevel = 32
	if level > maxLevel {
		level = maxLevel
	}
	return level
}

// connect wires a newly inserted node into every layer up to level by
// greedily descending from the entry point and selecting the closest
// candidates found at each layer as neighbors, mirroring classic HNSW
// insertion.
func (ix *Index) connect(id uint32, vector []float32, level int) {
	cur := ix.entryPoint
	curDist := ix.distanceTo(cur, vector)

	for lc := ix.maxLevel; lc > level; lc-- {
		cur, curDist = ix.greedyDescend(cur, curDist, vector, lc)
	}

	for lc := min(level, ix.maxLevel); lc >= 0; lc-- {
		candidates := ix.searchLayer(vector, cur, ix.efConstruction, lc)
		mMax := ix.m
		if lc == 0 {
			mMax = ix.mMax0
		}
		selected := ix.selectNeighborsHeuristic(vector, candidates, mMax)
		ix.link(id, lc, selected)
		if len(selected) > 0 {
			cur = selected[0].id
		}
	}
}

func (ix *Index) link(id uint32, level int, selected []candidate) {
	n := ix.nodes[id]
	for len(n.neighbors) <= level {
		n.neighbors = append(n.neighbors, nil)
	}
	for _, c := range selected {
		n.neighbors[level] = append(n.neighbors[level], c.id)
		other := ix.nodes[c.id]
		for len(other.neighbors) <= level {
			other.neighbors = append(other.neighbors, nil)
		}
		other.neighbors[level] = append(other.neighbors[level], id)

		mMax := ix.m
		if level == 0 {
			mMax = ix.mMax0
		}
		if len(other.neighbors[level]) > mMax {
			other.neighbors[level] = ix.pruneNeighbors(other.vector, other.neighbors[level], mMax)
		}
	}
}

func (ix *Index) pruneNeighbors(vector []float32, ids []uint32, mMax int) []uint32 {
	cands := make([]candidate, 0, len(ids))
	for _, id := range ids {
		if ix.deleted.Test(uint(id)) {
			continue
		}
		cands = append(cands, candidate{id: id, dist: ix.distanceTo(id, vector)})
	}
	selected := ix.selectNeighborsHeuristic(vector, cands, mMax)
	out := make([]uint32, len(selected))
	for i, c := range selected {
		out[i] = c.id
	}
	return out
}

// selectNeighborsHeuristic keeps the closest candidate to query, then
// greedily admits further candidates only if they are closer to query than
// to every candidate already selected — the standard HNSW diversification
// heuristic, which avoids clustering all edges in one direction.
func (ix *Index) selectNeighborsHeuristic(query []float32, cands []candidate, mMax int) []candidate {
	sortCandidates(cands)
	selected := make([]candidate, 0, mMax)
	for _, c := range cands {
		if len(selected) >= mMax {
			break
		}
		if ix.deleted.Test(uint(c.id)) {
			continue
		}
		keep := true
		for _, s := range selected {
			if ix.dist.Distance(ix.nodes[c.id].vector, ix.nodes[s.id].vector) < c.dist {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, c)
		}
	}
	return selected
}

// LazyDelete tombstones label without touching graph edges. Returns
// ErrNoSuchLabel if label is not currently live; callers treat a removal of
// a label this index never held as a valid no-op and ignore it.
func (ix *Index) LazyDelete(label uint64) error {
	id, ok := ix.labelToID[label]
	if !ok || ix.deleted.Test(uint(id)) {
		return fmt.Errorf("%w: %d", ErrNoSuchLabel, label)
	}
	ix.tombstone(id)
	delete(ix.labelToID, label)
	return nil
}

func (ix *Index) tombstone(id uint32) {
	if !ix.deleted.Test(uint(id)) {
		ix.deleted.Set(uint(id))
		ix.liveCount--
	}
}

// ConsolidateDeletes physically drops tombstoned nodes' presence from the
// graph by removing them from every live node's neighbor lists, so future
// traversals never visit a dead node. The entry point is reseated to a
// live node if it was tombstoned.
func (ix *Index) ConsolidateDeletes() {
	for _, n := range ix.nodes {
		if n == nil {
			continue
		}
		for level := range n.neighbors {
			n.neighbors[level] = ix.filterLive(n.neighbors[level])
		}
	}

	if ix.hasEntry && ix.deleted.Test(uint(ix.entryPoint)) {
		ix.hasEntry = false
		for id := range ix.nodes {
			if !ix.deleted.Test(uint(id)) {
				ix.entryPoint = uint32(id)
				ix.hasEntry = true
				break
			}
		}
	}
}

func (ix *Index) filterLive(ids []uint32) []uint32 {
	out := ids[:0]
	for _, id := range ids {
		if !ix.deleted.Test(uint(id)) {
			out = append(out, id)
		}
	}
	return out
}

// SearchWithTags runs a k-NN search over the live subset of the graph.
// Traversal may pass through tombstoned nodes, but they are never returned.
func (ix *Index) SearchWithTags(ctx context.Context, query []float32, k, searchListSize int) ([]apitypes.SearchResult, error) {
	if !ix.hasEntry || len(query) != ix.dim {
		return nil, nil
	}

	cur := ix.entryPoint
	curDist := ix.distanceTo(cur, query)
	for lc := ix.maxLevel; lc > 0; lc-- {
		cur, curDist = ix.greedyDescend(cur, curDist, query, lc)
	}

	ef := searchListSize
	if ef < k {
		ef = k
	}
	candidates := ix.searchLayer(query, cur, ef, 0)
	sortCandidates(candidates)

	results := make([]apitypes.SearchResult, 0, k)
	for _, c := range candidates {
		if len(results) >= k {
			break
		}
		if ix.deleted.Test(uint(c.id)) {
			continue
		}
		results = append(results, apitypes.SearchResult{Label: ix.nodes[c.id].label, Distance: c.dist})
	}
	return results, nil
}

// NumPoints returns the current live point count.
func (ix *Index) NumPoints() int {
	return ix.liveCount
}

// Save writes <prefix>.data (and, if withTags, <prefix>.tags) in the
// shared binary layout over exactly the live points, in a stable order
// (ascending internal id) so the two files' rows line up; consumed by the
// coordinator's merge.
func (ix *Index) Save(prefix string, withTags bool) error {
	vectors := make([][]float32, 0, ix.liveCount)
	labels := make([]uint64, 0, ix.liveCount)
	for id, n := range ix.nodes {
		if n == nil || ix.deleted.Test(uint(id)) {
			continue
		}
		vectors = append(vectors, n.vector)
		labels = append(labels, n.label)
	}

	if err := writeVectorFile(prefix+".data", ix.dim, vectors); err != nil {
		return err
	}
	if withTags {
		if err := writeTagsFile(prefix+".tags", labels); err != nil {
			return err
		}
	}
	return nil
}

// Reset empties the index after its contents have been folded into a
// merge.
func (ix *Index) Reset() {
	ix.nodes = nil
	ix.labelToID = make(map[uint64]uint32)
	ix.deleted = bitset.New(0)
	ix.liveCount = 0
	ix.hasEntry = false
	ix.maxLevel = 0
}

func (ix *Index) distanceTo(id uint32, query []float32) float32 {
	return ix.dist.Distance(ix.nodes[id].vector, query)
}

// greedyDescend walks layer lc from (cur, curDist), repeatedly moving to
// the closest unvisited neighbor until no neighbor improves on cur.
func (ix *Index) greedyDescend(cur uint32, curDist float32, query []float32, lc int) (uint32, float32) {
	improved := true
	for improved {
		improved = false
		n := ix.nodes[cur]
		if lc >= len(n.neighbors) {
			continue
		}
		for _, neighbor := range n.neighbors[lc] {
			if ix.deleted.Test(uint(neighbor)) {
				continue
			}
			d := ix.distanceTo(neighbor, query)
			if d < curDist {
				cur, curDist = neighbor, d
				improved = true
			}
		}
	}
	return cur, curDist
}

// searchLayer performs the standard HNSW layer search: a candidate
// min-heap and a result max-heap of bounded size ef, expanding the
// frontier until no candidate can possibly improve the result set.
func (ix *Index) searchLayer(query []float32, entry uint32, ef int, lc int) []candidate {
	visited := map[uint32]bool{entry: true}

	entryDist := ix.distanceTo(entry, query)
	candHeap := &minHeap{{id: entry, dist: entryDist}}
	resultHeap := &maxHeap{{id: entry, dist: entryDist}}

	for candHeap.Len() > 0 {
		c := heap.Pop(candHeap).(candidate)
		worst := (*resultHeap)[0].dist
		if resultHeap.Len() >= ef && c.dist > worst {
			break
		}

		n := ix.nodes[c.id]
		if lc >= len(n.neighbors) {
			continue
		}
		for _, neighborID := range n.neighbors[lc] {
			if visited[neighborID] {
				continue
			}
			visited[neighborID] = true
			d := ix.distanceTo(neighborID, query)
			if resultHeap.Len() < ef || d < (*resultHeap)[0].dist {
				heap.Push(candHeap, candidate{id: neighborID, dist: d})
				heap.Push(resultHeap, candidate{id: neighborID, dist: d})
				if resultHeap.Len() > ef {
					heap.Pop(resultHeap)
				}
			}
		}
	}

	out := make([]candidate, len(*resultHeap))
	copy(out, *resultHeap)
	return out
}

