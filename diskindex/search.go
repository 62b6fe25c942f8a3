package diskindex

import (
	"container/heap"
	"context"
	"sort"

	"github.com/nilshell/hybridann/apitypes"
)

type distItem struct {
	id   uint32
	dist float32
}

// minDistHeap is a min-heap over distance, used as the expansion frontier.
type minDistHeap []distItem

func (h minDistHeap) Len() int            { return len(h) }
func (h minDistHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h minDistHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minDistHeap) Push(x interface{}) { *h = append(*h, x.(distItem)) }
func (h *minDistHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// maxDistHeap is a max-heap over distance, used to bound the result set to
// its searchListSize nearest-so-far candidates (root is the farthest, so it
// is the one evicted when a closer candidate arrives).
type maxDistHeap []distItem

func (h maxDistHeap) Len() int            { return len(h) }
func (h maxDistHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h maxDistHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxDistHeap) Push(x interface{}) { *h = append(*h, x.(distItem)) }
func (h *maxDistHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type noMask struct{}

func (noMask) Contains(uint32) bool { return false }

// BeamSearch walks the Vamana graph guided by PQ asymmetric distances, then
// re-ranks the surviving candidates against full-precision vectors for the
// final ordering. mask excludes ids from both expansion and the result
// set: a masked id is never pushed onto the frontier, so nodes past it are
// reached only through other, unmasked neighbors.
func (ix *Index) BeamSearch(ctx context.Context, query []float32, k, searchListSize, beamWidth int, mask apitypes.DiskIDSet) ([]apitypes.DiskSearchResult, error) {
	if ix.count == 0 {
		return nil, nil
	}
	if mask == nil {
		mask = noMask{}
	}
	if searchListSize < k {
		searchListSize = k
	}
	if beamWidth < 1 {
		beamWidth = 1
	}

	var table []float32
	if ix.pq != nil {
		table = ix.pq.BuildDistanceTable(query)
	}
	approxDist := func(id uint32) float32 {
		if ix.pq != nil {
			return ix.pq.AdcDistance(table, ix.codes[id])
		}
		return ix.exactDistance(id, query)
	}

	entry := uint32(0)
	for i := uint32(0); i < uint32(ix.count); i++ {
		if !mask.Contains(i) {
			entry = i
			break
		}
	}

	visited := make(map[uint32]bool, searchListSize*4)
	visited[entry] = true

	candidates := &minDistHeap{{id: entry, dist: approxDist(entry)}}
	results := &maxDistHeap{}
	if !mask.Contains(entry) {
		heap.Push(results, distItem{id: entry, dist: approxDist(entry)})
	}

	for candidates.Len() > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		cur := heap.Pop(candidates).(distItem)
		if results.Len() >= searchListSize && cur.dist > (*results)[0].dist {
			break
		}
		if int(cur.id) >= len(ix.neighbors) {
			continue
		}

		expanded := 0
		for _, nb := range ix.neighbors[cur.id] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			if expanded >= beamWidth*searchListSize {
				break
			}
			expanded++

			if mask.Contains(nb) {
				continue
			}
			d := approxDist(nb)
			if results.Len() < searchListSize || d < (*results)[0].dist {
				heap.Push(candidates, distItem{id: nb, dist: d})
				heap.Push(results, distItem{id: nb, dist: d})
				if results.Len() > searchListSize {
					heap.Pop(results)
				}
			}
		}
	}

	reranked := make([]distItem, len(*results))
	copy(reranked, *results)
	for i := range reranked {
		reranked[i].dist = ix.exactDistance(reranked[i].id, query)
	}
	sort.Slice(reranked, func(i, j int) bool { return reranked[i].dist < reranked[j].dist })

	if len(reranked) > k {
		reranked = reranked[:k]
	}
	out := make([]apitypes.DiskSearchResult, len(reranked))
	for i, it := range reranked {
		out[i] = apitypes.DiskSearchResult{ID: it.id, Distance: it.dist}
	}
	return out, nil
}
