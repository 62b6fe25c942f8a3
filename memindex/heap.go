package memindex

import "sort"

// candidate pairs an internal node id with its distance to some query,
// used by both graph construction and search.
type candidate struct {
	id   uint32
	dist float32
}

func sortCandidates(cands []candidate) {
	sort.Slice(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })
}

// minHeap pops the smallest distance first; used as the candidate frontier
// during layer search.
type minHeap []candidate

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// maxHeap pops the largest distance first; used to keep the best ef
// results found so far during layer search, with the worst on top so it
// can be evicted in O(log n) when a better candidate arrives.
type maxHeap []candidate

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
