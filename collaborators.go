package hybridann

import (
	"context"

	"github.com/nilshell/hybridann/apitypes"
)

// SearchResult is a single (label, distance) pair returned by a substrate
// search or by the coordinator's own Search.
type SearchResult = apitypes.SearchResult

// DiskSearchResult is a BeamSearch hit keyed by internal disk id; the
// caller (query planner) resolves it to a label via GetLabel.
type DiskSearchResult = apitypes.DiskSearchResult

// DiskIDSet is the mask/membership interface the tombstone registry's
// disk_deleted_ids exposes to BeamSearch.
type DiskIDSet = apitypes.DiskIDSet

// MemIndex is the in-memory collaborator: a small, mutable, incremental
// ANN graph keyed directly by external label. The concrete implementation
// lives in package memindex.
type MemIndex interface {
	// Insert adds or overwrites the point for label.
	Insert(ctx context.Context, label uint64, vector []float32) error
	// LazyDelete tombstones label without touching graph edges. Returns an
	// error if label is not present (memindex.ErrNoSuchLabel, wrapped, for
	// the concrete implementation; translateError maps it to ErrDeleteMiss),
	// a condition callers treat as a no-op rather than a failure.
	LazyDelete(label uint64) error
	// ConsolidateDeletes physically drops lazily-deleted points from every
	// live node's neighbor lists.
	ConsolidateDeletes()
	// SearchWithTags runs a k-NN search and returns results keyed by label.
	SearchWithTags(ctx context.Context, query []float32, k, searchListSize int) ([]apitypes.SearchResult, error)
	// NumPoints returns the current live point count.
	NumPoints() int
	// Save writes <prefix>.data and <prefix>.tags in the shared binary
	// layout, for a merge to fold into the rebuilt disk index.
	Save(prefix string, withTags bool) error
	// Reset empties the index once its contents have been folded into a
	// merge.
	Reset()
}

// DiskIndex is the on-disk collaborator: a read-only, PQ-compressed Vamana
// graph loaded via mmap. The concrete implementation lives in package
// diskindex.
type DiskIndex interface {
	// NumPoints returns the number of points baked into this disk index.
	NumPoints() int
	// GetLabel resolves an internal disk id to its external label. May
	// fail if the id has no resolvable label; failures are dropped by the
	// query planner.
	GetLabel(id uint32) (uint64, error)
	// BeamSearch runs the beam search. mask contains internal ids that
	// MUST NOT be expanded into the candidate set nor appear in the
	// output. Returns only actual candidates found, possibly fewer
	// than k; the coordinator pads to k after merging with MemIndex
	// results.
	BeamSearch(ctx context.Context, query []float32, k, searchListSize, beamWidth int, mask apitypes.DiskIDSet) ([]apitypes.DiskSearchResult, error)
	// Close releases the mmap and any open file handles.
	Close() error
}

// DiskBuilder is the disk-index builder collaborator: rebuilds the on-disk
// index from scratch given the full corpus. The concrete implementation
// lives in package diskindex (type Builder).
type DiskBuilder interface {
	// Add stages one vector/label pair for the next Build.
	Add(vector []float32, label uint64)
	// Build trains the PQ codebook, constructs the Vamana graph, and
	// atomically writes all index files plus the authoritative labels
	// sidecar under outPrefix.
	Build(ctx context.Context, outPrefix string) error
}
