// Package apitypes holds the small result/mask types shared between the
// coordinator (package hybridann) and its collaborators (memindex,
// diskindex), so neither collaborator package needs to import the
// coordinator package itself.
package apitypes

// SearchResult is a single (label, distance) pair returned by a substrate
// search or by the coordinator's own Search.
type SearchResult struct {
	Label    uint64
	Distance float32
}

// DiskSearchResult is a BeamSearch hit keyed by internal disk id; the
// caller (query planner) resolves it to a label via GetLabel.
type DiskSearchResult struct {
	ID       uint32
	Distance float32
}

// DiskIDSet is the mask/membership interface the tombstone registry's
// disk_deleted_ids exposes to BeamSearch, so internal ids it covers are
// excluded from both traversal and results.
type DiskIDSet interface {
	Contains(id uint32) bool
}
