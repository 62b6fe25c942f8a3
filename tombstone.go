package hybridann

import roaring "github.com/RoaringBitmap/roaring/v2"

// TombstoneRegistry tracks deleted external labels and, for the subset
// present in the currently loaded disk index, their internal ids. It owns
// no vectors; it is purely a filter.
//
// deleted_labels shrinks only when a removed label is inserted again (its
// tombstone is cleared) and on merge, when a tombstoned label's on-disk row
// is physically dropped and the tombstone is retired along with it. disk_ids
// is rebuilt wholesale from deleted_labels ∩ dom(label_to_id) on every disk
// index reload, since internal ids are not stable across a rebuild; between
// reloads it also keeps the ids of re-inserted labels' old disk rows.
type TombstoneRegistry struct {
	labels  map[uint64]struct{}
	diskIDs *roaring.Bitmap
}

// NewTombstoneRegistry returns an empty registry.
func NewTombstoneRegistry() *TombstoneRegistry {
	return &TombstoneRegistry{
		labels:  make(map[uint64]struct{}),
		diskIDs: roaring.New(),
	}
}

// MarkDeleted adds label to deleted_labels.
func (t *TombstoneRegistry) MarkDeleted(label uint64) {
	t.labels[label] = struct{}{}
}

// UnmarkDeleted removes label from deleted_labels (the resurrection path:
// an insert of a previously-deleted label clears its tombstone).
func (t *TombstoneRegistry) UnmarkDeleted(label uint64) {
	delete(t.labels, label)
}

// IsDeleted reports whether label is in deleted_labels.
func (t *TombstoneRegistry) IsDeleted(label uint64) bool {
	_, ok := t.labels[label]
	return ok
}

// MarkDiskIDDeleted adds id to disk_deleted_ids.
func (t *TombstoneRegistry) MarkDiskIDDeleted(id uint32) {
	t.diskIDs.Add(id)
}

// UnmarkDiskIDDeleted removes id from disk_deleted_ids. The resurrection
// path never calls this: a re-inserted label's old disk row stays masked
// until the next reload rebuilds disk_deleted_ids from deleted_labels.
func (t *TombstoneRegistry) UnmarkDiskIDDeleted(id uint32) {
	t.diskIDs.Remove(id)
}

// IsDiskIDDeleted reports whether id is in disk_deleted_ids.
func (t *TombstoneRegistry) IsDiskIDDeleted(id uint32) bool {
	return t.diskIDs.Contains(id)
}

// Contains implements DiskIDSet so the registry can be passed directly as
// BeamSearch's mask parameter.
func (t *TombstoneRegistry) Contains(id uint32) bool {
	return t.IsDiskIDDeleted(id)
}

// RecomputeDiskIDsFromMap clears disk_deleted_ids and rebuilds it from
// deleted_labels ∩ dom(labelToID). Invoked by the disk index loader after
// every reload, since internal ids are reassigned on every rebuild.
func (t *TombstoneRegistry) RecomputeDiskIDsFromMap(labelToID *LabelIDMap) {
	t.diskIDs = roaring.New()
	for label := range t.labels {
		if id, ok := labelToID.ID(label); ok {
			t.diskIDs.Add(id)
		}
	}
}

// DeletedLabelCount returns the number of labels currently tombstoned.
func (t *TombstoneRegistry) DeletedLabelCount() int {
	return len(t.labels)
}
