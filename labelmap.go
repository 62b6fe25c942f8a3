package hybridann

import (
	"bufio"
	"fmt"
	"os"
)

// LabelIDMap is the bidirectional correspondence between a disk index's
// stable external labels and its volatile internal ids. It is wholly
// rebuilt on every disk index load — internal ids are dense and reassigned
// on every rebuild, so nothing here survives a reload.
type LabelIDMap struct {
	labelToID map[uint64]uint32
	idToLabel []uint64
}

// NewLabelIDMap returns an empty map.
func NewLabelIDMap() *LabelIDMap {
	return &LabelIDMap{labelToID: make(map[uint64]uint32)}
}

// ID resolves an external label to its internal disk id.
func (m *LabelIDMap) ID(label uint64) (uint32, bool) {
	id, ok := m.labelToID[label]
	return id, ok
}

// Label resolves an internal disk id to its external label.
func (m *LabelIDMap) Label(id uint32) (uint64, bool) {
	if int(id) >= len(m.idToLabel) {
		return 0, false
	}
	return m.idToLabel[id], true
}

// Len returns the number of internal ids the map covers.
func (m *LabelIDMap) Len() int {
	return len(m.idToLabel)
}

// Set records the id -> label correspondence, growing idToLabel as needed.
// Internal ids are assigned densely starting at 0 by the loader, so this is
// always an append in practice, but tolerates out-of-order calls. Exported
// for the disk index loader's fallback path: when the labels sidecar is
// missing or its row count disagrees with the disk index, the map is
// rebuilt by walking the disk index's own embedded labels instead.
func (m *LabelIDMap) Set(id uint32, label uint64) {
	if int(id) >= len(m.idToLabel) {
		grown := make([]uint64, id+1)
		copy(grown, m.idToLabel)
		m.idToLabel = grown
	}
	m.idToLabel[id] = label
	m.labelToID[label] = id
}

// LoadLabelIDMapFromFile populates a LabelIDMap from the labels sidecar
// file: one decimal label per line, line i (0-based) is the label of
// internal id i. This is the coordinator's authoritative source; the loader
// falls back to asking the disk index via GetLabel only when this file is
// missing or its row count disagrees with the disk index.
func LoadLabelIDMapFromFile(path string) (*LabelIDMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &IoError{Op: "open", Path: path, cause: err}
	}
	defer f.Close()

	m := NewLabelIDMap()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var id uint32
	for scanner.Scan() {
		var label uint64
		if _, err := fmt.Sscanf(scanner.Text(), "%d", &label); err != nil {
			return nil, &IoError{Op: "parse", Path: path, cause: err}
		}
		m.Set(id, label)
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, &IoError{Op: "read", Path: path, cause: err}
	}
	return m, nil
}

// WriteLabelIDMapFile writes labels, indexed by internal id (labels[i] is
// the label of internal id i), to the labels sidecar format at path via the
// atomic temp-file-plus-rename pattern.
func WriteLabelIDMapFile(path string, labels []uint64) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return &IoError{Op: "create", Path: tmp, cause: err}
	}
	w := bufio.NewWriterSize(f, 256*1024)
	for _, label := range labels {
		if _, err := fmt.Fprintf(w, "%d\n", label); err != nil {
			f.Close()
			os.Remove(tmp)
			return &IoError{Op: "write", Path: tmp, cause: err}
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return &IoError{Op: "flush", Path: tmp, cause: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return &IoError{Op: "sync", Path: tmp, cause: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return &IoError{Op: "close", Path: tmp, cause: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &IoError{Op: "rename", Path: path, cause: err}
	}
	return nil
}
