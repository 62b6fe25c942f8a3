package diskindex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// File format constants for the on-disk Vamana/PQ index.
// This is the disk index's own internal multi-file layout; it is distinct
// from the coordinator-level base data file. The one exception is the
// labels sidecar (<prefix>_labels.txt), which this package writes in the
// coordinator's labels-file format: one decimal label per line.
const (
	// FormatMagic identifies these index files.
	FormatMagic uint32 = 0x44414E4E // "DANN"

	// FormatVersion is the current format version.
	FormatVersion uint32 = 1

	// HeaderSize is the size of the file header in bytes.
	HeaderSize = 128

	// MetaFilename is the name of the metadata file.
	MetaFilename = "index.meta"

	// GraphFilename is the name of the graph file.
	GraphFilename = "index.graph"

	// PQCodesFilename is the name of the PQ codes file.
	PQCodesFilename = "index.pqcodes"

	// VectorsFilename is the name of the raw vectors file, kept alongside
	// the PQ codes so exact re-ranking can use full-precision vectors.
	VectorsFilename = "index.vectors"

	// LabelsFilename is the authoritative labels sidecar, written
	// independently of the builder's own bookkeeping.
	LabelsFilename = "labels.txt"
)

// Flags for index configuration.
const (
	FlagPQEnabled   uint32 = 1 << 0
	FlagMmapEnabled uint32 = 1 << 1
)

// FileHeader is the fixed-size metadata header written at the start of
// index.meta.
type FileHeader struct {
	Magic     uint32
	Version   uint32
	Flags     uint32
	Dimension uint32
	Count     uint64

	// Vamana graph parameters.
	R     uint32 // max edges per node
	L     uint32 // build list size
	Alpha uint32 // pruning factor * 1000 (e.g. 1200 = 1.2)

	// PQ parameters.
	PQSubvectors uint32
	PQCentroids  uint32

	// Metric is the metric.Type this index was built with; a reload ranks
	// exact re-ranking distances the same way the index was built. PQ ADC
	// distances are squared L2 whatever the metric.
	Metric uint32

	// File offsets, relative to the start of index.meta's own file content
	// being irrelevant: each artifact lives in its own file, so these are
	// retained for forward compatibility with a single-file layout but
	// unused by the current multi-file reader/writer.
	GraphOffset   uint64
	PQCodesOffset uint64
	VectorsOffset uint64

	Checksum uint32
	Reserved [52]byte
}

// Validate checks magic, version, required fields, and checksum.
func (h *FileHeader) Validate() error {
	if h.Magic != FormatMagic {
		return fmt.Errorf("diskindex: invalid magic number: 0x%08X (expected 0x%08X)", h.Magic, FormatMagic)
	}
	if h.Version != FormatVersion {
		return fmt.Errorf("diskindex: unsupported version: %d (expected %d)", h.Version, FormatVersion)
	}
	if h.Dimension == 0 {
		return errors.New("diskindex: dimension cannot be zero")
	}
	if h.R == 0 {
		return errors.New("diskindex: R (max edges) cannot be zero")
	}
	if computed := h.computeChecksum(); h.Checksum != computed {
		return fmt.Errorf("diskindex: header checksum mismatch: 0x%08X (expected 0x%08X)", h.Checksum, computed)
	}
	return nil
}

func (h *FileHeader) computeChecksum() uint32 {
	buf := make([]byte, 72)
	offset := 0
	binary.LittleEndian.PutUint32(buf[offset:], h.Magic)
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], h.Version)
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], h.Flags)
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], h.Dimension)
	offset += 4
	binary.LittleEndian.PutUint64(buf[offset:], h.Count)
	offset += 8
	binary.LittleEndian.PutUint32(buf[offset:], h.R)
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], h.L)
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], h.Alpha)
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], h.PQSubvectors)
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], h.PQCentroids)
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], h.Metric)
	offset += 4
	binary.LittleEndian.PutUint64(buf[offset:], h.GraphOffset)
	offset += 8
	binary.LittleEndian.PutUint64(buf[offset:], h.PQCodesOffset)
	offset += 8
	binary.LittleEndian.PutUint64(buf[offset:], h.VectorsOffset)
	offset += 8
	return crc32.ChecksumIEEE(buf[:offset])
}

// SetChecksum computes and sets the header checksum.
func (h *FileHeader) SetChecksum() {
	h.Checksum = h.computeChecksum()
}

// WriteTo writes the header to w.
func (h *FileHeader) WriteTo(w io.Writer) (int64, error) {
	h.SetChecksum()

	buf := make([]byte, HeaderSize)
	offset := 0
	binary.LittleEndian.PutUint32(buf[offset:], h.Magic)
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], h.Version)
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], h.Flags)
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], h.Dimension)
	offset += 4
	binary.LittleEndian.PutUint64(buf[offset:], h.Count)
	offset += 8
	binary.LittleEndian.PutUint32(buf[offset:], h.R)
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], h.L)
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], h.Alpha)
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], h.PQSubvectors)
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], h.PQCentroids)
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], h.Metric)
	offset += 4
	binary.LittleEndian.PutUint64(buf[offset:], h.GraphOffset)
	offset += 8
	binary.LittleEndian.PutUint64(buf[offset:], h.PQCodesOffset)
	offset += 8
	binary.LittleEndian.PutUint64(buf[offset:], h.VectorsOffset)
	offset += 8
	binary.LittleEndian.PutUint32(buf[offset:], h.Checksum)
	offset += 4
	copy(buf[offset:], h.Reserved[:])

	n, err := w.Write(buf)
	return int64(n), err
}

// ReadFrom reads the header from r.
func (h *FileHeader) ReadFrom(r io.Reader) (int64, error) {
	buf := make([]byte, HeaderSize)
	n, err := io.ReadFull(r, buf)
	if err != nil {
		return int64(n), err
	}

	offset := 0
	h.Magic = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4
	h.Version = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4
	h.Flags = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4
	h.Dimension = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4
	h.Count = binary.LittleEndian.Uint64(buf[offset:])
	offset += 8
	h.R = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4
	h.L = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4
	h.Alpha = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4
	h.PQSubvectors = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4
	h.PQCentroids = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4
	h.Metric = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4
	h.GraphOffset = binary.LittleEndian.Uint64(buf[offset:])
	offset += 8
	h.PQCodesOffset = binary.LittleEndian.Uint64(buf[offset:])
	offset += 8
	h.VectorsOffset = binary.LittleEndian.Uint64(buf[offset:])
	offset += 8
	h.Checksum = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4
	copy(h.Reserved[:], buf[offset:])

	return int64(n), nil
}

// AlphaFloat returns the alpha pruning parameter as a float.
func (h *FileHeader) AlphaFloat() float32 {
	return float32(h.Alpha) / 1000.0
}
