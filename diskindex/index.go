package diskindex

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/nilshell/hybridann/internal/mmap"
	"github.com/nilshell/hybridann/metric"
	"github.com/nilshell/hybridann/quantization"
)

// vectorFileHeaderSize is the [i32 N][i32 d] prefix of index.vectors.
const vectorFileHeaderSize = 8

// Index is the concrete, read-only on-disk collaborator: a bounded-out-degree
// Vamana graph over PQ-compressed vectors, with the full-precision vectors
// kept mmap-resident for exact re-ranking of beam search's approximate
// candidates.
type Index struct {
	dim   int
	count int

	neighbors [][]uint32
	codes     [][]byte
	labels    []uint64
	pq        *quantization.ProductQuantizer
	dist      metric.Type

	vectors *mmap.Mapping
}

// Load opens the on-disk index at prefix. index.meta is written last
// during Build and therefore read first during Load, so its
// mere presence certifies every other artifact is complete. A missing
// index.meta propagates an error satisfying errors.Is(err, os.ErrNotExist),
// so callers can treat "no disk index yet" as a normal, not exceptional,
// startup state.
func Load(prefix string) (*Index, error) {
	header, err := readMetaFile(prefix + "_" + MetaFilename)
	if err != nil {
		return nil, fmt.Errorf("diskindex: load meta: %w", err)
	}

	neighbors, err := readGraphFile(prefix + "_" + GraphFilename)
	if err != nil {
		return nil, fmt.Errorf("diskindex: load graph: %w", err)
	}

	_, codes, err := readPQCodesFile(prefix + "_" + PQCodesFilename)
	if err != nil {
		return nil, fmt.Errorf("diskindex: load pq codes: %w", err)
	}

	var pq *quantization.ProductQuantizer
	if header.Flags&FlagPQEnabled != 0 {
		pq, err = readCodebookFile(prefix+"_index.codebook", int(header.Dimension))
		if err != nil {
			return nil, fmt.Errorf("diskindex: load codebook: %w", err)
		}
	}

	labels, err := readLabelsFile(prefix + "_" + LabelsFilename)
	if err != nil {
		return nil, fmt.Errorf("diskindex: load labels: %w", err)
	}

	vectors, err := mmap.Open(prefix + "_" + VectorsFilename)
	if err != nil {
		return nil, fmt.Errorf("diskindex: mmap vectors: %w", err)
	}

	return &Index{
		dim:       int(header.Dimension),
		count:     int(header.Count),
		neighbors: neighbors,
		codes:     codes,
		labels:    labels,
		pq:        pq,
		dist:      metric.Type(header.Metric),
		vectors:   vectors,
	}, nil
}

// NumPoints returns the number of points baked into this disk index.
func (ix *Index) NumPoints() int {
	return ix.count
}

// GetLabel resolves an internal disk id to its external label. It serves
// the same labels sidecar loaded at Load time; this implementation's Build
// never writes labels through two redundant paths, so there is no
// builder-vs-sidecar divergence to reconcile here — the coordinator's own
// fallback path exists for a richer builder that could drift, which this
// one does not.
func (ix *Index) GetLabel(id uint32) (uint64, error) {
	if int(id) >= len(ix.labels) {
		return 0, fmt.Errorf("diskindex: no label for internal id %d", id)
	}
	return ix.labels[id], nil
}

// Close releases the mmap'd vectors file.
func (ix *Index) Close() error {
	if ix.vectors == nil {
		return nil
	}
	return ix.vectors.Close()
}

// exactDistance reads row id straight out of the mmap'd vectors file and
// computes its distance to query under the index's metric, bypassing PQ
// approximation.
// Used to re-rank BeamSearch's ADC-guided candidates against full
// precision before returning them.
func (ix *Index) exactDistance(id uint32, query []float32) float32 {
	row := ix.readVectorRow(id)
	return ix.dist.Distance(row, query)
}

func (ix *Index) readVectorRow(id uint32) []float32 {
	rowBytes := ix.dim * 4
	offset := int64(vectorFileHeaderSize) + int64(id)*int64(rowBytes)
	buf := make([]byte, rowBytes)
	ix.vectors.ReadAt(buf, offset)
	row := make([]float32, ix.dim)
	for i := range row {
		row[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return row
}
