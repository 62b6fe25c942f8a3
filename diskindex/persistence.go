package diskindex

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/nilshell/hybridann/quantization"
)

// writeVectorsFile writes raw float32 vectors, row-major, for exact
// re-ranking of PQ-approximate candidates.
func writeVectorsFile(path string, dim int, vectors [][]float32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriterSize(f, 256*1024)

	if err := binary.Write(w, binary.LittleEndian, int32(len(vectors))); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, int32(dim)); err != nil {
		return err
	}
	for _, v := range vectors {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func readVectorsFile(path string) (dim int, vectors [][]float32, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()
	r := bufio.NewReaderSize(f, 256*1024)

	var n, d int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return 0, nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &d); err != nil {
		return 0, nil, err
	}
	vectors = make([][]float32, n)
	for i := range vectors {
		row := make([]float32, d)
		if err := binary.Read(r, binary.LittleEndian, row); err != nil {
			return 0, nil, err
		}
		vectors[i] = row
	}
	return int(d), vectors, nil
}

// writePQCodesFile writes [i32 N][i32 numSubvectors][N*numSubvectors bytes].
func writePQCodesFile(path string, codes [][]byte, numSubvectors int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriterSize(f, 256*1024)

	if err := binary.Write(w, binary.LittleEndian, int32(len(codes))); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, int32(numSubvectors)); err != nil {
		return err
	}
	for _, c := range codes {
		if _, err := w.Write(c); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func readPQCodesFile(path string) (numSubvectors int, codes [][]byte, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()
	r := bufio.NewReaderSize(f, 256*1024)

	var n, m int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return 0, nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &m); err != nil {
		return 0, nil, err
	}
	codes = make([][]byte, n)
	for i := range codes {
		buf := make([]byte, m)
		if _, err := readFull(r, buf); err != nil {
			return 0, nil, err
		}
		codes[i] = buf
	}
	return int(m), codes, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// writeCodebookFile persists a trained product quantizer's codebooks so a
// reload can reconstruct ADC distance tables without retraining. The
// codebook is the one disk-index artifact that is pure floating-point
// centroid data with no graph structure to keep contiguous for mmap, so it
// is zstd-compressed in place — centroid tables compress well and this is
// the only artifact here that benefits from it (vectors are mmap'd directly
// and must stay uncompressed on disk; PQ codes and the graph are read whole
// into memory at Load).
func writeCodebookFile(path string, pq *quantization.ProductQuantizer) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return err
	}
	w := bufio.NewWriterSize(zw, 256*1024)

	if err := binary.Write(w, binary.LittleEndian, int32(pq.NumSubvectors())); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, int32(pq.NumCentroids())); err != nil {
		return err
	}
	for _, book := range pq.Codebooks() {
		for _, centroid := range book {
			if err := binary.Write(w, binary.LittleEndian, centroid); err != nil {
				return err
			}
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func readCodebookFile(path string, dim int) (*quantization.ProductQuantizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	r := bufio.NewReaderSize(zr, 256*1024)

	var numSubvectors, numCentroids int32
	if err := binary.Read(r, binary.LittleEndian, &numSubvectors); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &numCentroids); err != nil {
		return nil, err
	}

	pq, err := quantization.NewProductQuantizer(dim, int(numSubvectors), int(numCentroids))
	if err != nil {
		return nil, err
	}

	subDim := dim / int(numSubvectors)
	codebooks := make([][][]float32, numSubvectors)
	for m := range codebooks {
		codebooks[m] = make([][]float32, numCentroids)
		for c := range codebooks[m] {
			centroid := make([]float32, subDim)
			if err := binary.Read(r, binary.LittleEndian, centroid); err != nil {
				return nil, err
			}
			codebooks[m][c] = centroid
		}
	}
	pq.SetCodebooks(codebooks)
	return pq, nil
}

// writeGraphFile writes [i32 N] then, per node, [i32 degree][degree x u32].
func writeGraphFile(path string, neighbors [][]uint32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriterSize(f, 256*1024)

	if err := binary.Write(w, binary.LittleEndian, int32(len(neighbors))); err != nil {
		return err
	}
	for _, ids := range neighbors {
		if err := binary.Write(w, binary.LittleEndian, int32(len(ids))); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, ids); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func readGraphFile(path string) ([][]uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := bufio.NewReaderSize(f, 256*1024)

	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	neighbors := make([][]uint32, n)
	for i := range neighbors {
		var degree int32
		if err := binary.Read(r, binary.LittleEndian, &degree); err != nil {
			return nil, err
		}
		ids := make([]uint32, degree)
		if err := binary.Read(r, binary.LittleEndian, ids); err != nil {
			return nil, err
		}
		neighbors[i] = ids
	}
	return neighbors, nil
}

// writeLabelsFile writes the authoritative labels sidecar: one decimal
// label per line, line i is internal id i's label.
func writeLabelsFile(path string, labels []uint64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriterSize(f, 256*1024)
	for _, label := range labels {
		if _, err := fmt.Fprintf(w, "%d\n", label); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

// readLabelsFile reads the labels sidecar into an id-indexed slice.
func readLabelsFile(path string) ([]uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var labels []uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var label uint64
		if _, err := fmt.Sscanf(line, "%d", &label); err != nil {
			return nil, fmt.Errorf("diskindex: parse label line %q: %w", line, err)
		}
		labels = append(labels, label)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return labels, nil
}

func writeMetaFile(path string, header *FileHeader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := header.WriteTo(f); err != nil {
		return err
	}
	return f.Sync()
}

func readMetaFile(path string) (*FileHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h := &FileHeader{}
	if _, err := h.ReadFrom(f); err != nil {
		return nil, err
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}
