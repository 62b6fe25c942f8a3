package hybridann

import (
	"bufio"
	"encoding/binary"
	"os"
)

// readBaseDataFile reads a binary vector file in the shared base-data
// layout ([i32 N][i32 d][N*d x float32], little-endian, row-major). A
// missing file is treated as an empty, dimension-agnostic corpus rather
// than an error,
// so a fresh coordinator can be constructed against a base data file that
// does not exist yet.
func readBaseDataFile(path string) (dim int, rows [][]float32, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil, nil
		}
		return 0, nil, &IoError{Op: "open", Path: path, cause: err}
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 256*1024)
	var n, d int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return 0, nil, &IoError{Op: "read header", Path: path, cause: err}
	}
	if err := binary.Read(r, binary.LittleEndian, &d); err != nil {
		return 0, nil, &IoError{Op: "read header", Path: path, cause: err}
	}

	rows = make([][]float32, n)
	for i := range rows {
		row := make([]float32, d)
		if err := binary.Read(r, binary.LittleEndian, row); err != nil {
			return 0, nil, &IoError{Op: "read row", Path: path, cause: err}
		}
		rows[i] = row
	}
	return int(d), rows, nil
}

// writeBaseDataFile writes rows to path in the base-data layout, atomically
// via a temp-file-plus-rename, grounded on the teacher's SaveToFile
// pattern: write to a same-directory temp file, fsync, close, rename over
// the destination.
func writeBaseDataFile(path string, dim int, rows [][]float32) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return &IoError{Op: "create", Path: tmp, cause: err}
	}
	w := bufio.NewWriterSize(f, 256*1024)

	fail := func(op string, cause error) error {
		f.Close()
		os.Remove(tmp)
		return &IoError{Op: op, Path: tmp, cause: cause}
	}

	if err := binary.Write(w, binary.LittleEndian, int32(len(rows))); err != nil {
		return fail("write header", err)
	}
	if err := binary.Write(w, binary.LittleEndian, int32(dim)); err != nil {
		return fail("write header", err)
	}
	for _, row := range rows {
		if err := binary.Write(w, binary.LittleEndian, row); err != nil {
			return fail("write row", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fail("flush", err)
	}
	if err := f.Sync(); err != nil {
		return fail("sync", err)
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

// readTagsFile reads a .tags sidecar in the shared label layout
// ([i32 N][i32 1][N x uint64], little-endian), produced by MemIndex.Save.
func readTagsFile(path string) ([]uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &IoError{Op: "open", Path: path, cause: err}
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)
	var n, width int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, &IoError{Op: "read header", Path: path, cause: err}
	}
	if err := binary.Read(r, binary.LittleEndian, &width); err != nil {
		return nil, &IoError{Op: "read header", Path: path, cause: err}
	}

	labels := make([]uint64, n)
	if err := binary.Read(r, binary.LittleEndian, labels); err != nil {
		return nil, &IoError{Op: "read labels", Path: path, cause: err}
	}
	return labels, nil
}

// readVectorFile reads a raw binary vector file and requires an exact
// dimension match; used for the memory index's temp .data snapshot during
// merge, where the dimension is already known from the coordinator.
func readVectorFile(path string, expectDim int) ([][]float32, error) {
	dim, rows, err := readBaseDataFile(path)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 && dim != expectDim {
		return nil, &DimensionMismatch{Expected: expectDim, Actual: dim}
	}
	return rows, nil
}
