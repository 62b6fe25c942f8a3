package memindex

import (
	"bufio"
	"encoding/binary"
	"os"
)

// writeVectorFile writes rows atomically in the shared base-data binary
// layout ([i32 N][i32 d][N*d x float32], little-endian, row-major), via a
// temp-file-plus-rename in the destination's own directory.
func writeVectorFile(path string, dim int, rows [][]float32) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriterSize(f, 256*1024)

	fail := func(cause error) error {
		f.Close()
		os.Remove(tmp)
		return cause
	}

	if err := binary.Write(w, binary.LittleEndian, int32(len(rows))); err != nil {
		return fail(err)
	}
	if err := binary.Write(w, binary.LittleEndian, int32(dim)); err != nil {
		return fail(err)
	}
	for _, row := range rows {
		if err := binary.Write(w, binary.LittleEndian, row); err != nil {
			return fail(err)
		}
	}
	if err := w.Flush(); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// writeTagsFile writes labels atomically in the `.tags` sidecar layout
// ([i32 N][i32 1][N x uint64], little-endian).
func writeTagsFile(path string, labels []uint64) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriterSize(f, 64*1024)

	fail := func(cause error) error {
		f.Close()
		os.Remove(tmp)
		return cause
	}

	if err := binary.Write(w, binary.LittleEndian, int32(len(labels))); err != nil {
		return fail(err)
	}
	if err := binary.Write(w, binary.LittleEndian, int32(1)); err != nil {
		return fail(err)
	}
	if err := binary.Write(w, binary.LittleEndian, labels); err != nil {
		return fail(err)
	}
	if err := w.Flush(); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
