package transfer

import (
	"fmt"
	"os"
)

// Writer owns the output file handle. Writes are always absolute-offset
// (positioned) and never rely on or mutate an implicit file cursor, so
// disjoint ranges may be written concurrently by different Workers.
type Writer struct {
	file *os.File
}

// OpenWriter creates or opens path for read/write and, when totalSize is
// known, preallocates it. Preallocation failure is ignored, never fatal:
// the transfer proceeds with implicit extension.
func OpenWriter(path string, totalSize int64) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, newErr(KindWriteFailed, false, fmt.Errorf("opening %s: %w", path, err))
	}
	w := &Writer{file: f}
	if totalSize > 0 {
		_ = preallocate(f, totalSize) // best-effort; see preallocate doc
	}
	return w, nil
}

// WriteAt writes p at absolute offset off. Multiple goroutines may call
// WriteAt concurrently on disjoint ranges; the OS guarantees positioned
// writes to disjoint offsets are independent.
func (w *Writer) WriteAt(p []byte, off int64) error {
	_, err := w.file.WriteAt(p, off)
	if err != nil {
		return newErr(KindWriteFailed, isTransientWriteErr(err), err)
	}
	return nil
}

// Sync issues a single fsync, exactly once, after the final segment
// completes and before the PartMap sidecar is removed, so data durability
// precedes the sidecar deletion that commits the transfer.
func (w *Writer) Sync() error {
	if err := w.file.Sync(); err != nil {
		return newErr(KindWriteFailed, false, err)
	}
	return nil
}

// Close releases the file handle.
func (w *Writer) Close() error {
	return w.file.Close()
}

// preallocate extends f to size bytes. On Linux/Unix, Truncate creates a
// sparse file: it sets the metadata size without zero-filling blocks, so
// later positioned writes land at valid offsets from the start.
func preallocate(f *os.File, size int64) error {
	return f.Truncate(size)
}
