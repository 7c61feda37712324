package consumer

import (
	"fmt"
	"os"

	"github.com/replicate/kdl/pkg/extract"
)

// ZipExtractor unpacks a zip archive into destPath, which is treated as a
// directory. Unlike TarExtractor it needs random access to the archive
// (the central directory sits at the end), so it reads directly from the
// file already on disk instead of any in-memory buffering.
type ZipExtractor struct{}

var _ Consumer = &ZipExtractor{}

func (f *ZipExtractor) Consume(srcPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("error opening %s: %w", srcPath, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("error stat-ing %s: %w", srcPath, err)
	}

	if err := extract.ZipFile(src, destPath, info.Size()); err != nil {
		return fmt.Errorf("error extracting file: %w", err)
	}
	return os.Remove(srcPath)
}

func (f *ZipExtractor) EnableOverwrite() {
	// archive/zip always overwrites destination files; no op.
}
