package consumer

import (
	"fmt"
	"os"

	"github.com/replicate/kdl/pkg/extract"
)

// TarExtractor unpacks a (possibly gzip/bzip2/xz/lz4/lzw-compressed) tar
// archive into destPath, which is treated as a directory.
type TarExtractor struct {
	overwrite bool
}

var _ Consumer = &TarExtractor{}

func (f *TarExtractor) Consume(srcPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("error opening %s: %w", srcPath, err)
	}
	defer src.Close()

	r, err := extract.DecompressedReader(src)
	if err != nil {
		return fmt.Errorf("error detecting compression: %w", err)
	}
	if err := extract.TarFile(r, destPath, f.overwrite); err != nil {
		return fmt.Errorf("error extracting file: %w", err)
	}
	return os.Remove(srcPath)
}

func (f *TarExtractor) EnableOverwrite() {
	f.overwrite = true
}
