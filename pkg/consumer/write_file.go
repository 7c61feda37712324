package consumer

import (
	"fmt"
	"os"
)

// FileWriter is the default Consumer: the download already landed at its
// final byte layout on disk, so Consume just relocates it to destPath.
type FileWriter struct {
	Overwrite bool
}

var _ Consumer = &FileWriter{}

func (f *FileWriter) Consume(srcPath, destPath string) error {
	if srcPath == destPath {
		return nil
	}
	if !f.Overwrite {
		if _, err := os.Stat(destPath); err == nil {
			return fmt.Errorf("destination %s already exists", destPath)
		}
	}
	if err := os.Rename(srcPath, destPath); err != nil {
		return fmt.Errorf("error moving file into place: %w", err)
	}
	return nil
}

func (f *FileWriter) EnableOverwrite() {
	f.Overwrite = true
}
