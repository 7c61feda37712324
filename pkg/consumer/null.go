package consumer

import "os"

// NullWriter discards the download outright, for callers that only care
// about side effects (checksum verification, cache warming) and never
// want the bytes on disk.
type NullWriter struct{}

var _ Consumer = &NullWriter{}

func (NullWriter) Consume(srcPath, destPath string) error {
	return os.Remove(srcPath)
}

func (NullWriter) EnableOverwrite() {
	// no op
}
