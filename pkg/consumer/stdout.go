package consumer

import (
	"fmt"
	"io"
	"os"
)

var _ Consumer = &StdoutConsumer{}

type StdoutConsumer struct{}

func (s StdoutConsumer) Consume(srcPath, destPath string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("error opening %s: %w", srcPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(os.Stdout, f); err != nil {
		return fmt.Errorf("error writing to stdout: %w", err)
	}
	return os.Remove(srcPath)
}

func (s StdoutConsumer) EnableOverwrite() {
	// no op
}
