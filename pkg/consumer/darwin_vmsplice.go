//go:build darwin

package consumer

import "github.com/replicate/kdl/pkg/logging"

var _ Consumer = &VMSpliceConsumer{}

type VMSpliceConsumer struct{}

func (v VMSpliceConsumer) Consume(srcPath, destPath string) error {
	logger := logging.GetLogger()
	logger.Warn().Msg("'vmsplice' is not supported on darwin, falling back to stdout")
	return StdoutConsumer{}.Consume(srcPath, destPath)
}

func (v VMSpliceConsumer) EnableOverwrite() {
	// no op
}
