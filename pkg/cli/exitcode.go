package cli

import (
	"context"
	"errors"

	"github.com/replicate/kdl/pkg/transfer"
)

const (
	ExitSuccess          = 0
	ExitNetworkFailure   = 1
	ExitFilesystemFailed = 2
	ExitChecksumMismatch = 3
	ExitInvalidArguments = 4
	ExitCancelled        = 130
)

// ExitCode maps a transfer.Error's Kind, or a context cancellation, to a
// process exit code. Any other error, including an argument error a
// command returns before a transfer starts, maps to ExitNetworkFailure;
// ExitCode never returns ExitInvalidArguments.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	if errors.Is(err, context.Canceled) {
		return ExitCancelled
	}

	var te *transfer.Error
	if errors.As(err, &te) {
		switch te.Kind {
		case transfer.KindCancelled:
			return ExitCancelled
		case transfer.KindChecksumMismatch:
			return ExitChecksumMismatch
		case transfer.KindWriteFailed, transfer.KindPartMapCorrupt:
			return ExitFilesystemFailed
		default:
			return ExitNetworkFailure
		}
	}
	return ExitNetworkFailure
}
