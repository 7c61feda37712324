package cli

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/replicate/kdl/pkg/transfer"
)

func TestExitCode(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil", nil, ExitSuccess},
		{"cancelled context", context.Canceled, ExitCancelled},
		{"cancelled transfer error", &transfer.Error{Kind: transfer.KindCancelled}, ExitCancelled},
		{"checksum mismatch", &transfer.Error{Kind: transfer.KindChecksumMismatch}, ExitChecksumMismatch},
		{"write failed", &transfer.Error{Kind: transfer.KindWriteFailed}, ExitFilesystemFailed},
		{"partmap corrupt", &transfer.Error{Kind: transfer.KindPartMapCorrupt}, ExitFilesystemFailed},
		{"probe failed", &transfer.Error{Kind: transfer.KindProbeFailed}, ExitNetworkFailure},
		{"plain error", errors.New("boom"), ExitNetworkFailure},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ExitCode(tc.err))
		})
	}
}
