package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterUnlimitedNeverBlocks(t *testing.T) {
	l := NewLimiter(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.NoError(t, l.Wait(ctx, 10<<20))
}

func TestLimiterChunksRequestsLargerThanBurst(t *testing.T) {
	l := NewLimiter(2 * minSegmentSize) // burst floors at 1 MiB
	// 3 MiB at 2 MiB/s with a full 1 MiB bucket needs 1s of refill, so the
	// deadline leaves room beyond that.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// 3 MiB at a 1 MiB burst requires more than one WaitN call internally;
	// this exercises that path without asserting on timing.
	assert.NoError(t, l.Wait(ctx, 3*minSegmentSize))
}

func TestLimiterRespectsContextCancellation(t *testing.T) {
	l := NewLimiter(1) // 1 byte/sec, burst floored up to 1 MiB
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Wait(ctx, minSegmentSize)
	assert.Error(t, err)
}
