package transfer

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter is the global leaky-bucket rate gate. It is implemented on top
// of golang.org/x/time/rate, whose token bucket (capacity = burst, refill
// = Limit tokens/sec) implements the same admit-when-tokens-available
// discipline as a leaky bucket. When no bandwidth limit is configured,
// Limiter is a no-op that admits any n immediately.
type Limiter struct {
	rl *rate.Limiter
}

// NewLimiter builds a Limiter refilling at bytesPerSec bytes/sec with
// burst capacity max(bytesPerSec/2, 1 MiB). A non-positive bytesPerSec
// means unlimited.
func NewLimiter(bytesPerSec int64) *Limiter {
	if bytesPerSec <= 0 {
		return &Limiter{}
	}
	burst := bytesPerSec / 2
	if burst < minSegmentSize {
		burst = minSegmentSize
	}
	return &Limiter{rl: rate.NewLimiter(rate.Limit(bytesPerSec), int(burst))}
}

// Wait blocks until n bytes are available to spend, then deducts them.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	if l.rl == nil {
		return nil
	}
	burst := l.rl.Burst()
	for n > burst {
		// Chunk sizes are always well under the 1 MiB burst floor, but
		// guard against a misconfigured caller rather than erroring out
		// of WaitN's "exceeds limiter's burst" check.
		if err := l.rl.WaitN(ctx, burst); err != nil {
			return err
		}
		n -= burst
	}
	if n <= 0 {
		return nil
	}
	return l.rl.WaitN(ctx, n)
}
