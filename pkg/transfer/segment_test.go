package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlannerPlanCoversWholeRangeNoGapsNoOverlap(t *testing.T) {
	p := &Planner{InitialSegments: 4}
	segs := p.Plan(10 * minSegmentSize)
	require.Len(t, segs, 4)

	var prevEnd int64
	for _, s := range segs {
		assert.Equal(t, prevEnd, s.Start)
		prevEnd = s.End()
	}
	assert.Equal(t, int64(10*minSegmentSize), prevEnd)
}

func TestPlannerFloorsSegmentCountAtOneMiB(t *testing.T) {
	p := &Planner{InitialSegments: 64}
	segs := p.Plan(3 * minSegmentSize)
	assert.Equal(t, 3, len(segs))
	for _, s := range segs {
		assert.GreaterOrEqual(t, s.End()-s.Start, int64(minSegmentSize))
	}
}

func TestPlannerSingleByteTransfer(t *testing.T) {
	p := &Planner{InitialSegments: 16}
	segs := p.Plan(1)
	require.Len(t, segs, 1)
	assert.Equal(t, int64(0), segs[0].Start)
	assert.Equal(t, int64(1), segs[0].End())
}

func TestPlannerUnknownSizeProducesSingleUnboundedSegment(t *testing.T) {
	p := &Planner{InitialSegments: 16}
	segs := p.Plan(-1)
	require.Len(t, segs, 1)
	assert.Equal(t, int64(-1), segs[0].End())
}

func TestPlannerZeroSizeProducesNoSegments(t *testing.T) {
	p := &Planner{}
	assert.Empty(t, p.Plan(0))
}

func TestSegmentRemainingAccountsForBytesDone(t *testing.T) {
	s := newSegment(0, 100)
	s.addBytesDone(40)
	assert.Equal(t, int64(60), s.Remaining())
}

func TestSegmentStateTransitions(t *testing.T) {
	s := newSegment(0, 100)
	assert.Equal(t, Pending, s.State())
	s.mu.Lock()
	s.state = Running
	s.mu.Unlock()
	assert.Equal(t, "Running", s.State().String())
}
