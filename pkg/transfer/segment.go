package transfer

import (
	"sync"
	"sync/atomic"
)

// SegmentState is the lifecycle state of a Segment.
type SegmentState int

const (
	Pending SegmentState = iota
	Running
	Completed
	Failed
)

func (s SegmentState) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Running:
		return "Running"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Segment is a half-open byte interval [Start, End) of the target file
// plus its assignment state. End is mutated in place (via atomic store) by
// the Scheduler when a Running segment is split; the owning Worker polls
// End cooperatively at each chunk boundary.
type Segment struct {
	Start int64

	end       atomic.Int64
	bytesDone atomic.Int64

	mu               sync.Mutex
	state            SegmentState
	source           *Source
	attempts         int
	lastErr          error
	lastFailedSource *Source
}

func newSegment(start, end int64) *Segment {
	s := &Segment{Start: start, state: Pending}
	s.end.Store(end)
	return s
}

func (s *Segment) End() int64        { return s.end.Load() }
func (s *Segment) setEnd(v int64)    { s.end.Store(v) }
func (s *Segment) BytesDone() int64  { return s.bytesDone.Load() }
func (s *Segment) addBytesDone(n int64) int64 { return s.bytesDone.Add(n) }

func (s *Segment) Remaining() int64 {
	return s.End() - s.Start - s.BytesDone()
}

func (s *Segment) State() SegmentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Segment) Source() *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

func (s *Segment) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// LastFailedSource returns the Source that most recently failed this
// segment, or nil if it has never failed. The Scheduler uses this to
// avoid reassigning a just-retried segment straight back to the source
// that failed it.
func (s *Segment) LastFailedSource() *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFailedSource
}

// Planner produces the initial Segment list from a probed total size.
type Planner struct {
	InitialSegments int
}

// Plan splits [0, total) into up to InitialSegments equal segments, each
// no smaller than 1 MiB except the last, which may be shorter (a file
// under 1 MiB is a single segment). total < 0 means the size is unknown (no source
// supports ranges): a single unbounded segment is produced to be streamed
// on one connection.
func (p *Planner) Plan(total int64) []*Segment {
	if total < 0 {
		return []*Segment{newSegment(0, -1)}
	}
	if total == 0 {
		return nil
	}

	count := p.InitialSegments
	if count <= 0 {
		count = defaultInitialSegments
	}
	if byFloor := total / minSegmentSize; int64(count) > byFloor {
		if byFloor < 1 {
			byFloor = 1
		}
		count = int(byFloor)
	}

	size := (total + int64(count) - 1) / int64(count)
	segments := make([]*Segment, 0, count)
	for start := int64(0); start < total; start += size {
		end := start + size
		if end > total {
			end = total
		}
		segments = append(segments, newSegment(start, end))
	}
	return segments
}
