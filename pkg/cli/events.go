package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/replicate/kdl/pkg/transfer"
)

// eventJSON is the wire shape for the machine-readable event stream. Its
// keys are stable across releases regardless of internal Event field
// names. Fields unused by a given Kind are omitted rather than emitted
// as zero values.
type eventJSON struct {
	Event             string  `json:"event"`
	BytesDownloaded   int64   `json:"bytes_downloaded,omitempty"`
	TotalBytes        int64   `json:"total_bytes,omitempty"`
	Fraction          float64 `json:"fraction,omitempty"`
	BytesPerSecond    float64 `json:"bytes_per_second,omitempty"`
	ActiveSegments    int     `json:"active_segments,omitempty"`
	PendingSegments   int     `json:"pending_segments,omitempty"`
	TargetParallelism int     `json:"target_parallelism,omitempty"`
	SegmentStart      int64   `json:"segment_start,omitempty"`
	SegmentEnd        int64   `json:"segment_end,omitempty"`
	Source            string  `json:"source,omitempty"`
	Reason            string  `json:"reason,omitempty"`
	Kind              string  `json:"kind,omitempty"`
	Message           string  `json:"message,omitempty"`
}

func toEventJSON(ev transfer.Event) eventJSON {
	out := eventJSON{Event: string(ev.Kind)}
	switch ev.Kind {
	case transfer.EventStarted, transfer.EventCompleted:
		out.TotalBytes = ev.Total
	case transfer.EventProgress:
		out.BytesDownloaded = ev.BytesDone
		out.TotalBytes = ev.Total
		if ev.Total > 0 {
			out.Fraction = float64(ev.BytesDone) / float64(ev.Total)
		}
		out.BytesPerSecond = ev.Throughput
		out.ActiveSegments = ev.ActiveSegments
		out.PendingSegments = ev.PendingCount
		out.TargetParallelism = ev.TargetParallel
	case transfer.EventSegmentCompleted:
		out.SegmentStart = ev.SegStart
		out.SegmentEnd = ev.SegEnd
		out.Source = ev.SourceURL
	case transfer.EventSourceDemoted:
		out.Source = ev.SourceURL
		out.Reason = ev.Reason
	case transfer.EventFailed:
		out.Kind = string(ev.ErrKind)
		out.Message = ev.Message
	}
	return out
}

// EventSink writes every Event published on a subscribed channel as one
// JSON object per line to path, or to stderr when path is "-".
type EventSink struct {
	w      io.Writer
	closer io.Closer
}

// NewEventSink opens path for the lifetime of a transfer. Callers close
// the sink by draining its channel to completion via Run, not directly.
func NewEventSink(path string) (*EventSink, error) {
	if path == "-" {
		return &EventSink{w: os.Stderr}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("error opening events sink %s: %w", path, err)
	}
	return &EventSink{w: f, closer: f}, nil
}

// Run drains ch, JSON-encoding each event, until ch is closed, then
// closes done so callers know the last line has been flushed. Intended
// to run in its own goroutine, started before the transfer begins.
func (s *EventSink) Run(ch <-chan transfer.Event, done chan struct{}) {
	defer close(done)
	if s.closer != nil {
		defer s.closer.Close()
	}
	enc := json.NewEncoder(s.w)
	for ev := range ch {
		_ = enc.Encode(toEventJSON(ev))
	}
}
