package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/rs/zerolog"
)

// Result is what a completed Transfer reports back to its caller.
type Result struct {
	OutputPath string
	TotalBytes int64
	SourceURL  string // the Source actually serving, for single-source transfers
}

// Engine is the top-level entry point: Probe → Plan → seed PartMap from
// any resumable sidecar → run the Scheduler to completion. One Engine
// handles one target file.
type Engine struct {
	cfg    Config
	do     func(ctx context.Context, req *http.Request) (*http.Response, error)
	bus    *EventBus
	logger zerolog.Logger
}

// New builds an Engine. do is the underlying HTTP round-trip function
// (normally a client-pool's Do, already wrapping retries/DNS overrides);
// tests substitute a stub.
func New(cfg Config, do func(ctx context.Context, req *http.Request) (*http.Response, error), bus *EventBus, logger zerolog.Logger) *Engine {
	if bus == nil {
		bus = NewEventBus()
	}
	return &Engine{cfg: cfg, do: do, bus: bus, logger: logger}
}

// Events exposes the Engine's EventBus for subscribers: an event-stream
// sink, or an interactive progress bar.
func (e *Engine) Events() *EventBus { return e.bus }

// TransferID returns a stable fingerprint for this Engine's configuration,
// useful for correlating logs/events across a retried invocation. It is
// not part of any on-disk format.
func (e *Engine) TransferID() string {
	h, err := hashstructure.Hash(struct {
		Output  string
		Sources []string
	}{e.cfg.OutputPath, e.cfg.Sources}, hashstructure.FormatV2, nil)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%016x", h)
}

// Transfer runs the full probe/plan/schedule pipeline to completion.
func (e *Engine) Transfer(ctx context.Context) (*Result, error) {
	if len(e.cfg.Sources) == 0 {
		return nil, newErr(KindProbeFailed, false, fmt.Errorf("no sources configured"))
	}

	prober := &Prober{Do: e.do, Logger: e.logger}
	sources, err := prober.Probe(ctx, e.cfg.Sources)
	if err != nil {
		return nil, err
	}
	totalSize := sources[0].Size

	writer, err := OpenWriter(e.cfg.OutputPath, totalSize)
	if err != nil {
		return nil, err
	}
	defer writer.Close()

	validator := sources[0].Validator
	var pm *PartMap
	if e.cfg.Resume {
		if loaded, ok := Load(e.cfg.OutputPath, totalSize, validator); ok {
			pm = loaded
			e.logger.Debug().Int64("resume_bytes", pm.CompletedBytes()).Msg("resuming from partmap")
		}
	}
	if pm == nil {
		pm = NewPartMap(e.cfg.OutputPath, totalSize, validator)
	}

	planner := &Planner{InitialSegments: e.cfg.initialSegments()}
	segments := planner.Plan(totalSize)
	segments = subtractCompleted(segments, pm.Intervals())

	limiter := NewLimiter(e.cfg.BandwidthLimit)
	sched := NewScheduler(e.cfg, sources, segments, totalSize, pm, writer, limiter, e.bus, e.do, e.logger)

	if err := sched.Run(ctx); err != nil {
		return nil, err
	}

	return &Result{OutputPath: e.cfg.OutputPath, TotalBytes: totalSize, SourceURL: sources[0].URL}, nil
}

// subtractCompleted removes any already-Completed byte range (per the
// resumed PartMap) from the Planner's fresh segment list, marking the
// remainder Pending. Segments fully covered by a completed interval are
// dropped; partially covered segments are trimmed to their remaining tail.
func subtractCompleted(segments []*Segment, done []interval) []*Segment {
	if len(done) == 0 {
		return segments
	}
	var out []*Segment
	for _, seg := range segments {
		start, end := seg.Start, seg.End()
		for _, iv := range done {
			if iv.Start <= start && end >= 0 && iv.End >= end {
				start = end // fully covered
				break
			}
			if iv.Start <= start && iv.End > start {
				start = iv.End
			}
		}
		if end < 0 || start < end {
			out = append(out, newSegment(start, end))
		}
	}
	return out
}

// VerifySHA256 checks path's contents against the expected hex digest.
// Used by callers after a successful Transfer when --sha256 was supplied.
func VerifySHA256(path, expectedHex string) error {
	f, err := os.Open(path)
	if err != nil {
		return newErr(KindWriteFailed, false, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return newErr(KindWriteFailed, false, err)
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != expectedHex {
		return newErr(KindChecksumMismatch, false, fmt.Errorf("checksum mismatch: want %s got %s", expectedHex, got))
	}
	return nil
}
