package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// workerOutcome is what a Worker reports back to the Scheduler when its
// assignment ends, one way or another.
type workerOutcome int

const (
	outcomeCompleted workerOutcome = iota
	outcomeFailed
)

// workerResult is the single message type Workers send the Scheduler.
// Workers never block the Scheduler; communication happens only through
// this bounded channel.
type workerResult struct {
	seg         *Segment
	source      *Source
	outcome     workerOutcome
	bytesPerSec float64
	err         *Error
}

// worker executes one Segment's ranged GET against its assigned Source,
// streaming the body in chunkSize pieces, gating each chunk through the
// Limiter, and positioned-writing it to w. It cooperatively polls
// seg.End() so a Scheduler split can shrink its work out from under it
// without any lock.
type worker struct {
	cfg     Config
	seg     *Segment
	source  *Source
	writer  *Writer
	limiter *Limiter
	bus     *EventBus
	do      func(ctx context.Context, req *http.Request) (*http.Response, error)
	results chan<- workerResult
}

func (w *worker) run(ctx context.Context) {
	start := w.seg.Start + w.seg.BytesDone()
	// reqCtx is cancelled once no bytes have arrived for requestTimeout;
	// the stall timer is re-armed after every chunk.
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stall := time.AfterFunc(w.cfg.requestTimeout(), cancel)
	defer stall.Stop()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, w.source.URL, nil)
	if err != nil {
		w.fail(newErr(KindNetworkFatal, false, err))
		return
	}
	end := w.seg.End()
	if end < 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
	} else {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end-1))
	}

	t0 := time.Now()
	resp, err := w.do(reqCtx, req)
	if err != nil {
		w.fail(newErr(KindNetworkTransient, true, err))
		return
	}
	defer resp.Body.Close()

	body := io.Reader(resp.Body)
	switch resp.StatusCode {
	case http.StatusPartialContent:
		gotStart, gotEnd, rerr := parseContentRange(resp.Header.Get("Content-Range"))
		if rerr != nil {
			w.fail(newErr(KindNetworkFatal, false, rerr))
			return
		}
		wantEnd := end - 1
		if end < 0 {
			wantEnd = gotEnd // open-ended request: the server picks the end.
		}
		if gotStart != start || gotEnd != wantEnd {
			w.source.demote()
			w.fail(newErr(KindRangeUnsupported, false, fmt.Errorf(
				"content-range mismatch: requested %d-%d, got %d-%d", start, wantEnd, gotStart, gotEnd)))
			return
		}
	case http.StatusRequestedRangeNotSatisfiable:
		w.complete(time.Since(t0))
		return
	case http.StatusOK:
		if w.source.SupportsRanges {
			// A source that advertised range support just ignored our
			// Range header: treat this as revocation rather than quietly
			// re-reading and discarding the whole body.
			w.source.demote()
			if w.bus != nil {
				w.bus.Publish(Event{Kind: EventSourceDemoted, SourceURL: w.source.URL, Reason: "200 OK returned for a ranged request"})
			}
			w.fail(newErr(KindRangeUnsupported, true, fmt.Errorf("source revoked range support")))
			return
		}
		// Source never claimed range support: this is the expected
		// whole-body stream. Discard the leading bytes we already have
		// (or that precede our assigned start) and resume from there.
		if start > 0 {
			if _, err := io.CopyN(io.Discard, body, start); err != nil {
				w.fail(newErr(KindNetworkTransient, true, err))
				return
			}
		}
	case http.StatusTooManyRequests, http.StatusRequestTimeout:
		w.fail(newErr(KindNetworkTransient, true, fmt.Errorf("status %d", resp.StatusCode)))
		return
	default:
		if resp.StatusCode >= 500 {
			w.fail(newErr(KindNetworkTransient, true, fmt.Errorf("status %d", resp.StatusCode)))
			return
		}
		// other 4xx: source demoted, segment re-enqueued, no budget charged.
		w.source.demote()
		w.fail(newErr(KindNetworkFatal, false, fmt.Errorf("status %d", resp.StatusCode)))
		return
	}

	chunk := make([]byte, w.cfg.chunkSize())
	for {
		if ctx.Err() != nil {
			w.fail(newErr(KindCancelled, false, ctx.Err()))
			return
		}
		// cooperative split-shrink: stop cleanly once our shrunk End is reached.
		pos := w.seg.Start + w.seg.BytesDone()
		curEnd := w.seg.End()
		if curEnd >= 0 && pos >= curEnd {
			break
		}

		want := chunk
		if curEnd >= 0 && int64(len(want)) > curEnd-pos {
			want = chunk[:curEnd-pos]
		}
		n, readErr := body.Read(want)
		if n > 0 {
			if err := w.limiter.Wait(ctx, n); err != nil {
				w.fail(newErr(KindCancelled, false, err))
				return
			}
			if err := w.writer.WriteAt(want[:n], pos); err != nil {
				w.fail(err.(*Error))
				return
			}
			w.seg.addBytesDone(int64(n))
			stall.Reset(w.cfg.requestTimeout())
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			w.fail(newErr(KindNetworkTransient, true, readErr))
			return
		}
	}
	w.complete(time.Since(t0))
}

func (w *worker) complete(elapsed time.Duration) {
	done := w.seg.BytesDone()
	var bps float64
	if elapsed > 0 {
		bps = float64(done) / elapsed.Seconds()
	}
	w.results <- workerResult{seg: w.seg, source: w.source, outcome: outcomeCompleted, bytesPerSec: bps}
}

func (w *worker) fail(err *Error) {
	w.results <- workerResult{seg: w.seg, source: w.source, outcome: outcomeFailed, err: err}
}

// parseContentRange extracts the start/end byte offsets from a
// "bytes start-end/total" Content-Range header, so a 206 response can be
// checked against the interval actually requested.
func parseContentRange(cr string) (start, end int64, err error) {
	const prefix = "bytes "
	if !strings.HasPrefix(cr, prefix) {
		return 0, 0, fmt.Errorf("malformed Content-Range: %q", cr)
	}
	rest := cr[len(prefix):]
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return 0, 0, fmt.Errorf("malformed Content-Range: %q", cr)
	}
	dash := strings.IndexByte(rest[:slash], '-')
	if dash < 0 {
		return 0, 0, fmt.Errorf("malformed Content-Range: %q", cr)
	}
	start, err = strconv.ParseInt(rest[:dash], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed Content-Range %q: %w", cr, err)
	}
	end, err = strconv.ParseInt(rest[dash+1:slash], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed Content-Range %q: %w", cr, err)
	}
	return start, end, nil
}
