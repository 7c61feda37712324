package transfer

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// splitMinRemaining is the smallest remaining-bytes a Running segment must
// have before the Scheduler will split it (4x the minimum segment size).
const splitMinRemaining = 4 * minSegmentSize

// Scheduler is the single cooperative controller: it owns the Segment
// list and every Source's assignment state, and is the sole goroutine
// that mutates either. Workers run concurrently but communicate back only
// through the results channel and atomic counters on the Segment/Source
// they were handed.
type Scheduler struct {
	cfg     Config
	writer  *Writer
	limiter *Limiter
	partmap *PartMap
	bus     *EventBus
	do      func(ctx context.Context, req *http.Request) (*http.Response, error)
	logger  zerolog.Logger

	segments  []*Segment
	sources   []*Source
	totalSize int64

	hostActive map[string]int

	targetParallelism int
	activeWorkers     int

	results chan workerResult

	prevIntervalBytes int64
	prevThroughput    float64
}

// NewScheduler wires a Scheduler for a single transfer. segments must
// already cover [0, totalSize) with no gaps (the Planner's job, minus
// whatever the PartMap already marked Completed).
func NewScheduler(cfg Config, sources []*Source, segments []*Segment, totalSize int64, pm *PartMap, w *Writer, lim *Limiter, bus *EventBus, do func(context.Context, *http.Request) (*http.Response, error), logger zerolog.Logger) *Scheduler {
	s := &Scheduler{
		cfg:        cfg,
		writer:     w,
		limiter:    lim,
		partmap:    pm,
		bus:        bus,
		do:         do,
		logger:     logger,
		segments:   segments,
		sources:    sources,
		totalSize:  totalSize,
		hostActive: make(map[string]int),
		results:    make(chan workerResult, 64),
	}
	s.targetParallelism = initialParallelism(cfg, len(segments))
	return s
}

func initialParallelism(cfg Config, segmentCount int) int {
	p := cfg.connectionsPerHost()
	if segmentCount > 0 && segmentCount < p {
		p = segmentCount
	}
	if p > maxParallelism {
		p = maxParallelism
	}
	if p < 1 {
		p = 1
	}
	return p
}

// Run drives the transfer to completion or a terminal failure. It blocks
// until every byte of [0, totalSize) is Completed, ctx is cancelled, or
// every source is exhausted.
func (s *Scheduler) Run(ctx context.Context) error {
	s.bus.Publish(Event{Kind: EventStarted, Total: s.totalSize})

	ticker := time.NewTicker(s.cfg.adaptInterval())
	defer ticker.Stop()

	s.assign(ctx)
	if s.activeWorkers == 0 && !s.allCompleted() {
		return s.fail(newErr(KindAllSourcesExhausted, false, nil))
	}

	for {
		if s.allCompleted() {
			return s.finish()
		}
		if s.activeWorkers == 0 {
			// assign just ran and could start nothing: every remaining
			// segment is Failed or has no eligible source left.
			return s.fail(newErr(KindAllSourcesExhausted, false, nil))
		}
		select {
		case <-ctx.Done():
			s.drain()
			return s.fail(newErr(KindCancelled, false, ctx.Err()))
		case res := <-s.results:
			s.handleResult(ctx, res)
		case <-ticker.C:
			s.adapt()
			s.assign(ctx)
		}
	}
}

// drain waits for all in-flight workers to report back after cancellation,
// so the final PartMap includes every segment that completed before the
// workers stopped. Bytes a cancelled worker wrote for a segment it did
// not finish are not recorded.
func (s *Scheduler) drain() {
	for s.activeWorkers > 0 {
		res := <-s.results
		s.activeWorkers--
		if res.outcome == outcomeCompleted && res.seg.BytesDone() > 0 {
			s.recordCompletedBytes(res.seg)
		}
	}
}

// allCompleted reports whether the transfer has written every byte of
// [0, totalSize). The PartMap's completed-byte total, not the live
// Segment list, is authoritative: a resumed transfer may start with zero
// Pending segments yet already be fully covered by intervals the
// sidecar recorded in an earlier run.
func (s *Scheduler) allCompleted() bool {
	if s.totalSize >= 0 {
		if s.totalSize == 0 {
			return true
		}
		return s.partmap.CompletedBytes() == s.totalSize
	}
	// Size was unknown at plan time: completion means the single
	// unbounded segment finished streaming.
	for _, seg := range s.segments {
		if seg.State() != Completed {
			return false
		}
	}
	return len(s.segments) > 0
}

func (s *Scheduler) finish() error {
	if err := s.writer.Sync(); err != nil {
		return err
	}
	if err := s.partmap.Remove(); err != nil {
		s.logger.Warn().Err(err).Msg("removing partmap sidecar")
	}
	s.bus.Publish(Event{Kind: EventCompleted, BytesDone: s.totalSize, Total: s.totalSize})
	return nil
}

func (s *Scheduler) fail(err *Error) error {
	s.bus.Publish(Event{Kind: EventFailed, ErrKind: err.Kind, Message: err.Error()})
	return err
}

func (s *Scheduler) handleResult(ctx context.Context, res workerResult) {
	s.activeWorkers--
	host := hostOf(res.source.URL)
	s.hostActive[host]--
	res.source.release()

	seg := res.seg
	switch res.outcome {
	case outcomeCompleted:
		res.source.recordSuccess(res.bytesPerSec)
		s.recordCompletedBytes(seg)
		s.bus.Publish(Event{Kind: EventSegmentCompleted, SegStart: seg.Start, SegEnd: seg.End(), SourceURL: res.source.URL})
	case outcomeFailed:
		s.handleFailure(seg, res.source, res.err)
	}

	s.assign(ctx)
}

// recordCompletedBytes folds seg's extent into the PartMap and persists
// the sidecar before returning, so the caller's subsequent
// EventSegmentCompleted publish always happens after the bytes are
// durable on disk, never before.
func (s *Scheduler) recordCompletedBytes(seg *Segment) {
	seg.mu.Lock()
	seg.state = Completed
	start, end := seg.Start, seg.End()
	if end < 0 {
		// unbounded segment (size was unknown at plan time): its actual
		// extent is whatever it ended up streaming.
		end = start + seg.BytesDone()
		seg.setEnd(end)
		s.totalSize = end
	}
	seg.mu.Unlock()

	s.partmap.Add(start, end)
	if err := s.partmap.Save(); err != nil {
		s.logger.Warn().Err(err).Msg("persisting partmap")
	}
}

func (s *Scheduler) handleFailure(seg *Segment, src *Source, err *Error) {
	seg.mu.Lock()
	seg.lastErr = err
	seg.lastFailedSource = src
	seg.state = Pending
	seg.source = nil
	seg.mu.Unlock()

	if !err.Retryable {
		src.demote()
		s.bus.Publish(Event{Kind: EventSourceDemoted, SourceURL: src.URL, Reason: err.Error()})
		return
	}

	// Only retryable failures charge the segment's retry budget: a 4xx
	// that isn't 408/429 demotes the source outright above and returns a
	// segment that hasn't actually spent an attempt.
	seg.mu.Lock()
	seg.attempts++
	attempts := seg.attempts
	seg.mu.Unlock()

	if attempts >= s.cfg.maxRetries() {
		seg.mu.Lock()
		seg.state = Failed
		seg.mu.Unlock()
		return
	}
	src.recordFailure()
	if src.unhealthy() {
		s.bus.Publish(Event{Kind: EventSourceDemoted, SourceURL: src.URL, Reason: "three consecutive failures"})
	}
}

// assign fills worker slots up to targetParallelism: each Pending segment
// is handed to the highest-scoring healthy Source that hasn't exceeded
// its per-host connection cap. When no Pending segment remains but there
// is spare parallelism, it tries to split a Running segment instead.
func (s *Scheduler) assign(ctx context.Context) {
	for s.activeWorkers < s.targetParallelism {
		seg := s.nextPending()
		if seg == nil {
			if !s.trySplit() {
				return
			}
			seg = s.nextPending()
			if seg == nil {
				return
			}
		}
		src := s.pickSource(seg)
		if src == nil {
			return
		}
		s.startWorker(ctx, seg, src)
	}
}

func (s *Scheduler) nextPending() *Segment {
	for _, seg := range s.segments {
		if seg.State() == Pending {
			return seg
		}
	}
	return nil
}

// pickSource chooses the best healthy, uncapped Source for seg: highest
// score first, ties broken by fewest active workers and then by earliest
// lexicographic URL. A Source that just failed this segment is excluded
// on this pass so a retried segment doesn't bounce straight back to it;
// if it turns out to be the only eligible Source, a second pass allows it.
func (s *Scheduler) pickSource(seg *Segment) *Source {
	if best := s.pickSourceExcluding(seg, seg.LastFailedSource()); best != nil {
		return best
	}
	return s.pickSourceExcluding(seg, nil)
}

func (s *Scheduler) pickSourceExcluding(seg *Segment, excl *Source) *Source {
	perHostCap := s.cfg.connectionsPerHost()
	var best *Source
	for _, src := range s.sources {
		if src == excl {
			continue
		}
		if src.unhealthy() {
			continue
		}
		if !src.SupportsRanges && seg.Start != 0 {
			continue
		}
		host := hostOf(src.URL)
		if s.hostActive[host] >= perHostCap {
			continue
		}
		if better(src, best) {
			best = src
		}
	}
	return best
}

// better reports whether candidate should replace cur as pickSource's
// choice: highest score wins; ties go to fewer active workers, then to
// the earlier URL in lexicographic order.
func better(candidate, cur *Source) bool {
	if cur == nil {
		return true
	}
	if candidate.Score() != cur.Score() {
		return candidate.Score() > cur.Score()
	}
	if candidate.active() != cur.active() {
		return candidate.active() < cur.active()
	}
	return candidate.URL < cur.URL
}

func (s *Scheduler) startWorker(ctx context.Context, seg *Segment, src *Source) {
	seg.mu.Lock()
	seg.state = Running
	seg.source = src
	seg.mu.Unlock()

	src.acquire()
	s.hostActive[hostOf(src.URL)]++
	s.activeWorkers++

	w := &worker{
		cfg:     s.cfg,
		seg:     seg,
		source:  src,
		writer:  s.writer,
		limiter: s.limiter,
		bus:     s.bus,
		do:      s.do,
		results: s.results,
	}
	go w.run(ctx)
}

// trySplit implements the segment-splitting rule: when every segment is
// Running or Completed but target parallelism exceeds running workers,
// the largest-remaining Running segment (if big enough, and
// range-capable) is cut in half at its midpoint-of-remaining-bytes.
func (s *Scheduler) trySplit() bool {
	var candidate *Segment
	var candidateRemaining int64
	for _, seg := range s.segments {
		if seg.State() != Running {
			continue
		}
		src := seg.Source()
		if src == nil || !src.SupportsRanges {
			continue
		}
		remaining := seg.Remaining()
		if remaining < splitMinRemaining {
			continue
		}
		if remaining > candidateRemaining {
			candidate, candidateRemaining = seg, remaining
		}
	}
	if candidate == nil {
		return false
	}

	candidate.mu.Lock()
	start, bytesDone, end := candidate.Start, candidate.BytesDone(), candidate.End()
	remaining := end - start - bytesDone
	newEnd := start + bytesDone + remaining/2
	candidate.end.Store(newEnd)
	candidate.mu.Unlock()

	s.segments = append(s.segments, newSegment(newEnd, end))
	return true
}

// adapt implements the adaptive-parallelism rule, sampled every adapt
// interval over the bytes actually committed to the PartMap's completed
// intervals (a monotonic, race-free proxy for aggregate throughput).
func (s *Scheduler) adapt() {
	total := s.partmap.CompletedBytes()
	intervalBytes := total - s.prevIntervalBytes
	s.prevIntervalBytes = total
	throughput := float64(intervalBytes) / s.cfg.adaptInterval().Seconds()

	pending := s.pendingCount()
	saturated := s.hostCapsSaturated()

	switch {
	case throughput > s.prevThroughput*1.05 && pending > 0 && !saturated:
		s.targetParallelism++
	case throughput < s.prevThroughput*0.90:
		if s.targetParallelism > 1 {
			s.targetParallelism--
		}
	}
	s.prevThroughput = throughput

	ceiling := s.cfg.connectionsPerHost() * len(s.distinctHosts())
	if len(s.segments) < ceiling {
		ceiling = len(s.segments)
	}
	if ceiling > maxParallelism {
		ceiling = maxParallelism
	}
	if ceiling < 1 {
		ceiling = 1
	}
	if s.targetParallelism > ceiling {
		s.targetParallelism = ceiling
	}

	s.bus.Publish(Event{
		Kind:           EventProgress,
		Total:          s.totalSize,
		BytesDone:      total,
		Throughput:     throughput,
		ActiveSegments: s.activeWorkers,
		PendingCount:   pending,
		TargetParallel: s.targetParallelism,
	})
}

func (s *Scheduler) pendingCount() int {
	n := 0
	for _, seg := range s.segments {
		if seg.State() == Pending {
			n++
		}
	}
	return n
}

func (s *Scheduler) hostCapsSaturated() bool {
	perHostCap := s.cfg.connectionsPerHost()
	for _, n := range s.hostActive {
		if n < perHostCap {
			return false
		}
	}
	return len(s.hostActive) > 0
}

func (s *Scheduler) distinctHosts() map[string]struct{} {
	hosts := make(map[string]struct{})
	for _, src := range s.sources {
		hosts[hostOf(src.URL)] = struct{}{}
	}
	return hosts
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}
