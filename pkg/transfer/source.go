package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Source is an endpoint the target content is fetchable from. Created by
// the Prober and immutable thereafter except for Score, which the
// Scheduler updates as Worker results arrive.
type Source struct {
	URL string

	Size           int64
	SupportsRanges bool
	Validator      string

	score        atomic.Uint64 // float64 bits, EWMA of observed bytes/sec
	consecutive  atomic.Int32  // consecutive failures
	activeCount  atomic.Int32  // workers currently assigned
}

func newSource(url string) *Source {
	s := &Source{URL: url}
	s.setScore(1.0)
	return s
}

func (s *Source) Score() float64       { return math64frombits(s.score.Load()) }
func (s *Source) setScore(v float64)   { s.score.Store(math64bits(v)) }
func (s *Source) active() int          { return int(s.activeCount.Load()) }
func (s *Source) acquire()             { s.activeCount.Add(1) }
func (s *Source) release()             { s.activeCount.Add(-1) }
func (s *Source) unhealthy() bool      { return s.Score() <= 0 }

// recordSuccess folds an observed throughput sample into the EWMA score
// (alpha=0.3) and clears the consecutive-failure count. A successful
// request from a previously unhealthy source resets it to 1.0.
func (s *Source) recordSuccess(bytesPerSec float64) {
	s.consecutive.Store(0)
	if s.unhealthy() {
		s.setScore(1.0)
		return
	}
	const alpha = 0.3
	prev := s.Score()
	s.setScore(alpha*bytesPerSec + (1-alpha)*prev)
}

// recordFailure increments the consecutive-failure counter and demotes the
// source to unhealthy (score 0) after three consecutive failures.
func (s *Source) recordFailure() {
	if s.consecutive.Add(1) >= 3 {
		s.setScore(0)
	}
}

func (s *Source) demote() {
	s.setScore(0)
	s.consecutive.Store(3)
}

// Prober resolves each candidate source URL's size, range support, and
// validator before planning begins.
type Prober struct {
	Do     func(ctx context.Context, req *http.Request) (*http.Response, error)
	Logger zerolog.Logger
}

type probeResult struct {
	source *Source
	err    error
}

// Probe issues a Range: bytes=0-0 request to every candidate URL
// concurrently, reconciles conflicting sizes by majority vote (validators
// are not compared across sources), and returns the surviving healthy
// sources.
func (p *Prober) Probe(ctx context.Context, urls []string) ([]*Source, error) {
	results := make([]probeResult, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			src, err := p.probeOne(ctx, u)
			results[i] = probeResult{source: src, err: err}
		}(i, u)
	}
	wg.Wait()

	var healthy []*Source
	for _, r := range results {
		if r.err != nil {
			p.Logger.Warn().Err(r.err).Msg("probe failed")
			continue
		}
		healthy = append(healthy, r.source)
	}
	if len(healthy) == 0 {
		return nil, newErr(KindProbeFailed, false, fmt.Errorf("all %d probes failed", len(urls)))
	}

	return reconcileSources(healthy)
}

// reconcileSources adopts the majority size and excludes any source
// disagreeing with it. If no majority exists, the transfer fails with
// InconsistentSources.
func reconcileSources(sources []*Source) ([]*Source, error) {
	counts := make(map[int64]int)
	for _, s := range sources {
		counts[s.Size]++
	}
	var majoritySize int64
	var majorityCount int
	for size, n := range counts {
		if n > majorityCount || (n == majorityCount && size < majoritySize) {
			majoritySize, majorityCount = size, n
		}
	}
	if majorityCount*2 <= len(sources) && len(counts) > 1 {
		return nil, newErr(KindInconsistentSources, false,
			fmt.Errorf("no majority size among %d sources", len(sources)))
	}

	var kept []*Source
	for _, s := range sources {
		if s.Size == majoritySize {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return nil, newErr(KindInconsistentSources, false, fmt.Errorf("no sources agree on size"))
	}
	// deterministic order for tie-breaking elsewhere
	sort.Slice(kept, func(i, j int) bool { return kept[i].URL < kept[j].URL })
	return kept, nil
}

func (p *Prober) probeOne(ctx context.Context, url string) (*Source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, newErr(KindProbeFailed, false, err)
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := p.Do(ctx, req)
	if err != nil {
		return nil, newErr(KindProbeFailed, false, err)
	}
	defer resp.Body.Close()

	src := newSource(url)
	switch {
	case resp.StatusCode == http.StatusPartialContent:
		cr := resp.Header.Get("Content-Range")
		size, err := parseContentRangeSize(cr)
		if err != nil {
			return nil, newErr(KindProbeFailed, false, err)
		}
		src.Size = size
		src.SupportsRanges = true
	case resp.StatusCode == http.StatusOK:
		src.Size = resp.ContentLength
		if ar := resp.Header.Get("Accept-Ranges"); strings.EqualFold(ar, "bytes") {
			src.SupportsRanges = true
		}
		// cancel after the first byte: we only needed headers.
		_, _ = io.CopyN(io.Discard, resp.Body, 1)
	default:
		return nil, newErr(KindProbeFailed, resp.StatusCode >= 500, fmt.Errorf("unexpected probe status %d", resp.StatusCode))
	}

	if et := resp.Header.Get("ETag"); et != "" {
		src.Validator = et
	} else if lm := resp.Header.Get("Last-Modified"); lm != "" {
		src.Validator = lm
	}
	return src, nil
}

func parseContentRangeSize(cr string) (int64, error) {
	// Expected: "bytes 0-0/12345"
	idx := strings.LastIndex(cr, "/")
	if idx < 0 || idx == len(cr)-1 {
		return 0, fmt.Errorf("malformed Content-Range: %q", cr)
	}
	total := cr[idx+1:]
	if total == "*" {
		return -1, nil
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed Content-Range %q: %w", cr, err)
	}
	return n, nil
}
