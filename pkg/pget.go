package pget

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/replicate/kdl/pkg/client"
	"github.com/replicate/kdl/pkg/consumer"
	"github.com/replicate/kdl/pkg/logging"
	"github.com/replicate/kdl/pkg/transfer"
)

// ManifestEntry is one url/destination pair from a multifile manifest.
type ManifestEntry struct {
	URL  string
	Dest string
}

// Manifest groups ManifestEntry values by scheme+host, the same bucketing
// a single ClientPool uses for its per-host connection cap, so files that
// share a host are dispatched together.
type Manifest map[string][]ManifestEntry

// AddEntry appends urlString/dest to the bucket for urlString's host,
// initializing m if it is nil.
func (m Manifest) AddEntry(urlString, dest string) (Manifest, error) {
	host, err := client.GetSchemeHostKey(urlString)
	if err != nil {
		return m, fmt.Errorf("error parsing url %s: %w", urlString, err)
	}
	if m == nil {
		m = make(Manifest)
	}
	m[host] = append(m[host], ManifestEntry{URL: urlString, Dest: dest})
	return m, nil
}

// Getter drives one or many transfer.Engine runs against a shared
// transfer.Config template, round-tripper, and post-processing Consumer.
type Getter struct {
	// Config is a template: OutputPath and Sources are overwritten per
	// call, every other field (concurrency, retries, bandwidth cap, ...)
	// is shared across every file Getter downloads.
	Config transfer.Config
	Do     func(ctx context.Context, req *http.Request) (*http.Response, error)
	Bus    *transfer.EventBus
	// Logger is optional; nil falls back to logging.GetLogger().
	Logger *zerolog.Logger

	Consumer consumer.Consumer

	// MaxConcurrentFiles bounds DownloadFiles' fan-out; zero means
	// unlimited.
	MaxConcurrentFiles int
}

// DownloadFile runs a single transfer for urlString, then hands the
// completed download off to Consumer. It returns the transferred byte
// count and the total wall-clock time (transfer + consume).
func (g *Getter) DownloadFile(ctx context.Context, urlString, dest string) (int64, time.Duration, error) {
	if g.Consumer == nil {
		g.Consumer = &consumer.FileWriter{}
	}
	logger := g.Logger
	if logger == nil {
		l := logging.GetLogger()
		logger = &l
	}

	cfg := g.Config
	cfg.Sources = append([]string{urlString}, g.Config.Sources...)

	srcPath := dest
	if _, direct := g.Consumer.(*consumer.FileWriter); !direct {
		srcPath = dest + ".kdldownload"
	}
	cfg.OutputPath = srcPath

	do := g.Do
	if do == nil {
		do = client.NewClientPool(cfg.ConnectionsPerHost).Do
	}

	eng := transfer.New(cfg, do, g.Bus, *logger)

	downloadStart := time.Now()
	result, err := eng.Transfer(ctx)
	if err != nil {
		return 0, 0, err
	}
	downloadElapsed := time.Since(downloadStart)

	writeStart := time.Now()
	if err := g.Consumer.Consume(srcPath, dest); err != nil {
		return result.TotalBytes, 0, fmt.Errorf("error writing file: %w", err)
	}
	writeElapsed := time.Since(writeStart)
	totalElapsed := time.Since(downloadStart)

	logger.Info().
		Str("dest", dest).
		Str("size", humanize.Bytes(uint64(result.TotalBytes))).
		Str("download_throughput", fmt.Sprintf("%s/s", humanize.Bytes(uint64(float64(result.TotalBytes)/downloadElapsed.Seconds())))).
		Str("download_elapsed", fmt.Sprintf("%.3fs", downloadElapsed.Seconds())).
		Str("write_elapsed", fmt.Sprintf("%.3fs", writeElapsed.Seconds())).
		Str("total_elapsed", fmt.Sprintf("%.3fs", totalElapsed.Seconds())).
		Msg("Complete")
	return result.TotalBytes, totalElapsed, nil
}

// DownloadFiles runs DownloadFile concurrently over every entry in
// manifest; the host grouping does not change how entries are scheduled
// (ClientPool already enforces the real per-host cap). It returns the aggregate byte
// count and wall-clock time across the whole batch.
func (g *Getter) DownloadFiles(ctx context.Context, manifest Manifest) (int64, time.Duration, error) {
	var eg errgroup.Group
	if g.MaxConcurrentFiles > 0 {
		eg.SetLimit(g.MaxConcurrentFiles)
	}

	var mu sync.Mutex
	var totalBytes int64
	batchStart := time.Now()

	for _, entries := range manifest {
		for _, entry := range entries {
			url, dest := entry.URL, entry.Dest
			eg.Go(func() error {
				size, _, err := g.DownloadFile(ctx, url, dest)
				if err != nil {
					return fmt.Errorf("error downloading %s: %w", url, err)
				}
				mu.Lock()
				totalBytes += size
				mu.Unlock()
				return nil
			})
		}
	}

	if err := eg.Wait(); err != nil {
		return 0, 0, err
	}
	return totalBytes, time.Since(batchStart), nil
}
