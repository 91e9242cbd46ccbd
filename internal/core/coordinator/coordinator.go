// Package coordinator drives the download pipeline: validation,
// cache-hit short-circuit, per-hash deduplication, upstream resolution,
// quality selection, download and atomic cache commit.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/cheggaaa/pb/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"zvuk-dl/internal/config"
	"zvuk-dl/internal/core/cache"
	"zvuk-dl/internal/core/quality"
	"zvuk-dl/internal/interfaces"
	"zvuk-dl/internal/shared"
)

const retryInitialDelay = 1 * time.Second

// Coordinator serializes downloads per hash and caps global download
// concurrency. Safe for concurrent use.
type Coordinator struct {
	cfg      *config.Config
	resolver interfaces.StreamResolver
	fetcher  interfaces.Fetcher
	store    *cache.Store
	log      *zap.SugaredLogger

	// group deduplicates concurrent requests per hash: late callers
	// block on the in-flight operation and share its outcome instead of
	// starting a second download (wait-and-join).
	group singleflight.Group
	sem   *semaphore.Weighted
}

// New wires a coordinator from its collaborators.
func New(cfg *config.Config, resolver interfaces.StreamResolver, fetcher interfaces.Fetcher, store *cache.Store, log *zap.SugaredLogger) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		resolver: resolver,
		fetcher:  fetcher,
		store:    store,
		log:      log,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrentDownloads),
	}
}

// Download runs the full pipeline for one request and returns the
// committed (or pre-existing) cache entry. The optional progress bar is
// only honored by the caller that starts the download.
func (c *Coordinator) Download(ctx context.Context, req *shared.DownloadRequest, bar *pb.ProgressBar) (*shared.CacheEntry, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// Cache hit short-circuits before any upstream traffic. Any
	// acceptable tier counts; best is preferred.
	if entry, ok, err := c.store.Lookup(req.Hash, quality.Preference...); err != nil {
		return nil, err
	} else if ok {
		c.log.Debugw("cache hit", "hash", req.Hash, "quality", entry.Quality.String())
		return entry, nil
	}

	// Do's shared flag is true for every caller when duplicates joined,
	// including the one that ran the flight, so executed tracks which
	// caller that was: only its closure runs.
	executed := false
	v, err, _ := c.group.Do(req.Hash, func() (interface{}, error) {
		executed = true
		// The pipeline is detached from the caller's cancellation: a
		// client disconnect must not abort a download other callers may
		// join or that would complete the cache for future requests. The
		// configured pipeline timeout still bounds it.
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.PipelineTimeout)
		defer cancel()
		return c.run(dctx, req, bar)
	})
	if err != nil {
		return nil, err
	}

	entry := v.(*shared.CacheEntry)
	if !executed && !entry.FromCache {
		// Joiners observe the winner's commit as a cache hit.
		joined := *entry
		joined.FromCache = true
		return &joined, nil
	}
	return entry, nil
}

// run executes one deduplicated pipeline pass.
func (c *Coordinator) run(ctx context.Context, req *shared.DownloadRequest, bar *pb.ProgressBar) (*shared.CacheEntry, error) {
	// A racing request may have committed between the caller's lookup
	// and this flight winning the key.
	if entry, ok, err := c.store.Lookup(req.Hash, quality.Preference...); err != nil {
		return nil, err
	} else if ok {
		return entry, nil
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for a download slot: %w", err)
	}
	defer c.sem.Release(1)

	var entry *shared.CacheEntry
	err := shared.RetryTransient(c.cfg.MaxRetryAttempts, retryInitialDelay, func() error {
		var attemptErr error
		entry, attemptErr = c.pipeline(ctx, req, bar)
		return attemptErr
	})
	if err != nil {
		c.log.Warnw("download failed",
			"hash", req.Hash,
			"kind", shared.ErrorKind(err),
			"err", err.Error())
		return nil, err
	}
	return entry, nil
}

// pipeline is a single authenticate → resolve → select → download →
// commit pass. Each component failure propagates with its originating
// error kind; the temp file never survives a failure.
func (c *Coordinator) pipeline(ctx context.Context, req *shared.DownloadRequest, bar *pb.ProgressBar) (*shared.CacheEntry, error) {
	session, err := c.resolver.Authenticate(ctx, req.AuthCookie)
	if err != nil {
		return nil, err
	}

	trackID := req.ID
	if trackID == "" {
		trackID, err = c.resolver.SearchTrack(ctx, session, req.Title)
		if err != nil {
			return nil, err
		}
		c.log.Debugw("resolved title", "title", req.Title, "track_id", trackID)
	}

	info, err := c.resolver.ResolveTrack(ctx, session, trackID)
	if err != nil {
		return nil, err
	}

	tier, desc, err := quality.Select(info)
	if err != nil {
		return nil, err
	}

	tmpPath, err := c.store.TempFile(req.Hash)
	if err != nil {
		return nil, err
	}

	result, err := c.fetcher.Fetch(ctx, desc, tmpPath, bar)
	if err != nil {
		return nil, err
	}

	entry, err := c.store.Commit(tmpPath, req.Hash, tier, result.Extension)
	if err != nil {
		return nil, err
	}

	c.log.Infow("download committed",
		"hash", req.Hash,
		"track_id", trackID,
		"quality", tier.String(),
		"bytes", result.BytesWritten,
		"path", entry.Path)
	return entry, nil
}
