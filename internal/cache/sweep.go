package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"scrapbook/internal/database"
	"scrapbook/internal/filesystem"
	"scrapbook/internal/metrics"
)

// ErrSweepRunning is returned when a pending-cache sweep is already active.
var ErrSweepRunning = errors.New("cache sweep already running")

// DefaultRetention is how long a cached file may go unaccessed.
const DefaultRetention = 30 * 24 * time.Hour

// SweepResult counts what a cleanup sweep did.
type SweepResult struct {
	Stale   int `json:"stale"`
	Missing int `json:"missing"`
	Errors  int `json:"errors"`
}

// Sweep expires cached entries not accessed within retention: the entry is
// marked expired (which unlinks its pins) and its file deleted. It then
// expires cached entries whose file has vanished from disk so the next
// request fetches them again.
func (p *Pool) Sweep(ctx context.Context, retention time.Duration) (SweepResult, error) {
	var result SweepResult
	cutoff := p.now().Add(-retention)

	stale, err := p.db.StaleEntries(ctx, cutoff)
	if err != nil {
		return result, err
	}

	for _, f := range stale {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if !p.expire(ctx, f, "stale", &result) {
			continue
		}
		result.Stale++
		if err := filesystem.RemoveWithRetry(p.cachePath(f.Filename), p.fsRetry); err != nil {
			p.log.Warn("Failed to delete expired cache file %s: %v", f.Filename, err)
			result.Errors++
		}
	}

	cached, err := p.db.CachedEntries(ctx)
	if err != nil {
		return result, err
	}
	for _, f := range cached {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if f.Filename != "" && filesystem.Exists(p.cachePath(f.Filename)) {
			continue
		}
		if p.expire(ctx, f, "missing_file", &result) {
			result.Missing++
		}
	}

	metrics.CacheSweepLastTimestamp.Set(float64(time.Now().Unix()))
	p.log.Info("Cache sweep complete: %d stale, %d missing files, %d errors",
		result.Stale, result.Missing, result.Errors)
	return result, nil
}

func (p *Pool) expire(ctx context.Context, f database.StoredFile, reason string, result *SweepResult) bool {
	err := p.db.MarkExpired(ctx, f.EntryID)
	if errors.Is(err, database.ErrConcurrencyConflict) {
		// Already expired by a worker or an earlier pass
		return false
	}
	if err != nil {
		p.log.Error("Failed to expire entry %d: %v", f.EntryID, err)
		result.Errors++
		return false
	}
	metrics.CacheSweepExpired.WithLabelValues(reason).Inc()
	return true
}

// StartCleanup runs Sweep every interval until StopCleanup is called.
func (p *Pool) StartCleanup(interval, retention time.Duration) {
	p.cleanupMu.Lock()
	defer p.cleanupMu.Unlock()

	if p.cleanupStop != nil || interval <= 0 {
		return
	}
	stop := make(chan struct{})
	p.cleanupStop = stop

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		p.log.Info("Starting cache cleanup (interval: %v, retention: %v)", interval, retention)
		for {
			select {
			case <-ticker.C:
				if _, err := p.Sweep(context.Background(), retention); err != nil {
					p.log.Error("Periodic cache sweep failed: %v", err)
				}
			case <-stop:
				return
			}
		}
	}()
}

// StopCleanup stops the periodic sweep.
func (p *Pool) StopCleanup() {
	p.cleanupMu.Lock()
	defer p.cleanupMu.Unlock()

	if p.cleanupStop != nil {
		close(p.cleanupStop)
		p.cleanupStop = nil
	}
}

// CacheAllPending starts a background sweep that enqueues every pin whose
// image is not cached yet, newest first. It returns immediately; if a sweep
// is already running the call is a no-op and returns false.
func (p *Pool) CacheAllPending(limit int, boardID int64) bool {
	if !p.sweeping.CompareAndSwap(false, true) {
		return false
	}

	go func() {
		defer p.sweeping.Store(false)
		if _, err := p.queuePending(context.Background(), limit, boardID); err != nil {
			p.log.Error("Cache sweep failed: %v", err)
		}
	}()

	return true
}

// QueuePending is the synchronous form of CacheAllPending: it blocks until
// every candidate is queued and reports how many were.
func (p *Pool) QueuePending(ctx context.Context, limit int, boardID int64) (int, error) {
	if !p.sweeping.CompareAndSwap(false, true) {
		return 0, ErrSweepRunning
	}
	defer p.sweeping.Store(false)
	return p.queuePending(ctx, limit, boardID)
}

func (p *Pool) queuePending(ctx context.Context, limit int, boardID int64) (int, error) {
	candidates, err := p.db.PinsNeedingCache(ctx, limit, boardID)
	if err != nil {
		return 0, fmt.Errorf("list pins needing cache: %w", err)
	}

	p.log.Info("Queueing %d pins for caching", len(candidates))
	queued := 0
	for _, c := range candidates {
		if !p.enqueueWait(ctx, &Task{PinID: c.PinID, URL: c.ImageURL, Quality: database.QualityLow}) {
			p.log.Warn("Cache pool stopped, %d of %d pins queued", queued, len(candidates))
			return queued, nil
		}
		queued++
	}
	p.log.Info("Queued %d pins for caching", queued)
	return queued, nil
}

// SweepRunning reports whether a CacheAllPending sweep is in progress.
func (p *Pool) SweepRunning() bool {
	return p.sweeping.Load()
}
