package cache

import (
	"context"
	"errors"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"scrapbook/internal/database"
	"scrapbook/internal/fetcher"
	"scrapbook/internal/filesystem"
	"scrapbook/internal/logging"
	"scrapbook/internal/media"
	"scrapbook/internal/metrics"
)

// stopTimeout bounds how long Stop waits for workers to drain the queue
// before cancelling in-flight fetches.
const stopTimeout = 10 * time.Second

// Fetcher is the slice of fetcher.Fetcher the pool needs.
type Fetcher interface {
	FetchImageBytes(ctx context.Context, rawURL string, maxProbeBytes int64) ([]byte, error)
	FetchVideoFrame(ctx context.Context, rawURL string, timestamp time.Duration) ([]byte, error)
	VideoAvailable() bool
}

// Config holds pool settings.
type Config struct {
	CacheDir  string
	Workers   int
	QueueSize int
	Retry     RetryPolicy
	// FrameOffset is where in a video the cached frame is taken.
	FrameOffset time.Duration
	// Backpressure, when set, is consulted before each task so decoding
	// pauses while the process is short on memory.
	Backpressure Backpressure
}

// Backpressure blocks callers while resources are exhausted.
type Backpressure interface {
	WaitIfPaused() bool
}

// Task is one (pin, URL, quality) unit of caching work.
type Task struct {
	PinID   int64
	URL     string
	Quality database.QualityLevel
}

// Outcomes recorded per task.
const (
	outcomeCached      = "cached"
	outcomeHit         = "hit"
	outcomeFailed      = "failed"
	outcomeSkipped     = "skipped"
	outcomeUnavailable = "unavailable"
	outcomePanic       = "panic"
)

// Stats is a point-in-time view of the pool.
type Stats struct {
	Running       bool  `json:"running"`
	Workers       int   `json:"workers"`
	QueueDepth    int   `json:"queueDepth"`
	QueueCapacity int   `json:"queueCapacity"`
	SweepRunning  bool  `json:"sweepRunning"`
	Processed     int64 `json:"processed"`
	Cached        int64 `json:"cached"`
	Hits          int64 `json:"hits"`
	Failed        int64 `json:"failed"`
	Skipped       int64 `json:"skipped"`
	Unavailable   int64 `json:"unavailable"`
	Dropped       int64 `json:"dropped"`
}

// Pool is a fixed set of workers draining one FIFO queue of caching tasks.
// Failures are contained per task and recorded on the entry; nothing is ever
// returned to the code that enqueued the work.
type Pool struct {
	db      *database.Database
	fetcher Fetcher
	cfg     Config
	fsRetry filesystem.RetryConfig
	log     *logging.Logger
	now     func() time.Time

	mu       sync.Mutex
	running  bool
	workers  int
	tasks    chan *Task
	stopping chan struct{}
	cancel   context.CancelFunc
	wg       *sync.WaitGroup

	sweeping    atomic.Bool
	cleanupMu   sync.Mutex
	cleanupStop chan struct{}

	processed   atomic.Int64
	cached      atomic.Int64
	hits        atomic.Int64
	failed      atomic.Int64
	skipped     atomic.Int64
	unavailable atomic.Int64
	dropped     atomic.Int64
}

// NewPool creates a stopped pool.
func NewPool(db *database.Database, f Fetcher, cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	// A budget of zero would mark every entry exhausted before its first
	// attempt, so it falls back to the default like an unset policy.
	if cfg.Retry.MaxRetries <= 0 {
		cfg.Retry.MaxRetries = DefaultRetryPolicy().MaxRetries
	}
	if cfg.Retry.BaseBackoff <= 0 {
		cfg.Retry.BaseBackoff = DefaultRetryPolicy().BaseBackoff
	}
	if cfg.FrameOffset <= 0 {
		cfg.FrameOffset = time.Second
	}

	return &Pool{
		db:      db,
		fetcher: f,
		cfg:     cfg,
		fsRetry: filesystem.DefaultRetryConfig(),
		log:     logging.Named("cache"),
		now:     time.Now,
	}
}

// SetClock replaces the time source used for retry eligibility.
func (p *Pool) SetClock(now func() time.Time) {
	p.now = now
}

// Start launches workerCount workers. It is a no-op if the pool is running.
func (p *Pool) Start(workerCount int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startLocked(workerCount)
}

func (p *Pool) startLocked(workerCount int) {
	if p.running {
		return
	}
	if workerCount <= 0 {
		workerCount = p.cfg.Workers
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.tasks = make(chan *Task, p.cfg.QueueSize)
	p.stopping = make(chan struct{})
	p.cancel = cancel
	p.workers = workerCount
	p.wg = &sync.WaitGroup{}
	p.running = true

	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, p.wg, p.tasks)
	}

	p.log.Info("Started %d cache workers (queue size %d)", workerCount, p.cfg.QueueSize)
}

// Stop queues one sentinel per worker behind any pending work and waits for
// the workers to exit. If they have not finished within the join timeout,
// in-flight fetches are cancelled.
func (p *Pool) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	p.shutdown(ctx)
}

// Drain is Stop without the join timeout: every queued task runs unless ctx
// ends first, in which case in-flight work is cancelled.
func (p *Pool) Drain(ctx context.Context) {
	p.shutdown(ctx)
}

func (p *Pool) shutdown(ctx context.Context) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	tasks := p.tasks
	stopping := p.stopping
	cancel := p.cancel
	n := p.workers
	wg := p.wg
	p.mu.Unlock()

	close(stopping)

	sentinelCtx, stopSentinels := context.WithCancel(context.Background())
	defer stopSentinels()
	go func() {
		for i := 0; i < n; i++ {
			select {
			case tasks <- nil:
			case <-sentinelCtx.Done():
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info("Cache workers stopped")
	case <-ctx.Done():
		p.log.Warn("Cache workers did not drain (%v), cancelling in-flight work", ctx.Err())
		cancel()
		<-done
	}
	cancel()
	metrics.CacheQueueDepth.Set(0)
}

// Running reports whether workers are active.
func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Enqueue schedules a caching task without blocking and starts the pool if
// it is idle. Duplicate tasks for the same key are harmless. It reports false
// when the queue was full and the task was dropped.
func (p *Pool) Enqueue(pinID int64, sourceURL string, quality database.QualityLevel) bool {
	if quality == "" {
		quality = database.QualityLow
	}
	task := &Task{PinID: pinID, URL: sourceURL, Quality: quality}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.startLocked(p.cfg.Workers)

	select {
	case p.tasks <- task:
		metrics.CacheQueueDepth.Set(float64(len(p.tasks)))
		return true
	default:
		p.dropped.Add(1)
		metrics.CacheQueueDropped.Inc()
		p.log.Warn("Cache queue full, dropping task for pin %d (%s)", pinID, sourceURL)
		return false
	}
}

// enqueueWait blocks until the task is queued or the pool stops. Bulk sweeps
// use it so a large backlog is not dropped on the floor.
func (p *Pool) enqueueWait(ctx context.Context, task *Task) bool {
	p.mu.Lock()
	p.startLocked(p.cfg.Workers)
	tasks, stopping := p.tasks, p.stopping
	p.mu.Unlock()

	select {
	case tasks <- task:
		metrics.CacheQueueDepth.Set(float64(len(tasks)))
		return true
	case <-stopping:
		return false
	case <-ctx.Done():
		return false
	}
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	s := Stats{
		Running:       p.running,
		Workers:       p.workers,
		QueueCapacity: p.cfg.QueueSize,
	}
	if p.tasks != nil && p.running {
		s.QueueDepth = len(p.tasks)
	}
	p.mu.Unlock()

	s.SweepRunning = p.sweeping.Load()
	s.Processed = p.processed.Load()
	s.Cached = p.cached.Load()
	s.Hits = p.hits.Load()
	s.Failed = p.failed.Load()
	s.Skipped = p.skipped.Load()
	s.Unavailable = p.unavailable.Load()
	s.Dropped = p.dropped.Load()
	return s
}

func (p *Pool) worker(ctx context.Context, wg *sync.WaitGroup, tasks <-chan *Task) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-tasks:
			if task == nil {
				return
			}
			metrics.CacheQueueDepth.Set(float64(len(tasks)))
			if p.cfg.Backpressure != nil {
				p.cfg.Backpressure.WaitIfPaused()
			}
			p.runTask(ctx, task)
		}
	}
}

// runTask processes one task inside a failure boundary: a panic marks the
// entry failed and the worker carries on.
func (p *Pool) runTask(ctx context.Context, task *Task) {
	metrics.CacheWorkersActive.Inc()
	defer metrics.CacheWorkersActive.Dec()

	var entryID int64
	outcome := outcomePanic

	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Panic while caching %s for pin %d: %v\n%s", task.URL, task.PinID, r, debug.Stack())
			if entryID != 0 {
				if err := p.db.MarkFailed(context.Background(), entryID); err != nil && !errors.Is(err, database.ErrConcurrencyConflict) {
					p.log.Error("Failed to mark entry %d failed after panic: %v", entryID, err)
				}
			}
		}
		p.record(task, outcome)
	}()

	outcome = p.process(ctx, task, &entryID)
}

func (p *Pool) record(task *Task, outcome string) {
	p.processed.Add(1)
	switch outcome {
	case outcomeCached:
		p.cached.Add(1)
	case outcomeHit:
		p.hits.Add(1)
	case outcomeFailed, outcomePanic:
		p.failed.Add(1)
	case outcomeSkipped:
		p.skipped.Add(1)
	case outcomeUnavailable:
		p.unavailable.Add(1)
	}
	metrics.CacheTasksTotal.WithLabelValues(string(task.Quality), outcome).Inc()
}

func (p *Pool) cachePath(filename string) string {
	return filepath.Join(p.cfg.CacheDir, filename)
}

// process runs the caching algorithm for one task and returns its outcome.
// entryID is published as soon as it is known so the panic handler can mark
// the right row.
func (p *Pool) process(ctx context.Context, task *Task, entryID *int64) string {
	classification := fetcher.Classify(task.URL)
	if classification.Kind == fetcher.KindDenylisted {
		p.log.Debug("Skipping %s: %s", task.URL, classification.Reason)
		return outcomeSkipped
	}

	entry, err := p.db.FindEntry(ctx, task.URL, task.Quality)
	if err != nil {
		p.log.Error("Failed to look up cache entry for %s: %v", task.URL, err)
		return outcomeFailed
	}

	if entry != nil && entry.Status == database.StatusCached {
		if outcome, done := p.reuseCached(ctx, task, entry); done {
			return outcome
		}
		entry = nil
	}

	if entry == nil {
		id, err := p.db.UpsertPending(ctx, task.URL, task.Quality)
		if err != nil {
			p.log.Error("Failed to create cache entry for %s: %v", task.URL, err)
			return outcomeFailed
		}
		if entry, err = p.db.GetEntry(ctx, id); err != nil {
			p.log.Error("Failed to read cache entry %d: %v", id, err)
			return outcomeFailed
		}
		// Another worker may have finished the same key in between
		if entry.Status == database.StatusCached {
			if outcome, done := p.reuseCached(ctx, task, entry); done {
				return outcome
			}
		}
	}
	*entryID = entry.ID

	if !p.cfg.Retry.ShouldRetry(entry, p.now()) {
		p.log.Debug("Entry %d for %s not eligible for retry (retries=%d)", entry.ID, task.URL, entry.RetryCount)
		return outcomeSkipped
	}

	if classification.Kind == fetcher.KindVideo && !p.fetcher.VideoAvailable() {
		p.markUnavailable(ctx, entry.ID, task.URL)
		return outcomeUnavailable
	}

	start := time.Now()
	var data []byte
	if classification.Kind == fetcher.KindVideo {
		data, err = p.fetcher.FetchVideoFrame(ctx, task.URL, p.cfg.FrameOffset)
	} else {
		data, err = p.fetcher.FetchImageBytes(ctx, task.URL, 0)
	}
	metrics.CacheTaskDuration.WithLabelValues("fetch").Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, fetcher.ErrCapabilityUnavailable) {
			p.markUnavailable(ctx, entry.ID, task.URL)
			return outcomeUnavailable
		}
		if errors.Is(err, fetcher.ErrDenylisted) {
			return outcomeSkipped
		}
		p.markFailed(ctx, entry.ID, task.URL, err)
		return outcomeFailed
	}

	start = time.Now()
	ext := media.Extension(task.URL)
	result, err := media.Normalize(data, task.Quality, ext)
	metrics.CacheTaskDuration.WithLabelValues("process").Observe(time.Since(start).Seconds())
	if err != nil {
		p.markFailed(ctx, entry.ID, task.URL, err)
		return outcomeFailed
	}

	start = time.Now()
	filename := media.CacheFilename(task.URL, task.Quality)
	err = filesystem.WriteFileAtomic(p.cachePath(filename), result.Data, 0o644, p.fsRetry)
	metrics.CacheTaskDuration.WithLabelValues("write").Observe(time.Since(start).Seconds())
	if err != nil {
		p.markFailed(ctx, entry.ID, task.URL, err)
		return outcomeFailed
	}

	err = p.db.MarkCached(ctx, entry.ID, filename, int64(len(result.Data)), result.Width, result.Height)
	if errors.Is(err, database.ErrConcurrencyConflict) {
		// Expired by a sweep while we worked; the next request starts over
		p.log.Debug("Entry %d expired while caching %s", entry.ID, task.URL)
		return outcomeSkipped
	}
	if err != nil {
		p.log.Error("Failed to record cached entry %d: %v", entry.ID, err)
		return outcomeFailed
	}

	p.linkPin(ctx, task.PinID, entry.ID)
	p.log.Info("Cached %s for pin %d as %s (%d bytes, %dx%d)",
		task.URL, task.PinID, filename, len(result.Data), result.Width, result.Height)
	return outcomeCached
}

// reuseCached short-circuits a task whose entry is already cached. If the
// file has gone missing the entry is expired and done is false, so the
// caller creates a fresh entry and fetches again.
func (p *Pool) reuseCached(ctx context.Context, task *Task, entry *database.MediaCacheEntry) (outcome string, done bool) {
	if entry.StoredFilename != "" && filesystem.Exists(p.cachePath(entry.StoredFilename)) {
		if err := p.db.TouchEntry(ctx, entry.ID); err != nil {
			p.log.Warn("Failed to touch entry %d: %v", entry.ID, err)
		}
		p.linkPin(ctx, task.PinID, entry.ID)
		return outcomeHit, true
	}

	p.log.Warn("Cached file %q for %s is missing, fetching again", entry.StoredFilename, task.URL)
	if err := p.db.MarkExpired(ctx, entry.ID); err != nil && !errors.Is(err, database.ErrConcurrencyConflict) {
		p.log.Error("Failed to expire entry %d with missing file: %v", entry.ID, err)
		return outcomeFailed, true
	}
	metrics.CacheSweepExpired.WithLabelValues("missing_file").Inc()
	return "", false
}

func (p *Pool) linkPin(ctx context.Context, pinID, entryID int64) {
	if pinID == 0 {
		return
	}
	linked, err := p.db.LinkPin(ctx, pinID, entryID)
	if err != nil {
		p.log.Error("Failed to link pin %d to entry %d: %v", pinID, entryID, err)
		return
	}
	if !linked {
		p.log.Debug("Pin %d no longer exists, entry %d left unlinked", pinID, entryID)
	}
}

func (p *Pool) markFailed(ctx context.Context, id int64, sourceURL string, cause error) {
	p.log.Warn("Failed to cache %s: %v", sourceURL, cause)
	// Record the failure even if the task context was cancelled
	if err := p.db.MarkFailed(context.WithoutCancel(ctx), id); err != nil && !errors.Is(err, database.ErrConcurrencyConflict) {
		p.log.Error("Failed to mark entry %d failed: %v", id, err)
	}
}

func (p *Pool) markUnavailable(ctx context.Context, id int64, sourceURL string) {
	p.log.Warn("Cannot cache %s: %v", sourceURL, fetcher.ErrCapabilityUnavailable)
	if err := p.db.MarkUnavailable(context.WithoutCancel(ctx), id); err != nil && !errors.Is(err, database.ErrConcurrencyConflict) {
		p.log.Error("Failed to mark entry %d unavailable: %v", id, err)
	}
}
