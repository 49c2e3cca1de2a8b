package dimensions

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"scrapbook/internal/database"
	"scrapbook/internal/fetcher"
	"scrapbook/internal/logging"
	"scrapbook/internal/metrics"
)

var (
	// ErrJobRunning is returned by Start while a job is active.
	ErrJobRunning = errors.New("dimension job already running")
	// ErrJobNotRunning is returned by Stop when no job is active.
	ErrJobNotRunning = errors.New("no dimension job running")
)

const (
	// rateEvery is how often, in items, the throughput figure is refreshed.
	rateEvery = 10
	// rateWindow is the number of items after which the rate window restarts.
	rateWindow = 100
)

// Prober learns image dimensions for a URL.
type Prober interface {
	ProbeDimensions(ctx context.Context, rawURL string) (int, int, error)
	ProbeVideoDimensions(ctx context.Context, rawURL string) (int, int, error)
	VideoAvailable() bool
}

// Config holds resolver settings.
type Config struct {
	// Workers bounds concurrent probes within a batch.
	Workers int
	// BatchSize is used when Options.BatchSize is zero.
	BatchSize int
	// BatchPause separates batches in continuous mode.
	BatchPause time.Duration
	// CacheDir, when set, lets same-origin /cached/ URLs be measured from
	// the file on disk instead of over HTTP.
	CacheDir string
}

// Options describe one job.
type Options struct {
	// Limit caps the number of pins processed; 0 means no cap.
	Limit      int  `json:"limit"`
	Continuous bool `json:"continuous"`
	BatchSize  int  `json:"batchSize"`
	// BoardID restricts the job to one board; 0 means all boards.
	BoardID int64 `json:"boardId"`
	// DryRun probes and records outcomes without writing dimensions.
	DryRun bool `json:"dryRun"`
}

// JobState is the progress of the current or most recent job.
type JobState struct {
	IsRunning   bool       `json:"isRunning"`
	Continuous  bool       `json:"continuous"`
	DryRun      bool       `json:"dryRun"`
	Total       int        `json:"total"`
	Processed   int        `json:"processed"`
	Success     int        `json:"success"`
	Failed      int        `json:"failed"`
	Skipped     int        `json:"skipped"`
	Batches     int        `json:"batches"`
	Rate        float64    `json:"rate"`
	StartTime   *time.Time `json:"startTime"`
	EndTime     *time.Time `json:"endTime"`
	CurrentItem string     `json:"currentItem"`
	Error       string     `json:"error,omitempty"`
}

// Stats combines dimension coverage with the job state.
type Stats struct {
	database.DimensionCounts
	Job JobState `json:"job"`
}

// ActivitySnapshot is the activity log plus the running flag.
type ActivitySnapshot struct {
	Entries   []ActivityEntry `json:"entries"`
	IsRunning bool            `json:"isRunning"`
}

// Resolver backfills width and height for pins. At most one job runs at a
// time; its state is guarded by one mutex.
type Resolver struct {
	db       *database.Database
	prober   Prober
	cfg      Config
	activity *ActivityLog
	log      *logging.Logger
	now      func() time.Time

	mu          sync.Mutex
	state       JobState
	cancel      context.CancelFunc
	done        chan struct{}
	windowStart time.Time
	windowCount int
}

// NewResolver creates an idle resolver.
func NewResolver(db *database.Database, prober Prober, cfg Config) *Resolver {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.BatchPause < 0 {
		cfg.BatchPause = 0
	}

	return &Resolver{
		db:       db,
		prober:   prober,
		cfg:      cfg,
		activity: NewActivityLog(ActivityCapacity),
		log:      logging.Named("dimensions"),
		now:      time.Now,
	}
}

// SetClock replaces the time source used for timestamps and the rate.
func (r *Resolver) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Start launches a job in the background. It returns ErrJobRunning if one is
// already active; the request is neither queued nor merged.
func (r *Resolver) Start(opts Options) error {
	if opts.BatchSize <= 0 {
		opts.BatchSize = r.cfg.BatchSize
	}
	if opts.Limit < 0 {
		opts.Limit = 0
	}

	r.mu.Lock()
	if r.state.IsRunning {
		r.mu.Unlock()
		return ErrJobRunning
	}

	now := r.now()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.state = JobState{
		IsRunning:  true,
		Continuous: opts.Continuous,
		DryRun:     opts.DryRun,
		StartTime:  &now,
	}
	r.cancel = cancel
	r.done = done
	r.windowStart = now
	r.windowCount = 0
	r.mu.Unlock()

	metrics.DimensionJobRunning.Set(1)
	metrics.DimensionJobRate.Set(0)
	r.log.Info("Starting dimension job (limit=%d, continuous=%v, batch size=%d, dry run=%v)",
		opts.Limit, opts.Continuous, opts.BatchSize, opts.DryRun)

	go r.run(ctx, opts, done)
	return nil
}

// Stop asks the running job to finish. The job stops between items; probes
// already in flight complete first.
func (r *Resolver) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.state.IsRunning {
		return ErrJobNotRunning
	}
	r.cancel()
	r.log.Info("Dimension job stop requested")
	return nil
}

// Wait blocks until the current job, if any, has finished.
func (r *Resolver) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()

	if done != nil {
		<-done
	}
}

// State returns a copy of the job state.
func (r *Resolver) State() JobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Stats returns coverage counts and the job state.
func (r *Resolver) Stats(ctx context.Context) (Stats, error) {
	counts, err := r.db.DimensionCounts(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{DimensionCounts: counts, Job: r.State()}, nil
}

// ClearActivity empties the activity log. It returns ErrJobRunning while a
// job is active.
func (r *Resolver) ClearActivity() error {
	if r.State().IsRunning {
		return ErrJobRunning
	}
	r.activity.Reset()
	return nil
}

// Activity returns recent outcomes, newest first.
func (r *Resolver) Activity() ActivitySnapshot {
	return ActivitySnapshot{
		Entries:   r.activity.Entries(),
		IsRunning: r.State().IsRunning,
	}
}

func (r *Resolver) run(ctx context.Context, opts Options, done chan struct{}) {
	defer close(done)
	defer r.finish()

	r.estimateTotal(ctx, opts)

	query := database.DimensionQuery{
		BoardID:         opts.BoardID,
		PreferredHosts:  fetcher.PreferredHosts,
		ImageExtensions: fetcher.ImageExtensions,
	}
	remaining := opts.Limit

	for {
		if ctx.Err() != nil {
			r.log.Info("Dimension job stopped")
			return
		}

		query.Limit = opts.BatchSize
		if opts.Limit > 0 {
			if remaining <= 0 {
				return
			}
			if remaining < query.Limit {
				query.Limit = remaining
			}
		}

		batch, err := r.db.PinsMissingDimensions(ctx, query)
		if err != nil {
			if ctx.Err() == nil {
				r.log.Error("Failed to load dimension batch: %v", err)
				r.setError(err)
			}
			return
		}
		if len(batch) == 0 {
			r.log.Info("No more pins missing dimensions")
			return
		}

		query.Cursor = query.Cursor.Advance(batch[len(batch)-1])
		r.beginBatch(len(batch))
		r.processBatch(ctx, batch)
		remaining -= len(batch)

		if !opts.Continuous {
			return
		}

		if r.cfg.BatchPause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(r.cfg.BatchPause):
			}
		}
	}
}

// estimateTotal sets the expected item count from current coverage.
func (r *Resolver) estimateTotal(ctx context.Context, opts Options) {
	counts, err := r.db.DimensionCounts(ctx)
	if err != nil {
		r.log.Warn("Failed to count pins missing dimensions: %v", err)
		return
	}
	metrics.DimensionCoverage.Set(counts.Coverage())

	total := counts.TotalPins - counts.PinsWithDimensions
	if opts.Limit > 0 && opts.Limit < total {
		total = opts.Limit
	}
	if !opts.Continuous && opts.BatchSize < total {
		total = opts.BatchSize
	}

	r.mu.Lock()
	r.state.Total = total
	r.mu.Unlock()
}

func (r *Resolver) beginBatch(size int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.Batches++
	if need := r.state.Processed + size; need > r.state.Total {
		r.state.Total = need
	}
	r.log.Debug("Dimension batch %d: %d pins", r.state.Batches, size)
}

func (r *Resolver) processBatch(ctx context.Context, batch []database.DimensionCandidate) {
	var g errgroup.Group
	g.SetLimit(r.cfg.Workers)

	for _, c := range batch {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			r.processItem(ctx, c)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Resolver) processItem(ctx context.Context, c database.DimensionCandidate) {
	r.setCurrent(c.ImageURL)

	// Let in-flight probes finish after a stop; they carry their own timeout
	probeCtx := context.WithoutCancel(ctx)

	if name, ok := localCacheName(c.ImageURL); ok && r.cfg.CacheDir != "" {
		w, h, err := r.localDimensions(name)
		if err != nil {
			r.log.Debug("Cached file for pin %d unreadable: %v", c.PinID, err)
			r.record(c, OutcomeFailed, 0, 0, fetcher.ErrorClass(err))
			return
		}
		if c.EntryID == 0 {
			if entry, err := r.db.EntryByFilename(probeCtx, name); err == nil {
				c.EntryID = entry.ID
			}
		}
		r.complete(probeCtx, c, w, h)
		return
	}

	if fetcher.IsLocalPlaceholder(c.ImageURL) {
		r.record(c, OutcomeSkipped, 0, 0, "local placeholder")
		return
	}

	classification := fetcher.Classify(c.ImageURL)
	if classification.Kind == fetcher.KindDenylisted {
		r.log.Debug("Skipping pin %d: %s", c.PinID, classification.Reason)
		r.record(c, OutcomeSkipped, 0, 0, classification.Reason)
		return
	}

	var w, h int
	var err error
	switch {
	case classification.Kind == fetcher.KindVideo && !r.prober.VideoAvailable():
		err = fetcher.ErrCapabilityUnavailable
	case classification.Kind == fetcher.KindVideo:
		w, h, err = r.prober.ProbeVideoDimensions(probeCtx, c.ImageURL)
	default:
		w, h, err = r.prober.ProbeDimensions(probeCtx, c.ImageURL)
	}
	if err != nil {
		r.log.Debug("Dimension probe failed for pin %d: %v", c.PinID, err)
		r.record(c, OutcomeFailed, 0, 0, fetcher.ErrorClass(err))
		return
	}

	r.complete(probeCtx, c, w, h)
}

// complete stores measured dimensions, or only logs them on a dry run.
func (r *Resolver) complete(ctx context.Context, c database.DimensionCandidate, w, h int) {
	if r.State().DryRun {
		r.log.Info("Dry run: pin %d is %dx%d (%s)", c.PinID, w, h, truncateURL(c.ImageURL))
		r.record(c, OutcomeSuccess, w, h, "")
		return
	}

	if err := r.store(ctx, c, w, h); err != nil {
		r.log.Error("Failed to store dimensions for pin %d: %v", c.PinID, err)
		r.record(c, OutcomeFailed, 0, 0, "store")
		return
	}
	r.record(c, OutcomeSuccess, w, h, "")
}

// store writes dimensions to the pin's entry, creating a low quality entry
// when the pin has none, and links the pin to it.
func (r *Resolver) store(ctx context.Context, c database.DimensionCandidate, w, h int) error {
	entryID := c.EntryID
	if entryID == 0 {
		id, err := r.db.UpsertPending(ctx, c.ImageURL, database.QualityLow)
		if err != nil {
			return err
		}
		entryID = id
	}
	if err := r.db.UpdateDimensions(ctx, entryID, w, h); err != nil {
		return err
	}
	_, err := r.db.LinkPin(ctx, c.PinID, entryID)
	return err
}

func (r *Resolver) setCurrent(u string) {
	r.mu.Lock()
	r.state.CurrentItem = truncateURL(u)
	r.mu.Unlock()
}

func (r *Resolver) setError(err error) {
	r.mu.Lock()
	r.state.Error = err.Error()
	r.mu.Unlock()
}

// record updates counters, the rate and the activity log for one item.
func (r *Resolver) record(c database.DimensionCandidate, outcome Outcome, w, h int, errMsg string) {
	r.mu.Lock()
	now := r.now()
	r.mu.Unlock()

	entry := ActivityEntry{
		Timestamp: now,
		PinID:     c.PinID,
		URL:       c.ImageURL,
		Outcome:   outcome,
	}
	if outcome == OutcomeSuccess {
		entry.Width, entry.Height = &w, &h
	}
	if errMsg != "" {
		entry.Error = &errMsg
	}
	r.activity.Add(entry)
	metrics.DimensionItemsTotal.WithLabelValues(string(outcome)).Inc()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.Processed++
	switch outcome {
	case OutcomeSuccess:
		r.state.Success++
	case OutcomeFailed:
		r.state.Failed++
	case OutcomeSkipped:
		r.state.Skipped++
	}

	r.windowCount++
	if r.state.Processed%rateEvery == 0 {
		if elapsed := now.Sub(r.windowStart).Seconds(); elapsed > 0 {
			r.state.Rate = float64(r.windowCount) / elapsed
			metrics.DimensionJobRate.Set(r.state.Rate)
		}
	}
	if r.windowCount >= rateWindow {
		r.windowStart = now
		r.windowCount = 0
	}
}

func (r *Resolver) finish() {
	r.refreshCoverage()

	r.mu.Lock()
	now := r.now()
	r.state.IsRunning = false
	r.state.EndTime = &now
	r.state.CurrentItem = ""
	r.cancel()
	state := r.state
	r.mu.Unlock()

	metrics.DimensionJobRunning.Set(0)
	r.log.Info("Dimension job finished: %d processed (%d success, %d failed, %d skipped) in %d batches",
		state.Processed, state.Success, state.Failed, state.Skipped, state.Batches)
}

// refreshCoverage sets the coverage gauge from current counts.
func (r *Resolver) refreshCoverage() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	counts, err := r.db.DimensionCounts(ctx)
	if err != nil {
		r.log.Warn("Failed to refresh dimension coverage: %v", err)
		return
	}
	metrics.DimensionCoverage.Set(counts.Coverage())
}
