package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"scrapbook/internal/cache"
	"scrapbook/internal/database"
	"scrapbook/internal/dimensions"
	"scrapbook/internal/fetcher"
	"scrapbook/internal/logging"
	"scrapbook/internal/media"
	"scrapbook/internal/startup"
)

const (
	// How often live progress is redrawn on a terminal
	progressInterval = 500 * time.Millisecond
	// Default cleanup age for -cleanup
	defaultDaysOld = 30
)

// options is the parsed command line. Exactly one of the modes is set.
type options struct {
	cacheAll   bool
	cleanup    bool
	dimensions bool

	daysOld    int
	continuous bool
	limit      int
	boardID    int64
	batchSize  int
	dryRun     bool
	verbose    bool
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if opts.verbose {
		logging.SetLevel(logging.LevelDebug)
	}

	// Create a context that cancels on interrupt signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, finishing in-flight work...")
		cancel()
	}()

	if err := startup.LoadEnvFile(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	config := startup.ReadConfig()
	if err := startup.PrepareDirectories(config); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	db, err := database.New(ctx, config.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect to database: %v\n", err)
		fmt.Fprintf(os.Stderr, "Make sure DATABASE_DIR is set correctly (current: %s)\n", config.DatabaseDir)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
		}
	}()

	f := fetcher.New(fetcher.Config{
		Timeout:          config.FetchTimeout,
		ProbeBytes:       config.ProbeBytes,
		MaxDownloadBytes: config.MaxDownloadBytes,
		UserAgent:        config.FetchUserAgent,
	})

	pr := newProgress(os.Stdout, term.IsTerminal(int(os.Stdout.Fd())))

	switch {
	case opts.cacheAll:
		if err := media.InitVips(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: libvips unavailable, using pure Go decoders: %v\n", err)
		}
		defer media.ShutdownVips()

		pool := cache.NewPool(db, f, cache.Config{
			CacheDir:  config.CacheDir,
			Workers:   config.CacheWorkers,
			QueueSize: config.CacheQueueSize,
			Retry: cache.RetryPolicy{
				MaxRetries:  config.CacheMaxRetries,
				BaseBackoff: config.CacheBackoffBase,
			},
		})
		err = runCacheAll(ctx, pool, opts, pr)
	case opts.cleanup:
		pool := cache.NewPool(db, f, cache.Config{CacheDir: config.CacheDir})
		err = runCleanup(ctx, pool, opts, pr)
	case opts.dimensions:
		resolver := dimensions.NewResolver(db, f, dimensions.Config{
			Workers:    config.DimensionWorkers,
			BatchSize:  config.DimensionBatchSize,
			BatchPause: time.Second,
			CacheDir:   config.CacheDir,
		})
		err = runDimensions(ctx, resolver, opts, pr)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses args into options. Usage goes to out.
func parseFlags(args []string, out io.Writer) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("mediactl", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() { printUsage(out, fs) }

	fs.BoolVar(&opts.cacheAll, "cache-all", false, "Cache every pin whose image is not cached yet")
	fs.BoolVar(&opts.cleanup, "cleanup", false, "Expire cached files not accessed recently")
	fs.BoolVar(&opts.dimensions, "dimensions", false, "Resolve missing pin dimensions")
	fs.IntVar(&opts.daysOld, "days-old", defaultDaysOld, "Cleanup: expire files not accessed in this many days")
	fs.BoolVar(&opts.continuous, "continuous", false, "Dimensions: keep going batch after batch until done")
	fs.IntVar(&opts.limit, "limit", 0, "Maximum number of pins to process (0 = no limit)")
	fs.Int64Var(&opts.boardID, "board", 0, "Only process pins on this board (0 = all boards)")
	fs.IntVar(&opts.batchSize, "batch-size", 0, "Dimensions: pins per batch (0 = DIMENSION_BATCH_SIZE)")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Dimensions: probe and report without writing to the database")
	fs.BoolVar(&opts.verbose, "verbose", false, "Log every item at debug level")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument %q", sanitizeArg(fs.Arg(0)))
	}

	modes := 0
	for _, set := range []bool{opts.cacheAll, opts.cleanup, opts.dimensions} {
		if set {
			modes++
		}
	}
	if modes != 1 {
		return nil, errors.New("exactly one of -cache-all, -cleanup or -dimensions is required")
	}

	switch {
	case opts.daysOld <= 0:
		return nil, errors.New("-days-old must be positive")
	case opts.limit < 0:
		return nil, errors.New("-limit must not be negative")
	case opts.boardID < 0:
		return nil, errors.New("-board must not be negative")
	case opts.batchSize < 0:
		return nil, errors.New("-batch-size must not be negative")
	case opts.dryRun && !opts.dimensions:
		return nil, errors.New("-dry-run only applies to -dimensions")
	}

	return opts, nil
}

// sanitizeArg returns a safe representation of a user-supplied argument for
// display, replacing anything outside [a-zA-Z0-9_-] with '_'.
func sanitizeArg(arg string) string {
	var b strings.Builder
	b.Grow(len(arg))
	for _, r := range arg {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func printUsage(out io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(out, "Scrapbook media cache maintenance")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Usage: mediactl -cache-all | -cleanup | -dimensions [options]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")
	fs.PrintDefaults()
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Environment:")
	fmt.Fprintln(out, "  DATABASE_DIR - Path to database directory (default: /database)")
	fmt.Fprintln(out, "  CACHE_DIR    - Path to cache directory (default: /cache)")
	fmt.Fprintln(out, "  ENV_FILE     - Optional env file to load first (default: .env)")
}

func runCacheAll(ctx context.Context, pool *cache.Pool, opts *options, pr *progress) error {
	stopProgress := pr.follow(func() string {
		s := pool.Stats()
		return fmt.Sprintf("cached %d, hits %d, failed %d, skipped %d, queued %d",
			s.Cached, s.Hits, s.Failed, s.Skipped, s.QueueDepth)
	})

	queued, err := pool.QueuePending(ctx, opts.limit, opts.boardID)
	pool.Drain(ctx)
	stopProgress()
	if err != nil {
		return err
	}

	s := pool.Stats()
	fmt.Fprintf(pr.out, "Queued %d pins: %d cached, %d already cached, %d failed, %d skipped, %d unavailable\n",
		queued, s.Cached, s.Hits, s.Failed, s.Skipped, s.Unavailable)
	return ctx.Err()
}

func runCleanup(ctx context.Context, pool *cache.Pool, opts *options, pr *progress) error {
	retention := time.Duration(opts.daysOld) * 24 * time.Hour
	result, err := pool.Sweep(ctx, retention)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	fmt.Fprintf(pr.out, "Expired %d entries older than %d days, %d with missing files (%d errors)\n",
		result.Stale, opts.daysOld, result.Missing, result.Errors)
	return nil
}

func runDimensions(ctx context.Context, resolver *dimensions.Resolver, opts *options, pr *progress) error {
	err := resolver.Start(dimensions.Options{
		Limit:      opts.limit,
		Continuous: opts.continuous,
		BatchSize:  opts.batchSize,
		BoardID:    opts.boardID,
		DryRun:     opts.dryRun,
	})
	if err != nil {
		return err
	}

	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = resolver.Stop()
		case <-finished:
		}
	}()

	stopProgress := pr.follow(func() string {
		st := resolver.State()
		line := fmt.Sprintf("%d/%d processed (%d ok, %d failed, %d skipped) %.1f/s",
			st.Processed, st.Total, st.Success, st.Failed, st.Skipped, st.Rate)
		if st.CurrentItem != "" {
			line += " " + st.CurrentItem
		}
		return line
	})
	resolver.Wait()
	close(finished)
	stopProgress()

	st := resolver.State()
	fmt.Fprintf(pr.out, "Processed %d pins in %d batches: %d resolved, %d failed, %d skipped\n",
		st.Processed, st.Batches, st.Success, st.Failed, st.Skipped)
	if st.DryRun {
		fmt.Fprintln(pr.out, "Dry run: no dimensions were written")
	}
	if st.Error != "" {
		return errors.New(st.Error)
	}
	return ctx.Err()
}
