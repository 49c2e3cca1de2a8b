package handlers

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"scrapbook/internal/cache"
	"scrapbook/internal/database"
	"scrapbook/internal/dimensions"
	"scrapbook/internal/filesystem"
	"scrapbook/internal/logging"
)

// Config holds handler settings.
type Config struct {
	CacheDir string
	// Retention is the default age for cleanup requests without ?days=.
	Retention time.Duration
	// TouchInterval is the minimum time between last-access writes for one
	// cached file.
	TouchInterval time.Duration
}

// Handlers serves the admin API and cached media files.
type Handlers struct {
	db       *database.Database
	pool     *cache.Pool
	resolver *dimensions.Resolver
	cfg      Config
	fsRetry  filesystem.RetryConfig
	log      *logging.Logger
	started  time.Time

	// touched remembers recently served filenames so repeated hits do not
	// each write last_accessed_at.
	touched *gocache.Cache
}

// New creates the handlers.
func New(db *database.Database, pool *cache.Pool, resolver *dimensions.Resolver, cfg Config) *Handlers {
	if cfg.Retention <= 0 {
		cfg.Retention = cache.DefaultRetention
	}
	if cfg.TouchInterval <= 0 {
		cfg.TouchInterval = 10 * time.Minute
	}

	return &Handlers{
		db:       db,
		pool:     pool,
		resolver: resolver,
		cfg:      cfg,
		fsRetry:  filesystem.DefaultRetryConfig(),
		log:      logging.Named("http"),
		started:  time.Now(),
		touched:  gocache.New(cfg.TouchInterval, 2*cfg.TouchInterval),
	}
}
