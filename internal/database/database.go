package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"scrapbook/internal/logging"
	"scrapbook/internal/metrics"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

// ErrConcurrencyConflict reports that a conditional update matched no row
// because another writer moved the entry to a state the update does not apply
// to. Callers resolve it by re-reading; it is never surfaced to users.
var ErrConcurrencyConflict = errors.New("media cache entry changed concurrently")

// ErrNotFound is returned when a row looked up by id does not exist.
var ErrNotFound = errors.New("not found")

// Database is the MediaStore: the durable record of cached and resolved media
// plus the narrow slice of the pins table the cache subsystem may touch.
type Database struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

// New opens (creating if needed) the SQLite database at dbPath and applies
// the schema. The parent directory must already exist and be writable.
func New(ctx context.Context, dbPath string) (*Database, error) {
	logging.Info("Database path: %s", dbPath)

	if err := diagnoseDatabasePermissions(dbPath); err != nil {
		logging.Warn("Database permission diagnostics: %v", err)
	}

	// WAL lets probes read while workers write; busy_timeout absorbs short
	// writer overlaps; immediate transactions avoid lock upgrades mid-tx.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	d := &Database{
		db:     db,
		dbPath: dbPath,
		now:    time.Now,
	}

	if err := d.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logging.Info("Database initialized successfully at %s", dbPath)
	return d, nil
}

// Ping checks the database connection.
func (d *Database) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return d.db.PingContext(ctx)
}

// SetClock replaces the time source used for every timestamp the store
// writes. Tests use it to step through backoff windows.
func (d *Database) SetClock(now func() time.Time) {
	d.now = now
}

func (d *Database) initialize(ctx context.Context) error {
	schema := `
	-- One row per (source_url, quality_level); expired rows are tombstones
	CREATE TABLE IF NOT EXISTS media_cache (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_url TEXT NOT NULL CHECK (length(source_url) <= 2048),
		quality_level TEXT NOT NULL CHECK (quality_level IN ('thumbnail', 'low', 'medium')),
		stored_filename TEXT NOT NULL DEFAULT '',
		file_size_bytes INTEGER NOT NULL DEFAULT 0,
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		cache_status TEXT NOT NULL DEFAULT 'pending'
			CHECK (cache_status IN ('pending', 'cached', 'failed', 'expired')),
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_retry_at INTEGER,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		last_accessed_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_media_cache_live_key
		ON media_cache(source_url, quality_level) WHERE cache_status != 'expired';
	CREATE INDEX IF NOT EXISTS idx_media_cache_status ON media_cache(cache_status);
	CREATE INDEX IF NOT EXISTS idx_media_cache_filename ON media_cache(stored_filename);
	CREATE INDEX IF NOT EXISTS idx_media_cache_accessed ON media_cache(cache_status, last_accessed_at);

	-- Pins belong to the web application; created here so the cache can run standalone
	CREATE TABLE IF NOT EXISTS pins (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		board_id INTEGER NOT NULL DEFAULT 0,
		image_url TEXT NOT NULL DEFAULT '',
		cached_media_id INTEGER REFERENCES media_cache(id) ON DELETE SET NULL,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_pins_board ON pins(board_id);
	`

	start := time.Now()
	_, err := d.db.ExecContext(ctx, schema)
	recordQuery("initialize_schema", start, err)
	if err != nil {
		return err
	}

	return d.runMigrations(ctx)
}

// runMigrations applies schema changes to databases created by older builds.
func (d *Database) runMigrations(ctx context.Context) error {
	// Migration 1: pins tables created before media caching lack cached_media_id
	var columnExists bool
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) > 0
		FROM pragma_table_info('pins')
		WHERE name='cached_media_id'
	`).Scan(&columnExists)
	if err != nil {
		return fmt.Errorf("failed to check for cached_media_id column: %w", err)
	}

	if !columnExists {
		logging.Info("Migrating database: adding cached_media_id column to pins table")
		if _, err := d.db.ExecContext(ctx, `
			ALTER TABLE pins ADD COLUMN cached_media_id INTEGER REFERENCES media_cache(id) ON DELETE SET NULL
		`); err != nil {
			return fmt.Errorf("failed to add cached_media_id column: %w", err)
		}
		logging.Info("Migration complete: cached_media_id column added")
	}

	if _, err := d.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_pins_cached_media ON pins(cached_media_id)`); err != nil {
		return fmt.Errorf("failed to create cached_media_id index: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// recordQuery records database query metrics
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(duration)
}

// UpdateDBMetrics updates database connection metrics
func (d *Database) UpdateDBMetrics() {
	stats := d.db.Stats()
	metrics.DBConnectionsOpen.Set(float64(stats.OpenConnections))
}

// diagnoseDatabasePermissions checks database directory and file permissions
func diagnoseDatabasePermissions(dbPath string) error {
	dir := filepath.Dir(dbPath)

	dirInfo, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot stat database directory: %w", err)
	}
	logging.Debug("Database directory: %s (mode: %v)", dir, dirInfo.Mode())

	testFile := filepath.Join(dir, ".perm-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("database directory not writable: %w", err)
	}
	_ = os.Remove(testFile)

	for _, suffix := range []string{"", "-wal", "-shm"} {
		path := dbPath + suffix
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		logging.Debug("Database file exists: %s (mode: %v, size: %d bytes)", path, info.Mode(), info.Size())
		if info.Mode().Perm()&0o200 == 0 {
			logging.Warn("Database file %s is read-only! Mode: %v", path, info.Mode())
			if suffix != "" {
				if chmodErr := os.Chmod(path, 0o600); chmodErr != nil {
					logging.Error("Failed to fix %s permissions: %v", path, chmodErr)
				} else {
					logging.Info("Fixed %s permissions", path)
				}
			}
		}
	}

	return nil
}
