// Package startup handles configuration loading and startup/shutdown logging.
//
// # Configuration
//
// [LoadConfig] reads environment variables, after first loading a .env file
// (path from ENV_FILE) when one exists. Variables already present in the
// environment are never overridden by the file.
//
//   - CACHE_DIR: cached media files (default: /cache)
//   - DATABASE_DIR: SQLite database (default: /database)
//   - PORT: admin API and cached media server port (default: 8080)
//   - METRICS_PORT, METRICS_ENABLED: Prometheus server (default: 9090, true)
//   - CACHE_WORKERS: cache workers (default: 1.5 per CPU, at most 16)
//   - CACHE_QUEUE_SIZE: pending task capacity (default: 1000)
//   - CACHE_MAX_RETRIES, CACHE_BACKOFF_BASE: retry policy (default: 3, 1h)
//   - CACHE_RETENTION, CACHE_CLEANUP_INTERVAL: stale sweep (default: 720h, 24h)
//   - DIMENSION_WORKERS, DIMENSION_BATCH_SIZE: resolver (default: 4, 50)
//   - DIMENSION_INTERVAL: scheduled resolver runs, 0 disables (default: 0)
//   - FETCH_TIMEOUT, PROBE_BYTES, MAX_DOWNLOAD_BYTES, FETCH_USER_AGENT
//   - LOG_LEVEL, LOG_REQUESTS, LOG_HEALTH_CHECKS
//   - MEMORY_LIMIT, MEMORY_RATIO, GOMEMLIMIT: see package memory
//
// Invalid values log a warning and fall back to the default.
//
// # Build information
//
// Version, Commit and BuildTime are set with -ldflags:
//
//	go build -ldflags "-X scrapbook/internal/startup.Version=1.2.0"
package startup
