// Command mediactl runs media cache maintenance against the scrapbook
// database without the HTTP server.
//
// Usage:
//
//	mediactl -cache-all [-limit N] [-board ID]
//	mediactl -cleanup [-days-old N]
//	mediactl -dimensions [-continuous] [-limit N] [-board ID] [-batch-size N] [-dry-run]
//
// Modes:
//
//	-cache-all   Download and normalize every pin image that has no cached
//	             copy yet, newest pins first. Returns once the queue drains.
//
//	-cleanup     Expire cached files not accessed within -days-old days
//	             (default 30) and repair entries whose file is gone.
//
//	-dimensions  Probe width and height for pins that lack them. Without
//	             -continuous a single batch is processed. -dry-run probes
//	             and prints results without writing to the database.
//
// -verbose logs every item at debug level.
//
// Progress is redrawn in place when stdout is a terminal. SIGINT stops
// after in-flight items finish.
//
// Environment:
//
//	DATABASE_DIR - Path to database directory (default: /database)
//	CACHE_DIR    - Path to cache directory (default: /cache)
//
// The worker, retry and fetch settings read by the server (CACHE_WORKERS,
// DIMENSION_WORKERS, FETCH_TIMEOUT and so on) apply here as well.
package main
