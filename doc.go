// Package main provides the entry point for the Scrapbook media service.
//
// Scrapbook keeps a local, normalized copy of every pin image it has seen and
// learns each pin's width and height so boards can be laid out before any
// image loads.
//
// # Application Lifecycle
//
//  1. Memory Configuration: Sets GOMEMLIMIT from environment or cgroup limits
//  2. Configuration Loading: Reads environment variables (and ENV_FILE) and
//     prepares the cache and database directories
//  3. Database Initialization: Opens the SQLite database in WAL mode and
//     applies migrations
//  4. Component Initialization:
//     - libvips, falling back to pure Go decoders when unavailable
//     - Fetcher: HTTP client for probes and downloads, ffmpeg for video frames
//     - Memory Monitor: pauses cache workers under memory pressure
//     - Cache Pool: bounded worker pool that downloads and normalizes media
//     - Dimension Resolver: batch job that probes missing pin dimensions
//     - Metrics Collector: refreshes Prometheus gauges every minute
//  5. HTTP Server Setup: Configures routes and middleware and starts serving
//  6. Graceful Shutdown: Handles SIGINT/SIGTERM and stops components in order
//
// # Background Services
//
//   - Cache workers drain the task queue
//   - Cache cleanup expires unaccessed files every CACHE_CLEANUP_INTERVAL
//   - Dimension jobs start every DIMENSION_INTERVAL when it is set
//   - Metrics collector updates database gauges
//
// # HTTP Endpoints
//
//	POST /api/cache/enqueue       queue one URL for caching
//	POST /api/cache/all           queue every uncached pin
//	GET  /api/cache/stats         cache entry and worker counters
//	POST /api/cache/cleanup       expire entries older than ?days=
//	POST /api/cache/entries/{id}/reset
//	                              retry a failed entry from scratch
//	POST /api/dimensions/start    start a dimension job
//	POST /api/dimensions/stop     stop the running job
//	GET  /api/dimensions/stats    coverage and job progress
//	GET  /api/dimensions/activity recent per-pin results
//	GET  /cached/{filename}       serve a cached file
//	GET  /health, /healthz        liveness and database check
//	GET  /version                 build information
//
// Prometheus metrics are served on METRICS_PORT at /metrics.
//
// See cmd/mediactl for the offline maintenance commands.
package main
