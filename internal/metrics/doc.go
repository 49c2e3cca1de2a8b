// Package metrics provides Prometheus instrumentation for the scrapbook media
// cache.
//
// All metrics are registered with promauto at package init and are prefixed
// with "scrapbook_". They are grouped by the component that records them:
//
// ## HTTP Metrics
//   - HTTPRequestsTotal, HTTPRequestDuration: admin API traffic
//
// ## Database Metrics
//   - DBQueryTotal, DBQueryDuration: per MediaStore operation
//   - DBConnectionsOpen: open SQLite connections
//
// ## Fetcher Metrics
//   - FetchRequestsTotal, FetchDuration, FetchBytes: by mode (probe, full, video)
//   - FetchProbeFallbacks: partial reads that needed a full download
//   - VideoDecoderAvailable: 1 when ffmpeg was found at startup
//
// ## Cache Metrics
//   - CacheTasksTotal: per quality level and result
//   - CacheTaskDuration: fetch, process and write phases
//   - CacheQueueDepth, CacheQueueDropped, CacheWorkersActive
//   - CacheEntries: entries by status, refreshed by the Collector
//   - CacheSweepExpired, CacheSweepLastTimestamp: cleanup sweep
//
// ## Dimension Job Metrics
//   - DimensionItemsTotal: per outcome (success, failed, skipped)
//   - DimensionJobRunning, DimensionJobRate, DimensionCoverage
//
// # Usage
//
// Call InitializeMetrics once at startup so every label combination is
// exported on the first scrape, then start a Collector to refresh the
// gauges derived from the database:
//
//	metrics.InitializeMetrics()
//	collector := metrics.NewCollector(db, time.Minute)
//	collector.Start()
//	defer collector.Stop()
//
// Metrics are served by promhttp on METRICS_PORT.
package metrics
