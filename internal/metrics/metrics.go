package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapbook_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scrapbook_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapbook_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scrapbook_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scrapbook_db_connections_open",
			Help: "Number of open database connections",
		},
	)
)

// Fetcher metrics
var (
	FetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapbook_fetch_requests_total",
			Help: "Total number of outbound media fetches by mode and result",
		},
		[]string{"mode", "result"}, // mode: probe, full, video
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scrapbook_fetch_duration_seconds",
			Help:    "Outbound media fetch duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"mode"},
	)

	FetchBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scrapbook_fetch_bytes",
			Help:    "Bytes read per outbound media fetch",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 9),
		},
		[]string{"mode"},
	)

	FetchProbeFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scrapbook_fetch_probe_fallbacks_total",
			Help: "Partial reads that could not be decoded and fell back to a full download",
		},
	)

	VideoDecoderAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scrapbook_video_decoder_available",
			Help: "Whether the external video frame decoder was found at startup (1 = yes)",
		},
	)
)

// Cache worker pool metrics
var (
	CacheTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapbook_cache_tasks_total",
			Help: "Total number of cache tasks by result",
		},
		[]string{"quality", "result"}, // result: cached, hit, failed, skipped, unavailable, panic
	)

	CacheTaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scrapbook_cache_task_duration_seconds",
			Help:    "Cache task duration in seconds by phase",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"phase"}, // fetch, process, write
	)

	CacheQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scrapbook_cache_queue_depth",
			Help: "Number of cache tasks waiting in the queue",
		},
	)

	CacheQueueDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scrapbook_cache_queue_dropped_total",
			Help: "Cache tasks dropped because the queue was full",
		},
	)

	CacheWorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scrapbook_cache_workers",
			Help: "Number of running cache workers",
		},
	)

	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scrapbook_cache_entries",
			Help: "Number of media cache entries by status",
		},
		[]string{"status"},
	)

	CacheSweepExpired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapbook_cache_sweep_expired_total",
			Help: "Entries expired by the cleanup sweep",
		},
		[]string{"reason"}, // stale, missing_file
	)

	CacheSweepLastTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scrapbook_cache_sweep_last_timestamp",
			Help: "Timestamp of the last cleanup sweep",
		},
	)
)

// Dimension job metrics
var (
	DimensionItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapbook_dimension_items_total",
			Help: "Pins processed by the dimension job by outcome",
		},
		[]string{"outcome"},
	)

	DimensionJobRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scrapbook_dimension_job_running",
			Help: "Whether the dimension job is running (1 = running, 0 = idle)",
		},
	)

	DimensionJobRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scrapbook_dimension_job_rate",
			Help: "Recent dimension job throughput in items per second",
		},
	)

	DimensionCoverage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scrapbook_dimension_coverage_ratio",
			Help: "Fraction of pins with known dimensions",
		},
	)
)

// Filesystem metrics
var (
	FilesystemOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scrapbook_filesystem_operation_duration_seconds",
			Help:    "Cache directory operation duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"operation"},
	)

	FilesystemOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapbook_filesystem_operation_errors_total",
			Help: "Cache directory operation errors",
		},
		[]string{"operation"},
	)

	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapbook_filesystem_retry_attempts_total",
			Help: "Retries caused by stale NFS file handles",
		},
		[]string{"operation"},
	)
)

// Memory metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scrapbook_memory_usage_ratio",
			Help: "Heap allocation as a fraction of the configured memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scrapbook_memory_paused",
			Help: "Whether cache workers are paused for memory pressure (1 = paused)",
		},
	)

	MemoryGCPauses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scrapbook_memory_gc_pauses_total",
			Help: "Times cache workers were paused and a GC forced",
		},
	)
)

// AppInfo exposes build information as labels.
var AppInfo = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "scrapbook_app_info",
		Help: "Application build information",
	},
	[]string{"version", "commit", "go_version"},
)
