package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"scrapbook/internal/cache"
	"scrapbook/internal/database"
	"scrapbook/internal/dimensions"
	"scrapbook/internal/fetcher"
	"scrapbook/internal/filesystem"
	"scrapbook/internal/handlers"
	"scrapbook/internal/logging"
	"scrapbook/internal/media"
	"scrapbook/internal/memory"
	"scrapbook/internal/metrics"
	"scrapbook/internal/middleware"
	"scrapbook/internal/startup"
)

// services holds everything the shutdown sequence needs to stop.
type services struct {
	server        *http.Server
	metricsServer *http.Server
	pool          *cache.Pool
	resolver      *dimensions.Resolver
	collector     *metrics.Collector
	monitor       *memory.Monitor
	stopSchedule  chan struct{}
}

func main() {
	startTime := time.Now()

	// Must run before the first large allocation
	memory.ConfigureFromEnv()

	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	metrics.AppInfo.WithLabelValues(startup.Version, startup.Commit, startup.GoVersion).Set(1)
	metrics.InitializeMetrics()
	filesystem.SetObserver(metrics.NewFilesystemObserver())

	dbStart := time.Now()
	db, err := database.New(context.Background(), config.DatabasePath)
	if err != nil {
		startup.LogFatal("Failed to initialize database: %v", err)
	}
	defer db.Close()
	startup.LogDatabaseInit(time.Since(dbStart))

	if err := media.InitVips(); err != nil {
		logging.Warn("libvips init failed: %v", err)
	}
	startup.LogImageInit(media.IsVipsAvailable())

	f := fetcher.New(fetcher.Config{
		Timeout:          config.FetchTimeout,
		ProbeBytes:       config.ProbeBytes,
		MaxDownloadBytes: config.MaxDownloadBytes,
		UserAgent:        config.FetchUserAgent,
		DisableVideo:     !config.FFmpegAvailable,
	})
	startup.LogFetchInit(f.Config(), f.VideoAvailable())

	monitor := memory.NewMonitor(memory.DefaultConfig())
	monitor.Start()

	startup.LogCacheInit(config.CacheWorkers, config.CacheQueueSize, config.CacheCleanupInterval, config.CacheRetention)
	pool := cache.NewPool(db, f, cache.Config{
		CacheDir:  config.CacheDir,
		Workers:   config.CacheWorkers,
		QueueSize: config.CacheQueueSize,
		Retry: cache.RetryPolicy{
			MaxRetries:  config.CacheMaxRetries,
			BaseBackoff: config.CacheBackoffBase,
		},
		Backpressure: monitor,
	})
	pool.Start(config.CacheWorkers)
	if config.CacheCleanupInterval > 0 {
		pool.StartCleanup(config.CacheCleanupInterval, config.CacheRetention)
	}

	startup.LogDimensionInit(config.DimensionWorkers, config.DimensionBatchSize, config.DimensionInterval)
	resolver := dimensions.NewResolver(db, f, dimensions.Config{
		Workers:    config.DimensionWorkers,
		BatchSize:  config.DimensionBatchSize,
		BatchPause: 2 * time.Second,
		CacheDir:   config.CacheDir,
	})
	stopSchedule := make(chan struct{})
	if config.DimensionInterval > 0 {
		go scheduleDimensions(resolver, config.DimensionInterval, stopSchedule)
	}

	collector := metrics.NewCollector(db, time.Minute)
	collector.Start()

	h := handlers.New(db, pool, resolver, handlers.Config{
		CacheDir:  config.CacheDir,
		Retention: config.CacheRetention,
	})

	router := setupRouter(h)
	startup.LogHTTPRoutes(router, config.LogRequests, config.LogHealthChecks)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.Enabled = config.LogRequests
	loggingConfig.LogHealthChecks = config.LogHealthChecks

	srv := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           middleware.Logger(loggingConfig)(router),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", h.MetricsHandler())
		metricsSrv = &http.Server{
			Addr:              ":" + config.MetricsPort,
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	go handleShutdown(&services{
		server:        srv,
		metricsServer: metricsSrv,
		pool:          pool,
		resolver:      resolver,
		collector:     collector,
		monitor:       monitor,
		stopSchedule:  stopSchedule,
	})

	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		startup.LogFatal("Server error: %v", err)
	}
	// Wait for handleShutdown to finish before deferred cleanup runs
	<-shutdownDone
	media.ShutdownVips()
}

var shutdownDone = make(chan struct{})

func setupRouter(h *handlers.Handlers) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))

	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	r.HandleFunc("/cached/{filename}", h.ServeCached).Methods("GET", "HEAD")

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/cache/enqueue", h.EnqueueCache).Methods("POST")
	api.HandleFunc("/cache/all", h.CacheAll).Methods("POST")
	api.HandleFunc("/cache/stats", h.CacheStats).Methods("GET")
	api.HandleFunc("/cache/cleanup", h.CleanupCache).Methods("POST")
	api.HandleFunc("/cache/entries/{id:[0-9]+}/reset", h.ResetCacheEntry).Methods("POST")

	api.HandleFunc("/dimensions/start", h.StartDimensions).Methods("POST")
	api.HandleFunc("/dimensions/stop", h.StopDimensions).Methods("POST")
	api.HandleFunc("/dimensions/stats", h.DimensionStats).Methods("GET")
	api.HandleFunc("/dimensions/activity", h.DimensionActivity).Methods("GET")
	api.HandleFunc("/dimensions/activity", h.ClearDimensionActivity).Methods("DELETE")

	return r
}

// scheduleDimensions starts a continuous dimension job every interval. A run
// still in progress is left alone.
func scheduleDimensions(resolver *dimensions.Resolver, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := resolver.Start(dimensions.Options{Continuous: true})
			if err != nil && !errors.Is(err, dimensions.ErrJobRunning) {
				logging.Error("Scheduled dimension job failed to start: %v", err)
			}
		case <-stop:
			return
		}
	}
}

func handleShutdown(s *services) {
	defer close(shutdownDone)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownStep("Stopping dimension resolver")
	close(s.stopSchedule)
	if err := s.resolver.Stop(); err == nil {
		s.resolver.Wait()
	}
	startup.LogShutdownStepComplete("Dimension resolver stopped")

	startup.LogShutdownStep("Stopping cache workers")
	s.pool.StopCleanup()
	s.monitor.Stop()
	s.pool.Stop()
	startup.LogShutdownStepComplete("Cache workers stopped")

	s.collector.Stop()

	if s.metricsServer != nil {
		startup.LogShutdownStep("Shutting down metrics server")
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		} else {
			startup.LogShutdownStepComplete("Metrics server stopped")
		}
	}

	startup.LogShutdownComplete()
}
