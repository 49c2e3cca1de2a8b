package startup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"scrapbook/internal/fetcher"
	"scrapbook/internal/logging"
	"scrapbook/internal/workers"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// Config holds all application configuration
type Config struct {
	CacheDir        string
	DatabaseDir     string
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	LogRequests     bool
	LogHealthChecks bool

	// Cache worker pool
	CacheWorkers         int
	CacheQueueSize       int
	CacheMaxRetries      int
	CacheBackoffBase     time.Duration
	CacheRetention       time.Duration
	CacheCleanupInterval time.Duration

	// Dimension resolver; a zero DimensionInterval disables scheduled runs
	DimensionWorkers   int
	DimensionBatchSize int
	DimensionInterval  time.Duration

	// Fetcher
	FetchTimeout     time.Duration
	ProbeBytes       int64
	MaxDownloadBytes int64
	FetchUserAgent   string

	// Derived
	DatabasePath    string
	FFmpegAvailable bool
}

// LoadEnvFile loads variables from ENV_FILE (default .env) without
// overriding anything already set. A missing file is not an error.
func LoadEnvFile() error {
	path := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	logging.Debug("Loaded environment from %s", path)
	return nil
}

// ReadConfig builds a Config from the environment without touching the
// filesystem. Invalid values fall back to their defaults with a warning.
func ReadConfig() *Config {
	cacheDir := getEnv("CACHE_DIR", "/cache")
	databaseDir := getEnv("DATABASE_DIR", "/database")

	return &Config{
		CacheDir:        cacheDir,
		DatabaseDir:     databaseDir,
		DatabasePath:    filepath.Join(databaseDir, "scrapbook.db"),
		Port:            getEnv("PORT", "8080"),
		MetricsPort:     getEnv("METRICS_PORT", "9090"),
		MetricsEnabled:  getEnvBool("METRICS_ENABLED", true),
		LogRequests:     getEnvBool("LOG_REQUESTS", true),
		LogHealthChecks: getEnvBool("LOG_HEALTH_CHECKS", false),

		CacheWorkers:         workers.ForMixed("CACHE_WORKERS", 16),
		CacheQueueSize:       getEnvInt("CACHE_QUEUE_SIZE", 1000),
		CacheMaxRetries:      getEnvPositiveInt("CACHE_MAX_RETRIES", 3),
		CacheBackoffBase:     getEnvDuration("CACHE_BACKOFF_BASE", time.Hour),
		CacheRetention:       getEnvDuration("CACHE_RETENTION", 30*24*time.Hour),
		CacheCleanupInterval: getEnvDuration("CACHE_CLEANUP_INTERVAL", 24*time.Hour),

		DimensionWorkers:   getEnvInt("DIMENSION_WORKERS", 4),
		DimensionBatchSize: getEnvInt("DIMENSION_BATCH_SIZE", 50),
		DimensionInterval:  getEnvDuration("DIMENSION_INTERVAL", 0),

		FetchTimeout:     getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
		ProbeBytes:       int64(getEnvInt("PROBE_BYTES", 64*1024)),
		MaxDownloadBytes: int64(getEnvInt("MAX_DOWNLOAD_BYTES", 50*1024*1024)),
		FetchUserAgent:   getEnv("FETCH_USER_AGENT", ""),
	}
}

// LoadConfig loads and validates configuration from environment variables
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	if err := LoadEnvFile(); err != nil {
		logging.Warn("%v", err)
	}

	config := ReadConfig()

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  CACHE_DIR:              %s", config.CacheDir)
	logging.Info("  DATABASE_DIR:           %s", config.DatabaseDir)
	logging.Info("  PORT:                   %s", config.Port)
	logging.Info("  METRICS_PORT:           %s", config.MetricsPort)
	logging.Info("  METRICS_ENABLED:        %v", config.MetricsEnabled)
	logging.Info("  CACHE_WORKERS:          %d", config.CacheWorkers)
	logging.Info("  CACHE_QUEUE_SIZE:       %d", config.CacheQueueSize)
	logging.Info("  CACHE_MAX_RETRIES:      %d", config.CacheMaxRetries)
	logging.Info("  CACHE_BACKOFF_BASE:     %v", config.CacheBackoffBase)
	logging.Info("  CACHE_RETENTION:        %v", config.CacheRetention)
	logging.Info("  CACHE_CLEANUP_INTERVAL: %v", config.CacheCleanupInterval)
	logging.Info("  DIMENSION_WORKERS:      %d", config.DimensionWorkers)
	logging.Info("  DIMENSION_BATCH_SIZE:   %d", config.DimensionBatchSize)
	logging.Info("  DIMENSION_INTERVAL:     %v", config.DimensionInterval)
	logging.Info("  FETCH_TIMEOUT:          %v", config.FetchTimeout)
	logging.Info("  PROBE_BYTES:            %d", config.ProbeBytes)
	logging.Info("  MAX_DOWNLOAD_BYTES:     %d", config.MaxDownloadBytes)
	logging.Info("  LOG_REQUESTS:           %v", config.LogRequests)
	logging.Info("  LOG_LEVEL:              %s", logging.GetLevel())

	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")

	var err error
	config.CacheDir, err = filepath.Abs(config.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache directory path: %w", err)
	}
	logging.Info("  Cache directory (absolute): %s", config.CacheDir)

	config.DatabaseDir, err = filepath.Abs(config.DatabaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database directory path: %w", err)
	}
	config.DatabasePath = filepath.Join(config.DatabaseDir, "scrapbook.db")
	logging.Info("  Database directory (absolute): %s", config.DatabaseDir)

	if err := PrepareDirectories(config); err != nil {
		return nil, err
	}

	config.FFmpegAvailable = checkFFmpeg() == nil

	logging.Info("")
	logging.Info("  Feature availability:")
	logging.Info("    Database:     ENABLED (required)")
	logging.Info("    Media cache:  ENABLED (required)")
	logging.Info("    Video frames: %s", enabledString(config.FFmpegAvailable))
	logging.Info("    Dimension timer: %s", enabledString(config.DimensionInterval > 0))
	logging.Info("    Metrics:      %s", enabledString(config.MetricsEnabled))

	return config, nil
}

// PrepareDirectories creates the cache and database directories and checks
// both are writable. Neither is optional.
func PrepareDirectories(config *Config) error {
	for _, dir := range []struct{ path, name string }{
		{config.DatabaseDir, "database"},
		{config.CacheDir, "cache"},
	} {
		if err := ensureDirectory(dir.path, dir.name); err != nil {
			return fmt.Errorf("%s directory error: %w", dir.name, err)
		}
		logging.Debug("  Testing %s directory write access...", dir.name)
		if err := testWriteAccess(dir.path); err != nil {
			return fmt.Errorf("%s directory is not writable: %w", dir.name, err)
		}
		logging.Info("  [OK] %s directory is writable", dir.name)
	}
	return nil
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

// LogDatabaseInit logs database initialization
func LogDatabaseInit(duration time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DATABASE INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  [OK] Database initialized in %v", duration)
}

// LogImageInit logs which resize backend is active
func LogImageInit(vipsAvailable bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("IMAGE PROCESSING")
	logging.Info("------------------------------------------------------------")
	if vipsAvailable {
		logging.Info("  [OK] libvips initialized")
	} else {
		logging.Warn("  libvips unavailable, using pure Go resize")
	}
}

// LogCacheInit logs cache worker pool settings
// LogFetchInit logs the fetcher limits after defaults are applied.
func LogFetchInit(cfg fetcher.Config, videoAvailable bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("REMOTE FETCHER")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Download timeout: %v", cfg.Timeout)
	logging.Info("  Probe timeout:    %v", cfg.ProbeTimeout)
	logging.Info("  Probe bytes:      %d", cfg.ProbeBytes)
	logging.Info("  Max download:     %d bytes", cfg.MaxDownloadBytes)
	logging.Info("  User agent:       %s", cfg.UserAgent)
	if videoAvailable {
		logging.Info("  Video frames:     enabled")
	} else {
		logging.Info("  Video frames:     disabled (ffmpeg not found)")
	}
}

func LogCacheInit(workers, queueSize int, cleanupInterval, retention time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("MEDIA CACHE")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Workers:          %d", workers)
	logging.Info("  Queue size:       %d", queueSize)
	logging.Info("  Cleanup interval: %v (retention %v)", cleanupInterval, retention)
}

// LogDimensionInit logs dimension resolver settings
func LogDimensionInit(workers, batchSize int, interval time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIMENSION RESOLVER")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Workers:    %d", workers)
	logging.Info("  Batch size: %d", batchSize)
	if interval > 0 {
		logging.Info("  Scheduled every %v", interval)
	} else {
		logging.Info("  Scheduled runs disabled (set DIMENSION_INTERVAL to enable)")
	}
}

// GetRoutes extracts all registered routes from a mux.Router
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			return err
		}

		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}

		for _, method := range methods {
			routes = append(routes, RouteInfo{
				Method: method,
				Path:   pathTemplate,
				Name:   route.GetName(),
			})
		}
		return nil
	})

	return routes, err
}

// LogHTTPRoutes logs all registered HTTP routes dynamically
func LogHTTPRoutes(router *mux.Router, logRequests, logHealthChecks bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("HTTP SERVER SETUP")
	logging.Info("------------------------------------------------------------")

	if logging.IsDebugEnabled() {
		routes, err := GetRoutes(router)
		if err != nil {
			logging.Warn("error walking routes: %v", err)
		}

		logging.Debug("  Registered routes (%d total):", len(routes))

		groups := make(map[string][]RouteInfo)
		for _, route := range routes {
			prefix := getRouteGroup(route.Path)
			groups[prefix] = append(groups[prefix], route)
		}

		groupKeys := make([]string, 0, len(groups))
		for k := range groups {
			groupKeys = append(groupKeys, k)
		}
		sort.Strings(groupKeys)

		for _, group := range groupKeys {
			if group != "" {
				logging.Debug("  [%s]", group)
			} else {
				logging.Debug("  [root]")
			}
			for _, route := range groups[group] {
				logging.Debug("    %-6s %s", route.Method, route.Path)
			}
		}
	}

	if logRequests {
		logging.Info("  Request logging: ON")
	} else {
		logging.Info("  Request logging: OFF (set LOG_REQUESTS=true to enable)")
	}
	if logHealthChecks {
		logging.Info("    Health check logging: ON")
	} else {
		logging.Info("    Health check logging: OFF (set LOG_HEALTH_CHECKS=true to enable)")
	}
}

// getRouteGroup extracts a group name from a route path
func getRouteGroup(path string) string {
	path = strings.TrimPrefix(path, "/")

	parts := strings.SplitN(path, "/", 2)
	first := parts[0]

	if first == "api" && len(parts) > 1 {
		subParts := strings.SplitN(parts[1], "/", 2)
		return "api/" + subParts[0]
	}

	return first
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with all endpoint information
func LogServerStarted(config ServerConfig) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SERVER STARTED")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	logging.Info("")
	logging.Info("  Endpoints:")
	logging.Info("    Admin API:     http://0.0.0.0:%s/api", config.Port)
	logging.Info("    Cached media:  http://0.0.0.0:%s/cached/", config.Port)
	if config.MetricsEnabled {
		logging.Info("    Metrics:       http://0.0.0.0:%s/metrics", config.MetricsPort)
	} else {
		logging.Info("    Metrics:       DISABLED")
	}
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info("------------------------------------------------------------")
	logging.Info("")
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN INITIATED (received %s)", signal)
	logging.Info("------------------------------------------------------------")
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

func printBanner() {
	banner := `
------------------------------------------------------------
   ____                      __                __
  / __/__________ ____  ___ / /  ___  ___  __ / /__
 _\ \/ __/ __/ _ '/ _ \/ _ \/ _ \/ _ \/ _ \/  '_/
/___/\__/_/  \_,_/ .__/_.__/_.__/\___/\___/_/\_\
                /_/
------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}

	if logging.IsDebugEnabled() {
		if wd, err := os.Getwd(); err == nil {
			logging.Debug("  Working dir:     %s", wd)
		}
		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}

	logging.Info("")
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		logging.Debug("    Directory does not exist, creating...")
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}

	logging.Debug("    [OK] Directory exists")
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}

func checkFFmpeg() error {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		logging.Warn("  ffmpeg not found in PATH, video pins will not be cached")
		return fmt.Errorf("ffmpeg not found in PATH")
	}
	logging.Debug("  FFmpeg path: %s", path)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		logging.Warn("  ffmpeg found but not runnable: %v", err)
		return fmt.Errorf("failed to get ffmpeg version: %w", err)
	}

	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 {
		logging.Debug("  FFmpeg version: %s", strings.TrimSpace(lines[0]))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		logging.Warn("Invalid integer value for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

// getEnvPositiveInt is getEnvInt for settings where zero is meaningless.
func getEnvPositiveInt(key string, defaultValue int) int {
	parsed := getEnvInt(key, defaultValue)
	if parsed < 1 {
		logging.Warn("%s must be at least 1, using default: %d", key, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		logging.Warn("Invalid duration for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
