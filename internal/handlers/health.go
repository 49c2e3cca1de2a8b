package handlers

import (
	"net/http"
	"runtime"
	"time"

	"scrapbook/internal/media"
	"scrapbook/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime"`
	Database string `json:"database"`

	CacheWorkersRunning bool `json:"cacheWorkersRunning"`
	CacheQueueDepth     int  `json:"cacheQueueDepth"`
	DimensionJobRunning bool `json:"dimensionJobRunning"`
	VipsAvailable       bool `json:"vipsAvailable"`

	GoVersion    string `json:"goVersion"`
	NumGoroutine int    `json:"numGoroutine"`
}

// HealthCheck reports service health. Only a database failure makes it
// unhealthy; idle workers are normal.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	poolStats := h.pool.Stats()
	response := HealthResponse{
		Status:              statusHealthy,
		Version:             startup.Version,
		Uptime:              time.Since(h.started).Round(time.Second).String(),
		Database:            "ok",
		CacheWorkersRunning: poolStats.Running,
		CacheQueueDepth:     poolStats.QueueDepth,
		DimensionJobRunning: h.resolver.State().IsRunning,
		VipsAvailable:       media.IsVipsAvailable(),
		GoVersion:           runtime.Version(),
		NumGoroutine:        runtime.NumGoroutine(),
	}

	code := http.StatusOK
	if err := h.db.Ping(r.Context()); err != nil {
		h.log.Error("Health check database ping failed: %v", err)
		response.Status = statusDegraded
		response.Database = "unavailable"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, response)
}
