package memory

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"scrapbook/internal/logging"
	"scrapbook/internal/metrics"
)

// Config holds monitor thresholds.
type Config struct {
	// LimitBytes is the soft limit; 0 uses GOMEMLIMIT when one is set.
	LimitBytes int64
	// ResumeRatio is the usage below which paused workers resume.
	ResumeRatio float64
	// PauseRatio is the usage at or above which workers pause.
	PauseRatio float64
	// CheckInterval is how often heap usage is sampled.
	CheckInterval time.Duration
}

// DefaultConfig pauses at 85% of the limit and resumes below 70%.
func DefaultConfig() Config {
	return Config{
		ResumeRatio:   0.7,
		PauseRatio:    0.85,
		CheckInterval: 5 * time.Second,
	}
}

// Monitor samples heap usage and holds cache workers while the process is
// close to its memory limit. Decoding full-size images is the largest
// allocation the service makes, so that is where it pauses.
type Monitor struct {
	cfg   Config
	limit int64
	log   *logging.Logger

	// readAlloc returns the current heap allocation in bytes.
	readAlloc func() uint64

	mu      sync.RWMutex
	alloc   uint64
	paused  bool
	resumed chan struct{}

	stopOnce sync.Once
	stop     chan struct{}
}

// NewMonitor creates a monitor. Without a limit it never pauses.
func NewMonitor(cfg Config) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultConfig().CheckInterval
	}
	if cfg.PauseRatio <= 0 {
		cfg.PauseRatio = DefaultConfig().PauseRatio
	}
	if cfg.ResumeRatio <= 0 || cfg.ResumeRatio >= cfg.PauseRatio {
		cfg.ResumeRatio = cfg.PauseRatio * 0.8
	}

	log := logging.Named("memory")
	limit := cfg.LimitBytes
	if limit == 0 {
		if goLimit := debug.SetMemoryLimit(-1); goLimit > 0 && goLimit < 1<<62 {
			limit = goLimit
			log.Info("Using GOMEMLIMIT for worker backpressure: %s", formatBytes(limit))
		}
	}
	if limit == 0 {
		log.Debug("No memory limit configured, worker backpressure disabled")
	}

	return &Monitor{
		cfg:       cfg,
		limit:     limit,
		log:       log,
		readAlloc: heapAlloc,
		resumed:   make(chan struct{}),
		stop:      make(chan struct{}),
	}
}

func heapAlloc() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.Alloc
}

// Start begins sampling. It does nothing when no limit is configured.
func (m *Monitor) Start() {
	if m.limit == 0 {
		return
	}
	go m.loop()
}

// Stop ends sampling and releases any waiters. It is safe to call twice.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.observe(m.readAlloc())
		case <-m.stop:
			return
		}
	}
}

// observe applies one heap sample.
func (m *Monitor) observe(alloc uint64) {
	if m.limit == 0 {
		return
	}
	usage := float64(alloc) / float64(m.limit)
	metrics.MemoryUsageRatio.Set(usage)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.alloc = alloc
	switch {
	case usage >= m.cfg.PauseRatio && !m.paused:
		m.log.Warn("Heap at %.1f%% of limit, pausing cache workers", usage*100)
		m.paused = true
		metrics.MemoryPaused.Set(1)
		metrics.MemoryGCPauses.Inc()
		go runtime.GC()
	case usage < m.cfg.ResumeRatio && m.paused:
		m.log.Info("Heap back to %.1f%% of limit, resuming cache workers", usage*100)
		m.paused = false
		metrics.MemoryPaused.Set(0)
		close(m.resumed)
		m.resumed = make(chan struct{})
	}
}

// WaitIfPaused blocks while workers are paused. It returns false if the
// monitor was stopped while waiting.
func (m *Monitor) WaitIfPaused() bool {
	m.mu.RLock()
	if !m.paused {
		m.mu.RUnlock()
		return true
	}
	resumed := m.resumed
	m.mu.RUnlock()

	select {
	case <-resumed:
		return true
	case <-m.stop:
		return false
	}
}

// Paused reports whether workers are currently held.
func (m *Monitor) Paused() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paused
}

// Usage returns the last sampled heap size and the limit.
func (m *Monitor) Usage() (alloc uint64, limit int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.alloc, m.limit
}
