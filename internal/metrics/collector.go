package metrics

import (
	"context"
	"time"

	"scrapbook/internal/logging"
)

// StatsProvider supplies the point-in-time counts exported as gauges.
type StatsProvider interface {
	CollectStats(ctx context.Context) (Stats, error)
}

// Stats holds the current cache statistics
type Stats struct {
	Pending            int
	Cached             int
	Failed             int
	Expired            int
	PinsTotal          int
	PinsWithDimensions int
}

// Collector periodically collects and updates metrics
type Collector struct {
	statsProvider StatsProvider
	interval      time.Duration
	stopChan      chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collectLoop() {
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.statsProvider == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := c.statsProvider.CollectStats(ctx)
	if err != nil {
		logging.Warn("Metrics collection failed: %v", err)
		return
	}

	CacheEntries.WithLabelValues("pending").Set(float64(stats.Pending))
	CacheEntries.WithLabelValues("cached").Set(float64(stats.Cached))
	CacheEntries.WithLabelValues("failed").Set(float64(stats.Failed))
	CacheEntries.WithLabelValues("expired").Set(float64(stats.Expired))

	if stats.PinsTotal > 0 {
		DimensionCoverage.Set(float64(stats.PinsWithDimensions) / float64(stats.PinsTotal))
	} else {
		DimensionCoverage.Set(0)
	}

	logging.Debug("Metrics collected: pending=%d cached=%d failed=%d expired=%d",
		stats.Pending, stats.Cached, stats.Failed, stats.Expired)
}
