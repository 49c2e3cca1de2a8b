package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type mockStatsProvider struct {
	mu    sync.Mutex
	calls int
	stats Stats
	err   error
}

func (m *mockStatsProvider) CollectStats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.stats, m.err
}

func (m *mockStatsProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestCollectorCollectSetsGauges(t *testing.T) {
	provider := &mockStatsProvider{stats: Stats{
		Pending:            1,
		Cached:             7,
		Failed:             2,
		Expired:            3,
		PinsTotal:          10,
		PinsWithDimensions: 4,
	}}

	c := NewCollector(provider, time.Hour)
	c.collect()

	if got := testutil.ToFloat64(CacheEntries.WithLabelValues("cached")); got != 7 {
		t.Errorf("cached gauge = %v, want 7", got)
	}
	if got := testutil.ToFloat64(CacheEntries.WithLabelValues("expired")); got != 3 {
		t.Errorf("expired gauge = %v, want 3", got)
	}
	if got := testutil.ToFloat64(DimensionCoverage); got != 0.4 {
		t.Errorf("coverage gauge = %v, want 0.4", got)
	}
}

func TestCollectorCollectError(t *testing.T) {
	provider := &mockStatsProvider{err: errors.New("db closed")}
	c := NewCollector(provider, time.Hour)

	// Must not panic and must not touch gauges with zero values.
	c.collect()

	if provider.callCount() != 1 {
		t.Errorf("expected 1 call, got %d", provider.callCount())
	}
}

func TestCollectorNilProvider(t *testing.T) {
	c := NewCollector(nil, time.Hour)
	c.collect()
}

func TestCollectorStartStop(t *testing.T) {
	provider := &mockStatsProvider{}
	c := NewCollector(provider, 10*time.Millisecond)
	c.Start()

	deadline := time.Now().Add(2 * time.Second)
	for provider.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	c.Stop()

	if provider.callCount() < 2 {
		t.Errorf("expected at least 2 collections, got %d", provider.callCount())
	}
}
