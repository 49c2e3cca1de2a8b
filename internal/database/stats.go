package database

import (
	"context"
	"time"

	"scrapbook/internal/metrics"
)

// DimensionCounts reports how many pins exist and how many have an entry with
// known width and height.
func (d *Database) DimensionCounts(ctx context.Context) (DimensionCounts, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("dimension_counts", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var counts DimensionCounts
	err = d.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN mc.width > 0 AND mc.height > 0 THEN 1 ELSE 0 END), 0)
		FROM pins p
		LEFT JOIN media_cache mc ON mc.id = p.cached_media_id
	`).Scan(&counts.TotalPins, &counts.PinsWithDimensions)
	if err != nil {
		return counts, err
	}

	if counts.TotalPins > 0 {
		counts.PercentComplete = float64(counts.PinsWithDimensions) / float64(counts.TotalPins) * 100
	}
	return counts, nil
}

// CacheStatusCounts returns the number of entries in each cache status.
// Statuses with no entries are present with a zero count.
func (d *Database) CacheStatusCounts(ctx context.Context) (map[CacheStatus]int, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	counts := map[CacheStatus]int{
		StatusPending: 0,
		StatusCached:  0,
		StatusFailed:  0,
		StatusExpired: 0,
	}

	rows, err := d.db.QueryContext(ctx, `SELECT cache_status, COUNT(*) FROM media_cache GROUP BY cache_status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status CacheStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// CollectStats gathers the gauges the metrics collector publishes.
func (d *Database) CollectStats(ctx context.Context) (metrics.Stats, error) {
	d.UpdateDBMetrics()

	statuses, err := d.CacheStatusCounts(ctx)
	if err != nil {
		return metrics.Stats{}, err
	}
	dims, err := d.DimensionCounts(ctx)
	if err != nil {
		return metrics.Stats{}, err
	}

	return metrics.Stats{
		Pending:            statuses[StatusPending],
		Cached:             statuses[StatusCached],
		Failed:             statuses[StatusFailed],
		Expired:            statuses[StatusExpired],
		PinsTotal:          dims.TotalPins,
		PinsWithDimensions: dims.PinsWithDimensions,
	}, nil
}
