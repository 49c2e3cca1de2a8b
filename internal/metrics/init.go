package metrics

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	for _, mode := range []string{"probe", "full", "video"} {
		FetchRequestsTotal.WithLabelValues(mode, "success")
		FetchRequestsTotal.WithLabelValues(mode, "error")
		FetchDuration.WithLabelValues(mode)
		FetchBytes.WithLabelValues(mode)
	}

	for _, quality := range []string{"thumbnail", "low", "medium"} {
		for _, result := range []string{"cached", "hit", "failed", "skipped", "unavailable", "panic"} {
			CacheTasksTotal.WithLabelValues(quality, result)
		}
	}

	for _, phase := range []string{"fetch", "process", "write"} {
		CacheTaskDuration.WithLabelValues(phase)
	}

	for _, status := range []string{"pending", "cached", "failed", "expired"} {
		CacheEntries.WithLabelValues(status)
	}

	for _, reason := range []string{"stale", "missing_file"} {
		CacheSweepExpired.WithLabelValues(reason)
	}

	for _, outcome := range []string{"success", "failed", "skipped"} {
		DimensionItemsTotal.WithLabelValues(outcome)
	}

	for _, op := range []string{"write", "stat", "remove"} {
		FilesystemOperationDuration.WithLabelValues(op)
		FilesystemOperationErrors.WithLabelValues(op)
		FilesystemRetryAttempts.WithLabelValues(op)
	}

	for _, op := range []string{"find_entry", "upsert_pending", "mark_cached", "mark_failed",
		"mark_unavailable", "update_dimensions", "mark_expired", "touch_entry", "link_pin",
		"reset_entry", "pins_needing_cache", "pins_missing_dimensions", "stale_entries",
		"cached_entries", "dimension_counts", "initialize_schema"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}
}
