package cache

import (
	"time"

	"scrapbook/internal/database"
)

// maxBackoff caps the doubling so large retry counts cannot overflow.
const maxBackoff = 100 * 365 * 24 * time.Hour

// RetryPolicy bounds how often a failed entry is fetched again.
type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
}

// DefaultRetryPolicy allows three attempts with a one hour base backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseBackoff: time.Hour}
}

// NextEligibleTime returns the earliest time another attempt may start for an
// entry with the given retry bookkeeping: lastRetryAt + base * 2^retryCount.
// An entry that has never been attempted is eligible immediately, reported
// as the zero time.
func (p RetryPolicy) NextEligibleTime(retryCount int, lastRetryAt *time.Time) time.Time {
	if lastRetryAt == nil {
		return time.Time{}
	}
	backoff := p.BaseBackoff
	for i := 0; i < retryCount; i++ {
		if backoff > maxBackoff/2 {
			backoff = maxBackoff
			break
		}
		backoff *= 2
	}
	return lastRetryAt.Add(backoff)
}

// Exhausted reports whether retryCount has reached the ceiling. Only an
// operator reset brings an exhausted entry back.
func (p RetryPolicy) Exhausted(retryCount int) bool {
	return retryCount >= p.MaxRetries
}

// ShouldRetry reports whether a pending or failed entry may be attempted at
// now.
func (p RetryPolicy) ShouldRetry(entry *database.MediaCacheEntry, now time.Time) bool {
	if p.Exhausted(entry.RetryCount) {
		return false
	}
	return !now.Before(p.NextEligibleTime(entry.RetryCount, entry.LastRetryAt))
}
