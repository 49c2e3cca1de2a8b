package database

import (
	"fmt"
	"time"
)

// QualityLevel is a target size/compression preset for a cached copy.
type QualityLevel string

const (
	QualityThumbnail QualityLevel = "thumbnail"
	QualityLow       QualityLevel = "low"
	QualityMedium    QualityLevel = "medium"
)

// ParseQualityLevel validates a quality level name. An empty string selects
// QualityLow.
func ParseQualityLevel(s string) (QualityLevel, error) {
	switch QualityLevel(s) {
	case "":
		return QualityLow, nil
	case QualityThumbnail, QualityLow, QualityMedium:
		return QualityLevel(s), nil
	default:
		return "", fmt.Errorf("unknown quality level %q", s)
	}
}

// CacheStatus is the lifecycle state of a MediaCacheEntry.
type CacheStatus string

const (
	StatusPending CacheStatus = "pending"
	StatusCached  CacheStatus = "cached"
	StatusFailed  CacheStatus = "failed"
	StatusExpired CacheStatus = "expired"
)

// MaxSourceURLLength is the longest source URL the store accepts.
const MaxSourceURLLength = 2048

// MediaCacheEntry is the durable record of one (source URL, quality level)
// media resource and its caching state.
type MediaCacheEntry struct {
	ID             int64        `json:"id"`
	SourceURL      string       `json:"sourceUrl"`
	QualityLevel   QualityLevel `json:"qualityLevel"`
	StoredFilename string       `json:"storedFilename,omitempty"`
	FileSizeBytes  int64        `json:"fileSizeBytes"`
	Width          int          `json:"width"`
	Height         int          `json:"height"`
	Status         CacheStatus  `json:"cacheStatus"`
	RetryCount     int          `json:"retryCount"`
	LastRetryAt    *time.Time   `json:"lastRetryAt,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
	LastAccessedAt time.Time    `json:"lastAccessedAt"`
}

// HasDimensions reports whether both width and height are known.
func (e *MediaCacheEntry) HasDimensions() bool {
	return e.Width > 0 && e.Height > 0
}

// Pin is the subset of a pin row the cache subsystem reads.
type Pin struct {
	ID            int64     `json:"id"`
	BoardID       int64     `json:"boardId"`
	ImageURL      string    `json:"imageUrl"`
	CachedMediaID *int64    `json:"cachedMediaId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// CacheCandidate is a pin whose image has no cached copy yet.
type CacheCandidate struct {
	PinID    int64
	ImageURL string
}

// DimensionCandidate is a pin whose image has no known dimensions.
type DimensionCandidate struct {
	PinID    int64
	ImageURL string
	// EntryID is the pin's existing media cache entry, 0 when unlinked.
	EntryID  int64
	Priority int
}

// DimensionCursor is the keyset position of a dimension scan. The zero value
// starts from the beginning.
type DimensionCursor struct {
	Started  bool
	Priority int
	PinID    int64
}

// Advance moves the cursor past c.
func (cur DimensionCursor) Advance(c DimensionCandidate) DimensionCursor {
	return DimensionCursor{Started: true, Priority: c.Priority, PinID: c.PinID}
}

// DimensionQuery selects pins missing dimensions. Pins whose URL contains one
// of PreferredHosts sort first, then URLs ending in one of ImageExtensions,
// then the rest; ties break newest pin first.
type DimensionQuery struct {
	Cursor          DimensionCursor
	Limit           int
	BoardID         int64
	PreferredHosts  []string
	ImageExtensions []string
}

// DimensionCounts summarizes dimension coverage across pins.
type DimensionCounts struct {
	TotalPins          int     `json:"totalPins"`
	PinsWithDimensions int     `json:"pinsWithDimensions"`
	PercentComplete    float64 `json:"percentComplete"`
}

// Coverage is the fraction of pins with known dimensions, from 0 to 1.
func (c DimensionCounts) Coverage() float64 {
	if c.TotalPins == 0 {
		return 0
	}
	return float64(c.PinsWithDimensions) / float64(c.TotalPins)
}

// StoredFile identifies a cached entry and its file on disk.
type StoredFile struct {
	EntryID  int64
	Filename string
}
