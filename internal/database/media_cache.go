package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const entryColumns = `id, source_url, quality_level, stored_filename, file_size_bytes,
	width, height, cache_status, retry_count, last_retry_at,
	created_at, updated_at, last_accessed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*MediaCacheEntry, error) {
	var e MediaCacheEntry
	var lastRetry sql.NullInt64
	var created, updated, accessed int64

	err := row.Scan(
		&e.ID, &e.SourceURL, &e.QualityLevel, &e.StoredFilename, &e.FileSizeBytes,
		&e.Width, &e.Height, &e.Status, &e.RetryCount, &lastRetry,
		&created, &updated, &accessed,
	)
	if err != nil {
		return nil, err
	}

	if lastRetry.Valid {
		t := time.Unix(lastRetry.Int64, 0)
		e.LastRetryAt = &t
	}
	e.CreatedAt = time.Unix(created, 0)
	e.UpdatedAt = time.Unix(updated, 0)
	e.LastAccessedAt = time.Unix(accessed, 0)
	return &e, nil
}

// FindEntry returns the live (non-expired) entry for a URL and quality level,
// or nil when there is none.
func (d *Database) FindEntry(ctx context.Context, sourceURL string, quality QualityLevel) (*MediaCacheEntry, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("find_entry", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	row := d.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM media_cache
		WHERE source_url = ? AND quality_level = ? AND cache_status != 'expired'
	`, sourceURL, quality)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return entry, err
}

// GetEntry returns an entry by id, including expired ones.
func (d *Database) GetEntry(ctx context.Context, id int64) (*MediaCacheEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	entry, err := scanEntry(d.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM media_cache WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return entry, err
}

// EntryByFilename returns the cached entry that owns a stored filename.
func (d *Database) EntryByFilename(ctx context.Context, filename string) (*MediaCacheEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	entry, err := scanEntry(d.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM media_cache
		WHERE stored_filename = ? AND cache_status = 'cached'
		ORDER BY id DESC
		LIMIT 1
	`, filename))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return entry, err
}

// UpsertPending creates a pending entry with zeroed dimensions unless a live
// entry for the key already exists, and returns the live entry's id.
// Concurrent callers converge on one row through the partial unique index.
func (d *Database) UpsertPending(ctx context.Context, sourceURL string, quality QualityLevel) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("upsert_pending", start, err) }()

	if len(sourceURL) > MaxSourceURLLength {
		err = fmt.Errorf("source url exceeds %d characters", MaxSourceURLLength)
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	now := d.now().Unix()
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO media_cache (source_url, quality_level, cache_status, created_at, updated_at, last_accessed_at)
		VALUES (?, ?, 'pending', ?, ?, ?)
		ON CONFLICT(source_url, quality_level) WHERE cache_status != 'expired' DO NOTHING
	`, sourceURL, quality, now, now, now)
	if err != nil {
		return 0, fmt.Errorf("insert pending entry: %w", err)
	}

	var id int64
	err = d.db.QueryRowContext(ctx, `
		SELECT id FROM media_cache
		WHERE source_url = ? AND quality_level = ? AND cache_status != 'expired'
	`, sourceURL, quality).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("select pending entry: %w", err)
	}
	return id, nil
}

// execConditional runs an UPDATE and maps "no row matched" to
// ErrConcurrencyConflict.
func (d *Database) execConditional(ctx context.Context, operation, query string, args ...interface{}) error {
	start := time.Now()
	var err error
	defer func() { recordQuery(operation, start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	result, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrConcurrencyConflict
	}
	return nil
}

// MarkCached records a successful download and resize. Retry bookkeeping is
// reset. A second worker finishing the same key simply overwrites the first.
func (d *Database) MarkCached(ctx context.Context, id int64, filename string, size int64, width, height int) error {
	now := d.now().Unix()
	return d.execConditional(ctx, "mark_cached", `
		UPDATE media_cache
		SET cache_status = 'cached', stored_filename = ?, file_size_bytes = ?,
			width = ?, height = ?, retry_count = 0, last_retry_at = NULL,
			updated_at = ?, last_accessed_at = ?
		WHERE id = ? AND cache_status != 'expired'
	`, filename, size, width, height, now, now, id)
}

// MarkFailed records a failed attempt: retry_count is incremented and
// last_retry_at set to now. Entries another worker already cached are left
// alone and ErrConcurrencyConflict is returned.
func (d *Database) MarkFailed(ctx context.Context, id int64) error {
	now := d.now().Unix()
	return d.execConditional(ctx, "mark_failed", `
		UPDATE media_cache
		SET cache_status = 'failed', retry_count = retry_count + 1,
			last_retry_at = ?, updated_at = ?
		WHERE id = ? AND cache_status IN ('pending', 'failed')
	`, now, now, id)
}

// MarkUnavailable marks an entry failed without consuming a retry, for
// attempts that were never made because a required capability is missing.
func (d *Database) MarkUnavailable(ctx context.Context, id int64) error {
	return d.execConditional(ctx, "mark_unavailable", `
		UPDATE media_cache
		SET cache_status = 'failed', updated_at = ?
		WHERE id = ? AND cache_status IN ('pending', 'failed')
	`, d.now().Unix(), id)
}

// UpdateDimensions stores pixel dimensions regardless of cache status.
func (d *Database) UpdateDimensions(ctx context.Context, id int64, width, height int) error {
	err := d.execConditional(ctx, "update_dimensions", `
		UPDATE media_cache SET width = ?, height = ?, updated_at = ? WHERE id = ?
	`, width, height, d.now().Unix(), id)
	if errors.Is(err, ErrConcurrencyConflict) {
		return ErrNotFound
	}
	return err
}

// TouchEntry bumps last_accessed_at so the cleanup sweep keeps the entry.
func (d *Database) TouchEntry(ctx context.Context, id int64) error {
	err := d.execConditional(ctx, "touch_entry",
		`UPDATE media_cache SET last_accessed_at = ? WHERE id = ?`, d.now().Unix(), id)
	if errors.Is(err, ErrConcurrencyConflict) {
		return ErrNotFound
	}
	return err
}

// ResetEntry returns a failed entry to pending with no retry history, making
// it eligible again after an operator has fixed the cause.
func (d *Database) ResetEntry(ctx context.Context, id int64) error {
	return d.execConditional(ctx, "reset_entry", `
		UPDATE media_cache
		SET cache_status = 'pending', retry_count = 0, last_retry_at = NULL, updated_at = ?
		WHERE id = ? AND cache_status = 'failed'
	`, d.now().Unix(), id)
}

// MarkExpired moves a cached entry to expired and clears every pin reference
// to it. Deleting the file is the caller's job. There is no way back from
// expired; a later request for the same key creates a new entry.
func (d *Database) MarkExpired(ctx context.Context, id int64) (err error) {
	start := time.Now()
	defer func() { recordQuery("mark_expired", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
			}
		}
	}()

	result, err := tx.ExecContext(ctx, `
		UPDATE media_cache SET cache_status = 'expired', updated_at = ?
		WHERE id = ? AND cache_status = 'cached'
	`, d.now().Unix(), id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		err = ErrConcurrencyConflict
		return err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE pins SET cached_media_id = NULL WHERE cached_media_id = ?`, id); err != nil {
		return err
	}

	return tx.Commit()
}

// StaleEntries returns cached entries not accessed since cutoff.
func (d *Database) StaleEntries(ctx context.Context, cutoff time.Time) ([]StoredFile, error) {
	return d.storedFiles(ctx, "stale_entries", `
		SELECT id, stored_filename FROM media_cache
		WHERE cache_status = 'cached' AND last_accessed_at < ?
		ORDER BY last_accessed_at
	`, cutoff.Unix())
}

// CachedEntries returns every cached entry and its filename.
func (d *Database) CachedEntries(ctx context.Context) ([]StoredFile, error) {
	return d.storedFiles(ctx, "cached_entries", `
		SELECT id, stored_filename FROM media_cache WHERE cache_status = 'cached' ORDER BY id
	`)
}

func (d *Database) storedFiles(ctx context.Context, operation, query string, args ...interface{}) ([]StoredFile, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery(operation, start, err) }()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []StoredFile
	for rows.Next() {
		var f StoredFile
		if err = rows.Scan(&f.EntryID, &f.Filename); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	err = rows.Err()
	return files, err
}
