package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CreatePin inserts a pin row. The web application owns pins; this exists for
// stand-alone operation and tests.
func (d *Database) CreatePin(ctx context.Context, boardID int64, imageURL string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	result, err := d.db.ExecContext(ctx,
		`INSERT INTO pins (board_id, image_url, created_at) VALUES (?, ?, ?)`,
		boardID, imageURL, d.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("insert pin: %w", err)
	}
	return result.LastInsertId()
}

// CreatePinWithID inserts a pin with a caller-chosen id.
func (d *Database) CreatePinWithID(ctx context.Context, id, boardID int64, imageURL string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO pins (id, board_id, image_url, created_at) VALUES (?, ?, ?, ?)`,
		id, boardID, imageURL, d.now().Unix())
	if err != nil {
		return fmt.Errorf("insert pin %d: %w", id, err)
	}
	return nil
}

// GetPin returns a pin by id.
func (d *Database) GetPin(ctx context.Context, id int64) (*Pin, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var p Pin
	var cached sql.NullInt64
	var created int64
	err := d.db.QueryRowContext(ctx,
		`SELECT id, board_id, image_url, cached_media_id, created_at FROM pins WHERE id = ?`, id,
	).Scan(&p.ID, &p.BoardID, &p.ImageURL, &cached, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if cached.Valid {
		v := cached.Int64
		p.CachedMediaID = &v
	}
	p.CreatedAt = time.Unix(created, 0)
	return &p, nil
}

// LinkPin points a pin at a media cache entry. It reports false when the pin
// does not exist; pins are never created here.
func (d *Database) LinkPin(ctx context.Context, pinID, entryID int64) (linked bool, err error) {
	start := time.Now()
	defer func() { recordQuery("link_pin", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	result, err := d.db.ExecContext(ctx,
		`UPDATE pins SET cached_media_id = ? WHERE id = ?`, entryID, pinID)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// PinsNeedingCache returns pins with an http(s) image URL whose low quality
// entry is missing or not yet cached, newest first. A limit <= 0 means no
// limit and a boardID of 0 means every board.
func (d *Database) PinsNeedingCache(ctx context.Context, limit int, boardID int64) ([]CacheCandidate, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("pins_needing_cache", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	query := `
		SELECT p.id, p.image_url
		FROM pins p
		LEFT JOIN media_cache mc ON mc.id = p.cached_media_id
		WHERE (p.image_url LIKE 'http://%' OR p.image_url LIKE 'https://%')
		  AND (p.cached_media_id IS NULL OR mc.cache_status IS NULL OR mc.cache_status != 'cached')`
	args := []interface{}{}
	if boardID != 0 {
		query += ` AND p.board_id = ?`
		args = append(args, boardID)
	}
	query += ` ORDER BY p.created_at DESC, p.id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []CacheCandidate
	for rows.Next() {
		var c CacheCandidate
		if err = rows.Scan(&c.PinID, &c.ImageURL); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	err = rows.Err()
	return candidates, err
}

// priorityExpr builds a CASE expression ranking image URLs: 0 for preferred
// hosts, 1 for known image extensions, 2 for everything else.
func priorityExpr(q DimensionQuery) (string, []interface{}) {
	var b strings.Builder
	var args []interface{}

	b.WriteString("CASE")
	if len(q.PreferredHosts) > 0 {
		b.WriteString(" WHEN ")
		for i, host := range q.PreferredHosts {
			if i > 0 {
				b.WriteString(" OR ")
			}
			b.WriteString("instr(lower(p.image_url), ?) > 0")
			args = append(args, strings.ToLower(host))
		}
		b.WriteString(" THEN 0")
	}
	if len(q.ImageExtensions) > 0 {
		b.WriteString(" WHEN ")
		for i, ext := range q.ImageExtensions {
			if i > 0 {
				b.WriteString(" OR ")
			}
			b.WriteString("lower(p.image_url) LIKE ?")
			args = append(args, "%"+strings.ToLower(ext))
		}
		b.WriteString(" THEN 1")
	}
	b.WriteString(" ELSE 2 END")
	return b.String(), args
}

// PinsMissingDimensions returns the next page of pins whose image has no
// entry or an entry with zero width or height. Pages follow a keyset on
// (priority, pin id descending), so a scan that advances its cursor never
// sees the same pin twice even when earlier pins stay unresolved.
func (d *Database) PinsMissingDimensions(ctx context.Context, q DimensionQuery) ([]DimensionCandidate, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("pins_missing_dimensions", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	prio, args := priorityExpr(q)

	inner := `
		SELECT p.id AS pin_id, p.image_url AS image_url,
			COALESCE(mc.id, 0) AS entry_id, ` + prio + ` AS priority
		FROM pins p
		LEFT JOIN media_cache mc ON mc.id = p.cached_media_id
		WHERE p.image_url != ''
		  AND (mc.id IS NULL OR mc.width = 0 OR mc.height = 0)`
	if q.BoardID != 0 {
		inner += ` AND p.board_id = ?`
		args = append(args, q.BoardID)
	}

	query := `SELECT pin_id, image_url, entry_id, priority FROM (` + inner + `) candidates`
	if q.Cursor.Started {
		query += ` WHERE priority > ? OR (priority = ? AND pin_id < ?)`
		args = append(args, q.Cursor.Priority, q.Cursor.Priority, q.Cursor.PinID)
	}
	query += ` ORDER BY priority ASC, pin_id DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []DimensionCandidate
	for rows.Next() {
		var c DimensionCandidate
		if err = rows.Scan(&c.PinID, &c.ImageURL, &c.EntryID, &c.Priority); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	err = rows.Err()
	return candidates, err
}
