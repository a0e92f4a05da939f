package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLIdempotencyChecker is the durable dedup tier: an event id is a
// duplicate once it is in the event log.
type SQLIdempotencyChecker struct {
	db      *DB
	timeout time.Duration
}

func NewSQLIdempotencyChecker(db *DB) *SQLIdempotencyChecker {
	return &SQLIdempotencyChecker{db: db, timeout: 500 * time.Millisecond}
}

func (c *SQLIdempotencyChecker) IsDuplicate(eventID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var exists int
	err := c.db.QueryRow(ctx, `SELECT 1 FROM events WHERE event_id = $1 LIMIT 1`, eventID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
