package persistence

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"LedgerStats/internal/event"
	"LedgerStats/internal/ingestion"
)

// EventLog reads the persisted event log back for recovery.
type EventLog struct {
	db       *DB
	pageSize int
}

func NewEventLog(db *DB) *EventLog {
	return &EventLog{db: db, pageSize: 1000}
}

// LoggedEvent is one decoded event-log row.
type LoggedEvent struct {
	Event     event.Event
	StateHash [32]byte
	PrevHash  [32]byte
}

// ReadAfter calls fn for every logged event with a sequence above after,
// in sequence order, and returns how many were read.
func (l *EventLog) ReadAfter(ctx context.Context, after int64, fn func(LoggedEvent) error) (int, error) {
	count := 0
	for {
		n, last, err := l.readPage(ctx, after, fn)
		count += n
		if err != nil {
			return count, err
		}
		if n < l.pageSize {
			return count, nil
		}
		after = last
	}
}

// readPage buffers one page before calling fn, so fn may use the
// database even on a single-connection pool.
func (l *EventLog) readPage(ctx context.Context, after int64, fn func(LoggedEvent) error) (int, int64, error) {
	page, err := l.loadPage(ctx, after)
	if err != nil {
		return 0, after, err
	}
	for i, logged := range page {
		if err := fn(logged); err != nil {
			return i, after, err
		}
		after = logged.Event.Sequence()
	}
	return len(page), after, nil
}

func (l *EventLog) loadPage(ctx context.Context, after int64) ([]LoggedEvent, error) {
	rows, err := l.db.Query(ctx, `
		SELECT sequence, event_type, payload, state_hash, prev_hash
		FROM events
		WHERE sequence > $1
		ORDER BY sequence ASC
		LIMIT $2
	`, after, l.pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var page []LoggedEvent
	for rows.Next() {
		var (
			seq                 int64
			typeName, payload   string
			stateHash, prevHash string
		)
		if err := rows.Scan(&seq, &typeName, &payload, &stateHash, &prevHash); err != nil {
			return nil, err
		}
		logged, err := decodeLogged(seq, typeName, payload, stateHash, prevHash)
		if err != nil {
			return nil, err
		}
		page = append(page, logged)
	}
	return page, rows.Err()
}

func decodeLogged(seq int64, typeName, payload, stateHash, prevHash string) (LoggedEvent, error) {
	et, err := event.ParseEventType(typeName)
	if err != nil {
		return LoggedEvent{}, fmt.Errorf("event %d: %w", seq, err)
	}
	evt, err := ingestion.ParseEvent(et, []byte(payload))
	if err != nil {
		return LoggedEvent{}, fmt.Errorf("event %d: %w", seq, err)
	}
	out := LoggedEvent{Event: evt}
	if out.StateHash, err = decodeHash(stateHash); err != nil {
		return LoggedEvent{}, fmt.Errorf("event %d state hash: %w", seq, err)
	}
	if out.PrevHash, err = decodeHash(prevHash); err != nil {
		return LoggedEvent{}, fmt.Errorf("event %d prev hash: %w", seq, err)
	}
	return out, nil
}

func decodeHash(s string) ([32]byte, error) {
	var h [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("hash is %d bytes", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// LatestSequence returns the highest logged sequence, 0 when empty.
func (l *EventLog) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := l.db.QueryRow(ctx, `SELECT MAX(sequence) FROM events`).Scan(&seq); err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

// StateHashAt returns the chain tip after every logged event up to and
// including seq. ok is false when no event at or below seq is logged.
func (l *EventLog) StateHashAt(ctx context.Context, seq int64) (hash [32]byte, ok bool, err error) {
	var s string
	err = l.db.QueryRow(ctx, `
		SELECT state_hash FROM events
		WHERE sequence <= $1
		ORDER BY sequence DESC
		LIMIT 1
	`, seq).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return hash, false, nil
	}
	if err != nil {
		return hash, false, err
	}
	hash, err = decodeHash(s)
	return hash, err == nil, err
}

// RecentEventIDs returns up to limit event ids, newest first.
func (l *EventLog) RecentEventIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := l.db.Query(ctx, `SELECT event_id FROM events ORDER BY sequence DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
