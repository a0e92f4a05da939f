package persistence

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"LedgerStats/internal/core"
	"LedgerStats/internal/ingestion"
	"LedgerStats/internal/state"
	"LedgerStats/internal/store"
)

// maxRowsPerInsert keeps multi-row statements under the parameter limits
// of both drivers.
const maxRowsPerInsert = 200

// EventRow is a row in the events table.
type EventRow struct {
	Sequence  int64
	EventID   string
	EventType string
	Payload   []byte
	StateHash string
	PrevHash  string
	EventTime int64
}

type snapshotRef struct {
	kind     state.Kind
	entity   string
	interval state.Interval
	bucket   int64
}

// Batch coalesces consecutive outputs into one write. Later versions of a
// row or snapshot bucket replace earlier ones, and a delete cancels any
// pending upsert of the same row.
type Batch struct {
	Events    []EventRow
	upserts   map[store.RowRef]state.Row
	deletes   map[store.RowRef]struct{}
	rowSeq    map[store.RowRef]int64
	snapshots map[snapshotRef]*state.Snapshot
}

func NewBatch() *Batch {
	b := &Batch{}
	b.Reset()
	return b
}

func (b *Batch) Reset() {
	b.Events = b.Events[:0]
	b.upserts = make(map[store.RowRef]state.Row)
	b.deletes = make(map[store.RowRef]struct{})
	b.rowSeq = make(map[store.RowRef]int64)
	b.snapshots = make(map[snapshotRef]*state.Snapshot)
}

func (b *Batch) Len() int { return len(b.Events) }

// LastSequence is the highest sequence in the batch, or 0 when empty.
func (b *Batch) LastSequence() int64 {
	if len(b.Events) == 0 {
		return 0
	}
	return b.Events[len(b.Events)-1].Sequence
}

// Add appends one committed event.
func (b *Batch) Add(out core.Output) error {
	cs := out.ChangeSet
	payload, err := ingestion.EncodeEvent(out.Event)
	if err != nil {
		return fmt.Errorf("encode event %d: %w", cs.Sequence, err)
	}
	b.Events = append(b.Events, EventRow{
		Sequence:  cs.Sequence,
		EventID:   cs.EventID,
		EventType: cs.EventType.String(),
		Payload:   payload,
		StateHash: hex.EncodeToString(cs.StateHash[:]),
		PrevHash:  hex.EncodeToString(cs.PrevHash[:]),
		EventTime: cs.Timestamp.UnixNano(),
	})
	for _, row := range cs.Rows {
		ref := store.RowRef{Kind: row.Kind(), Key: row.Key()}
		delete(b.deletes, ref)
		b.upserts[ref] = row
		b.rowSeq[ref] = cs.Sequence
	}
	for _, ref := range cs.Deleted {
		delete(b.upserts, ref)
		b.deletes[ref] = struct{}{}
	}
	for _, snap := range cs.Snapshots {
		b.snapshots[snapshotRef{
			kind:     snap.Kind,
			entity:   snap.EntityID,
			interval: snap.Interval,
			bucket:   snap.BucketStart.UnixNano(),
		}] = snap
	}
	return nil
}

// RowCount is the number of row and snapshot writes the batch performs.
func (b *Batch) RowCount() int {
	return len(b.upserts) + len(b.deletes) + len(b.snapshots)
}

// StatsWriter writes batches using multi-row INSERT statements.
type StatsWriter struct {
	db *DB
}

func NewStatsWriter(db *DB) *StatsWriter {
	return &StatsWriter{db: db}
}

// Write stores a batch inside tx. Events already in the log are skipped,
// so a retried batch is harmless.
func (w *StatsWriter) Write(ctx context.Context, tx *sql.Tx, b *Batch) error {
	if err := w.writeEvents(ctx, tx, b.Events); err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	if err := w.writeRows(ctx, tx, b); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	if err := w.deleteRows(ctx, tx, b); err != nil {
		return fmt.Errorf("delete rows: %w", err)
	}
	if err := w.writeSnapshots(ctx, tx, b); err != nil {
		return fmt.Errorf("write snapshots: %w", err)
	}
	return nil
}

func (w *StatsWriter) writeEvents(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	now := time.Now().UTC().UnixNano()
	return w.insertMany(ctx, tx,
		`INSERT INTO events (sequence, event_id, event_type, payload, state_hash, prev_hash, event_time, persisted_at) VALUES `,
		` ON CONFLICT DO NOTHING`,
		8, len(events),
		func(i int) []any {
			e := events[i]
			return []any{e.Sequence, e.EventID, e.EventType, string(e.Payload), e.StateHash, e.PrevHash, e.EventTime, now}
		})
}

func (w *StatsWriter) writeRows(ctx context.Context, tx *sql.Tx, b *Batch) error {
	refs := sortedRefs(b.upserts)
	data := make([]string, len(refs))
	for i, ref := range refs {
		rec, err := state.EncodeRow(b.upserts[ref])
		if err != nil {
			return err
		}
		data[i] = string(rec.Data)
	}
	return w.insertMany(ctx, tx,
		`INSERT INTO stats_rows (kind, entity_key, data, sequence) VALUES `,
		` ON CONFLICT (kind, entity_key) DO UPDATE SET data = excluded.data, sequence = excluded.sequence`,
		4, len(refs),
		func(i int) []any {
			ref := refs[i]
			return []any{ref.Kind.String(), ref.Key, data[i], b.rowSeq[ref]}
		})
}

func (w *StatsWriter) deleteRows(ctx context.Context, tx *sql.Tx, b *Batch) error {
	if len(b.deletes) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, w.db.Dialect.Rebind(
		`DELETE FROM stats_rows WHERE kind = $1 AND entity_key = $2`))
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, ref := range sortedRefs(b.deletes) {
		if _, err := stmt.ExecContext(ctx, ref.Kind.String(), ref.Key); err != nil {
			return err
		}
	}
	return nil
}

func (w *StatsWriter) writeSnapshots(ctx context.Context, tx *sql.Tx, b *Batch) error {
	snaps := make([]*state.Snapshot, 0, len(b.snapshots))
	for _, s := range b.snapshots {
		snaps = append(snaps, s)
	}
	sort.Slice(snaps, func(i, j int) bool {
		a, c := snaps[i], snaps[j]
		if a.Kind != c.Kind {
			return a.Kind < c.Kind
		}
		if a.EntityID != c.EntityID {
			return a.EntityID < c.EntityID
		}
		if a.Interval != c.Interval {
			return a.Interval < c.Interval
		}
		return a.BucketStart.Before(c.BucketStart)
	})
	data := make([]string, len(snaps))
	for i, s := range snaps {
		rec, err := state.EncodeRow(s.Row)
		if err != nil {
			return err
		}
		data[i] = string(rec.Data)
	}
	return w.insertMany(ctx, tx,
		`INSERT INTO stats_snapshots (kind, entity_key, bucket_width, bucket_start, sequence, event_id, event_time, data) VALUES `,
		` ON CONFLICT (kind, entity_key, bucket_width, bucket_start) DO UPDATE SET `+
			`sequence = excluded.sequence, event_id = excluded.event_id, event_time = excluded.event_time, data = excluded.data`,
		8, len(snaps),
		func(i int) []any {
			s := snaps[i]
			return []any{s.Kind.String(), s.EntityID, s.Interval.String(), s.BucketStart.UnixNano(),
				s.Sequence, s.EventID, s.Timestamp.UnixNano(), data[i]}
		})
}

// insertMany issues head VALUES (...), (...) tail in chunks.
func (w *StatsWriter) insertMany(ctx context.Context, tx *sql.Tx, head, tail string, cols, n int, args func(int) []any) error {
	for start := 0; start < n; start += maxRowsPerInsert {
		end := min(start+maxRowsPerInsert, n)

		var sb strings.Builder
		sb.WriteString(head)
		params := make([]any, 0, (end-start)*cols)
		for i := start; i < end; i++ {
			if i > start {
				sb.WriteString(", ")
			}
			sb.WriteByte('(')
			for c := 0; c < cols; c++ {
				if c > 0 {
					sb.WriteString(", ")
				}
				fmt.Fprintf(&sb, "$%d", len(params)+c+1)
			}
			sb.WriteByte(')')
			params = append(params, args(i)...)
		}
		sb.WriteString(tail)

		if _, err := tx.ExecContext(ctx, w.db.Dialect.Rebind(sb.String()), params...); err != nil {
			return err
		}
	}
	return nil
}

func sortedRefs[V any](m map[store.RowRef]V) []store.RowRef {
	refs := make([]store.RowRef, 0, len(m))
	for ref := range m {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Kind != refs[j].Kind {
			return refs[i].Kind < refs[j].Kind
		}
		return refs[i].Key < refs[j].Key
	})
	return refs
}
