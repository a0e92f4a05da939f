package store

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"LedgerStats/internal/event"
	"LedgerStats/internal/state"
)

var ErrTxOpen = errors.New("transaction already open")

// Tx collects the writes of one event. Writes go straight to the store and
// are journaled so Rollback can restore the pre-event state exactly.
type Tx struct {
	store *Store

	sequence  int64
	eventID   string
	eventType event.EventType
	timestamp time.Time

	undo    []func()
	written map[RowRef]state.Row
	deleted map[RowRef]struct{}
	snaps   []*state.Snapshot
	done    bool
}

// Begin opens the transaction for one event. Only one may be open at a time.
func (s *Store) Begin(seq int64, eventID string, et event.EventType, ts time.Time) (*Tx, error) {
	if s.open != nil {
		return nil, ErrTxOpen
	}
	tx := &Tx{
		store:     s,
		sequence:  seq,
		eventID:   eventID,
		eventType: et,
		timestamp: ts.UTC(),
		written:   make(map[RowRef]state.Row),
		deleted:   make(map[RowRef]struct{}),
	}
	s.open = tx
	return tx, nil
}

func (tx *Tx) Sequence() int64      { return tx.sequence }
func (tx *Tx) EventID() string      { return tx.eventID }
func (tx *Tx) Timestamp() time.Time { return tx.timestamp }

// Get returns a copy of the current row, including writes made earlier in
// this transaction.
func (tx *Tx) Get(kind state.Kind, key string) (state.Row, bool) {
	return tx.store.Get(kind, key)
}

// Put writes a copy of row. The caller keeps ownership of the value it passed.
func (tx *Tx) Put(row state.Row) {
	tx.mustBeOpen()
	ref := RowRef{Kind: row.Kind(), Key: row.Key()}
	tx.journal(ref)
	stored := row.Clone()
	tx.store.putRow(stored)
	tx.written[ref] = stored
	delete(tx.deleted, ref)
}

// Delete removes a row. Deleting a missing row is a no-op.
func (tx *Tx) Delete(kind state.Kind, key string) {
	tx.mustBeOpen()
	ref := RowRef{Kind: kind, Key: key}
	if _, ok := tx.store.rows[kind][key]; !ok {
		return
	}
	tx.journal(ref)
	tx.store.deleteRow(ref)
	delete(tx.written, ref)
	tx.deleted[ref] = struct{}{}
}

// OnRollback registers an undo for state kept outside the store.
// Undos run in reverse registration order.
func (tx *Tx) OnRollback(fn func()) {
	tx.mustBeOpen()
	tx.undo = append(tx.undo, fn)
}

// journal records the pre-transaction value of ref on its first write.
func (tx *Tx) journal(ref RowRef) {
	if _, seen := tx.written[ref]; seen {
		return
	}
	if _, seen := tx.deleted[ref]; seen {
		return
	}
	prev, existed := tx.store.rows[ref.Kind][ref.Key]
	s := tx.store
	tx.undo = append(tx.undo, func() {
		if existed {
			s.putRow(prev)
		} else {
			s.deleteRow(ref)
		}
	})
}

// Dirty returns the refs written so far, sorted.
func (tx *Tx) Dirty() []RowRef {
	refs := make([]RowRef, 0, len(tx.written))
	for ref := range tx.written {
		refs = append(refs, ref)
	}
	sortRefs(refs)
	return refs
}

// SnapshotDirty writes the hour and day snapshot of every dirty aggregate
// row, replacing any snapshot already in the same bucket.
func (tx *Tx) SnapshotDirty() int {
	tx.mustBeOpen()
	n := 0
	for _, ref := range tx.Dirty() {
		if !ref.Kind.Snapshotted() {
			continue
		}
		row := tx.written[ref]
		for _, interval := range state.Intervals {
			snap := &state.Snapshot{
				Kind:        ref.Kind,
				EntityID:    ref.Key,
				Interval:    interval,
				BucketStart: interval.BucketStart(tx.timestamp),
				Sequence:    tx.sequence,
				EventID:     tx.eventID,
				Timestamp:   tx.timestamp,
				Row:         row.Clone(),
			}
			tx.undo = append(tx.undo, tx.store.putSnapshot(snap))
			tx.snaps = append(tx.snaps, snap)
			n++
		}
	}
	return n
}

// Commit closes the transaction and returns what it changed.
func (tx *Tx) Commit() *ChangeSet {
	tx.mustBeOpen()
	tx.done = true
	tx.store.open = nil
	if tx.timestamp.After(tx.store.clock) {
		tx.store.clock = tx.timestamp
	}

	cs := &ChangeSet{
		Sequence:  tx.sequence,
		EventID:   tx.eventID,
		EventType: tx.eventType,
		Timestamp: tx.timestamp,
		Snapshots: tx.snaps,
	}
	for _, ref := range tx.Dirty() {
		cs.Rows = append(cs.Rows, tx.written[ref].Clone())
	}
	for ref := range tx.deleted {
		cs.Deleted = append(cs.Deleted, ref)
	}
	sortRefs(cs.Deleted)
	return cs
}

// Rollback restores every row, snapshot and registered external structure
// to its state before Begin. Rolling back a finished transaction is a no-op.
func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	tx.done = true
	tx.store.open = nil
}

func (tx *Tx) mustBeOpen() {
	if tx.done {
		panic(fmt.Sprintf("store: use of finished transaction for event %s", tx.eventID))
	}
}

func sortRefs(refs []RowRef) {
	sort.Slice(refs, func(i, j int) bool { return refs[i].less(refs[j]) })
}
