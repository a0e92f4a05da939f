package store

import (
	"sort"
	"time"

	"LedgerStats/internal/state"
)

// RowRef addresses one row
type RowRef struct {
	Kind state.Kind
	Key  string
}

func (r RowRef) less(o RowRef) bool {
	if r.Kind != o.Kind {
		return r.Kind < o.Kind
	}
	return r.Key < o.Key
}

// Store holds the current rows and interval history of every entity.
// It is owned by the engine goroutine and is not safe for concurrent use;
// readers go through the projection view instead.
type Store struct {
	rows   map[state.Kind]map[string]state.Row
	series map[seriesKey]*series

	clock time.Time // Latest committed event time
	open  *Tx
}

func New() *Store {
	s := &Store{
		rows:   make(map[state.Kind]map[string]state.Row),
		series: make(map[seriesKey]*series),
	}
	for _, k := range state.AllKinds() {
		s.rows[k] = make(map[string]state.Row)
	}
	return s
}

// Clock returns the latest event time committed to the store.
func (s *Store) Clock() time.Time {
	return s.clock
}

// Get returns a copy of the current row, or false if none exists.
func (s *Store) Get(kind state.Kind, key string) (state.Row, bool) {
	row, ok := s.rows[kind][key]
	if !ok {
		return nil, false
	}
	return row.Clone(), true
}

// Len returns the number of current rows of a kind.
func (s *Store) Len(kind state.Kind) int {
	return len(s.rows[kind])
}

// Each visits every row of a kind in key order. Rows passed to fn are
// the stored values and must not be modified.
func (s *Store) Each(kind state.Kind, fn func(state.Row) bool) {
	bucket := s.rows[kind]
	keys := make([]string, 0, len(bucket))
	for k := range bucket {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !fn(bucket[k]) {
			return
		}
	}
}

// History returns the snapshots of one entity ordered by bucket start.
func (s *Store) History(kind state.Kind, entityID string, interval state.Interval) []*state.Snapshot {
	ser, ok := s.series[seriesKey{kind: kind, entity: entityID, interval: interval}]
	if !ok {
		return nil
	}
	out := make([]*state.Snapshot, len(ser.points))
	copy(out, ser.points)
	return out
}

func (s *Store) putRow(row state.Row) {
	s.rows[row.Kind()][row.Key()] = row
}

func (s *Store) deleteRow(ref RowRef) {
	delete(s.rows[ref.Kind], ref.Key)
}
