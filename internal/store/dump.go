package store

import (
	"fmt"
	"time"

	"LedgerStats/internal/state"
)

// Dump is a full copy of the store for checkpoints.
type Dump struct {
	Rows      []state.Record    `json:"rows"`
	Snapshots []*state.Snapshot `json:"snapshots"`
	Clock     time.Time         `json:"clock,omitzero"`
}

// Dump serializes every row and snapshot in a stable order.
func (s *Store) Dump() (*Dump, error) {
	d := &Dump{Clock: s.clock}
	for _, kind := range state.AllKinds() {
		var err error
		s.Each(kind, func(row state.Row) bool {
			var rec state.Record
			rec, err = state.EncodeRow(row)
			if err != nil {
				return false
			}
			d.Rows = append(d.Rows, rec)
			return true
		})
		if err != nil {
			return nil, err
		}
	}
	for _, ser := range s.sortedSeries() {
		d.Snapshots = append(d.Snapshots, ser.points...)
	}
	return d, nil
}

// Restore replaces the store contents with a dump.
func (s *Store) Restore(d *Dump) error {
	if s.open != nil {
		return ErrTxOpen
	}
	fresh := New()
	for _, rec := range d.Rows {
		row, err := state.DecodeRow(rec)
		if err != nil {
			return fmt.Errorf("restore row: %w", err)
		}
		fresh.putRow(row)
	}
	for _, snap := range d.Snapshots {
		fresh.putSnapshot(snap)
	}
	s.rows = fresh.rows
	s.series = fresh.series
	s.clock = d.Clock
	return nil
}

func (s *Store) sortedSeries() []*series {
	keys := make([]seriesKey, 0, len(s.series))
	for k := range s.series {
		keys = append(keys, k)
	}
	sortSeriesKeys(keys)
	out := make([]*series, len(keys))
	for i, k := range keys {
		out[i] = s.series[k]
	}
	return out
}
