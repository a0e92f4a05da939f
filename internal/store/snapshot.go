package store

import (
	"sort"
	"time"

	"LedgerStats/internal/state"
)

type seriesKey struct {
	kind     state.Kind
	entity   string
	interval state.Interval
}

// series is the bucket history of one entity at one interval width,
// ordered by bucket start.
type series struct {
	points []*state.Snapshot
}

func (s *series) find(bucket time.Time) (int, bool) {
	i := sort.Search(len(s.points), func(i int) bool {
		return !s.points[i].BucketStart.Before(bucket)
	})
	return i, i < len(s.points) && s.points[i].BucketStart.Equal(bucket)
}

// upsert writes snap into its bucket and returns the snapshot it replaced.
func (s *series) upsert(snap *state.Snapshot) (prev *state.Snapshot) {
	i, found := s.find(snap.BucketStart)
	if found {
		prev = s.points[i]
		s.points[i] = snap
		return prev
	}
	s.points = append(s.points, nil)
	copy(s.points[i+1:], s.points[i:])
	s.points[i] = snap
	return nil
}

// restore puts prev back into its bucket, or removes the bucket when
// prev is nil.
func (s *series) restore(bucket time.Time, prev *state.Snapshot) {
	i, found := s.find(bucket)
	if !found {
		return
	}
	if prev != nil {
		s.points[i] = prev
		return
	}
	s.points = append(s.points[:i], s.points[i+1:]...)
}

func (st *Store) seriesFor(kind state.Kind, entity string, interval state.Interval) *series {
	k := seriesKey{kind: kind, entity: entity, interval: interval}
	ser, ok := st.series[k]
	if !ok {
		ser = &series{}
		st.series[k] = ser
	}
	return ser
}

// putSnapshot upserts a snapshot and returns the undo for it.
func (st *Store) putSnapshot(snap *state.Snapshot) func() {
	ser := st.seriesFor(snap.Kind, snap.EntityID, snap.Interval)
	prev := ser.upsert(snap)
	bucket := snap.BucketStart
	return func() { ser.restore(bucket, prev) }
}

func sortSeriesKeys(keys []seriesKey) {
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.kind != b.kind {
			return a.kind < b.kind
		}
		if a.entity != b.entity {
			return a.entity < b.entity
		}
		return a.interval < b.interval
	})
}
