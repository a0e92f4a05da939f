package projection

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"LedgerStats/internal/core"
	"LedgerStats/internal/state"
	"LedgerStats/internal/store"

	"github.com/puzpuzpuz/xsync/v4"
)

// ErrStale means a change set does not extend the view's hash chain: an
// output was dropped on the way and the view must be reloaded.
var ErrStale = errors.New("projection view is stale")

// View is the committed state as seen by queries. A single worker
// applies change sets; any number of readers may query concurrently and
// never block the engine.
type View struct {
	data      atomic.Pointer[viewData]
	sequence  atomic.Int64
	stateHash atomic.Pointer[[32]byte]
	ledgerAt  atomic.Int64
}

type viewData struct {
	rows    map[state.Kind]*xsync.Map[string, state.Row]
	history *xsync.Map[seriesKey, *series]
}

type seriesKey struct {
	kind     state.Kind
	entity   string
	interval state.Interval
}

// series is one entity's snapshots at one interval, ordered by bucket.
type series struct {
	mu     sync.RWMutex
	points []*state.Snapshot
}

func newViewData() *viewData {
	d := &viewData{
		rows:    make(map[state.Kind]*xsync.Map[string, state.Row]),
		history: xsync.NewMap[seriesKey, *series](),
	}
	for _, k := range state.AllKinds() {
		d.rows[k] = xsync.NewMap[string, state.Row]()
	}
	return d
}

func NewView() *View {
	v := &View{}
	v.data.Store(newViewData())
	genesis := core.GenesisHash()
	v.stateHash.Store(&genesis)
	return v
}

// Sequence is the feed position of the last applied change set.
func (v *View) Sequence() int64 { return v.sequence.Load() }

// StateHash is the chain tip the view reflects.
func (v *View) StateHash() [32]byte { return *v.stateHash.Load() }

// LedgerTime is the ledger timestamp of the last applied event.
func (v *View) LedgerTime() time.Time {
	ns := v.ledgerAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// Apply folds one committed change set into the view. Change sets at or
// below the current sequence are ignored. Single writer only.
func (v *View) Apply(cs *store.ChangeSet) error {
	if cs.Sequence <= v.Sequence() {
		return nil
	}
	if cs.PrevHash != v.StateHash() {
		return fmt.Errorf("%w: change set %d does not follow %d", ErrStale, cs.Sequence, v.Sequence())
	}

	d := v.data.Load()
	for _, row := range cs.Rows {
		d.rows[row.Kind()].Store(row.Key(), row)
	}
	for _, ref := range cs.Deleted {
		d.rows[ref.Kind].Delete(ref.Key)
	}
	for _, snap := range cs.Snapshots {
		d.putSnapshot(snap)
	}

	hash := cs.StateHash
	v.stateHash.Store(&hash)
	v.ledgerAt.Store(cs.Timestamp.UnixNano())
	v.sequence.Store(cs.Sequence)
	return nil
}

// Load replaces the view with a checkpoint. Readers switch to the new
// contents at once.
func (v *View) Load(cp *core.Checkpoint) error {
	d := newViewData()
	for _, rec := range cp.Store.Rows {
		row, err := state.DecodeRow(rec)
		if err != nil {
			return fmt.Errorf("load view: %w", err)
		}
		d.rows[row.Kind()].Store(row.Key(), row)
	}
	for _, snap := range cp.Store.Snapshots {
		d.putSnapshot(snap)
	}

	v.data.Store(d)
	hash := cp.StateHash
	v.stateHash.Store(&hash)
	v.sequence.Store(cp.Sequence)
	var latest time.Time
	for _, snap := range cp.Store.Snapshots {
		if snap.Timestamp.After(latest) {
			latest = snap.Timestamp
		}
	}
	if !latest.IsZero() {
		v.ledgerAt.Store(latest.UnixNano())
	}
	return nil
}

func (d *viewData) putSnapshot(snap *state.Snapshot) {
	k := seriesKey{kind: snap.Kind, entity: snap.EntityID, interval: snap.Interval}
	ser, ok := d.history.Load(k)
	if !ok {
		ser = &series{}
		d.history.Store(k, ser)
	}

	ser.mu.Lock()
	defer ser.mu.Unlock()
	i := sort.Search(len(ser.points), func(i int) bool {
		return !ser.points[i].BucketStart.Before(snap.BucketStart)
	})
	if i < len(ser.points) && ser.points[i].BucketStart.Equal(snap.BucketStart) {
		ser.points[i] = snap
		return
	}
	ser.points = append(ser.points, nil)
	copy(ser.points[i+1:], ser.points[i:])
	ser.points[i] = snap
}

// Get returns the committed row. Rows are shared and must not be modified.
func (v *View) Get(kind state.Kind, key string) (state.Row, bool) {
	m, ok := v.data.Load().rows[kind]
	if !ok {
		return nil, false
	}
	return m.Load(key)
}

// List returns the rows of one kind accepted by keep, ordered by key. A
// nil keep accepts every row.
func (v *View) List(kind state.Kind, keep func(state.Row) bool) []state.Row {
	m, ok := v.data.Load().rows[kind]
	if !ok {
		return nil
	}
	var out []state.Row
	m.Range(func(_ string, row state.Row) bool {
		if keep == nil || keep(row) {
			out = append(out, row)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Count returns the number of rows of one kind.
func (v *View) Count(kind state.Kind) int {
	m, ok := v.data.Load().rows[kind]
	if !ok {
		return 0
	}
	return m.Size()
}

// HistoryRange selects snapshots by bucket start. Zero bounds are open;
// a non-positive Limit returns every match.
type HistoryRange struct {
	From       time.Time
	To         time.Time
	Descending bool
	Limit      int
}

func (r HistoryRange) contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// History returns an entity's snapshots at one interval.
func (v *View) History(kind state.Kind, entity string, interval state.Interval, r HistoryRange) []*state.Snapshot {
	ser, ok := v.data.Load().history.Load(seriesKey{kind: kind, entity: entity, interval: interval})
	if !ok {
		return nil
	}

	ser.mu.RLock()
	matched := make([]*state.Snapshot, 0, len(ser.points))
	for _, p := range ser.points {
		if r.contains(p.BucketStart) {
			matched = append(matched, p)
		}
	}
	ser.mu.RUnlock()

	if r.Descending {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	if r.Limit > 0 && len(matched) > r.Limit {
		matched = matched[:r.Limit]
	}
	return matched
}
