package projection_test

import (
	"context"
	"testing"
	"time"

	"LedgerStats/internal/core"
	"LedgerStats/internal/projection"
	"LedgerStats/internal/state"
	"LedgerStats/internal/testutil"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

// runScenario applies the scenario and returns the engine with every
// output it emitted, in order.
func runScenario(t *testing.T) (*core.Engine, []core.Output) {
	t.Helper()
	ch := make(chan core.Output, 64)
	e := core.NewEngine(core.DefaultConfig(), core.Outputs{Projection: ch}, nil, nil, zerolog.Nop())
	t.Cleanup(e.Close)

	for _, evt := range testutil.Scenario() {
		_, err := e.ProcessEvent(context.Background(), evt)
		require.NoError(t, err)
	}
	close(ch)
	var outs []core.Output
	for out := range ch {
		outs = append(outs, out)
	}
	return e, outs
}

func requireMatchesEngine(t *testing.T, v *projection.View, e *core.Engine) {
	t.Helper()
	assert.Equal(t, e.Sequence(), v.Sequence())
	assert.Equal(t, e.StateHash(), v.StateHash())
	for _, kind := range state.AllKinds() {
		var want []string
		e.Store().Each(kind, func(row state.Row) bool {
			want = append(want, row.Key())
			return true
		})
		var got []string
		for _, row := range v.List(kind, nil) {
			got = append(got, row.Key())
		}
		assert.ElementsMatch(t, want, got, "kind %s", kind)
		assert.Equal(t, len(want), v.Count(kind))
	}
}

// ============================================================================
// Test: Apply & Load
// ============================================================================

func TestView_FollowsEngine(t *testing.T) {
	e, outs := runScenario(t)
	v := projection.NewView()
	for _, out := range outs {
		require.NoError(t, v.Apply(out.ChangeSet))
	}
	requireMatchesEngine(t, v, e)

	_, ok := v.Get(state.KindPrice, "0xeqt")
	assert.False(t, ok, "removed claim deletes the price row")
	tok, ok := v.Get(state.KindTokenStats, "0xeqt")
	require.True(t, ok)
	assert.Equal(t, "0xeqt", tok.Key())

	want := e.Store().History(state.KindTokenStats, "0xeqt", state.IntervalHour)
	got := v.History(state.KindTokenStats, "0xeqt", state.IntervalHour, projection.HistoryRange{})
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].BucketStart, got[i].BucketStart)
		assert.Equal(t, want[i].Sequence, got[i].Sequence)
	}
	assert.Equal(t, outs[len(outs)-1].ChangeSet.Timestamp.UTC(), v.LedgerTime())
}

func TestView_ReplayedOutputsAreIgnored(t *testing.T) {
	_, outs := runScenario(t)
	v := projection.NewView()
	for _, out := range outs {
		require.NoError(t, v.Apply(out.ChangeSet))
	}
	hash := v.StateHash()
	require.NoError(t, v.Apply(outs[2].ChangeSet))
	assert.Equal(t, hash, v.StateHash())
}

func TestView_DroppedOutputIsStale(t *testing.T) {
	e, outs := runScenario(t)
	v := projection.NewView()
	require.NoError(t, v.Apply(outs[0].ChangeSet))

	err := v.Apply(outs[2].ChangeSet)
	require.ErrorIs(t, err, projection.ErrStale)
	assert.Equal(t, outs[0].ChangeSet.Sequence, v.Sequence())

	cp, err := e.Checkpoint()
	require.NoError(t, err)
	require.NoError(t, v.Load(cp))
	requireMatchesEngine(t, v, e)
}

func TestView_HistoryRange(t *testing.T) {
	_, outs := runScenario(t)
	v := projection.NewView()
	for _, out := range outs {
		require.NoError(t, v.Apply(out.ChangeSet))
	}

	all := v.History(state.KindTokenStats, "0xeqt", state.IntervalHour, projection.HistoryRange{})
	require.GreaterOrEqual(t, len(all), 3, "scenario spans several hours")

	desc := v.History(state.KindTokenStats, "0xeqt", state.IntervalHour, projection.HistoryRange{Descending: true, Limit: 2})
	require.Len(t, desc, 2)
	assert.Equal(t, all[len(all)-1].BucketStart, desc[0].BucketStart)
	assert.Equal(t, all[len(all)-2].BucketStart, desc[1].BucketStart)

	from := all[1].BucketStart
	to := all[len(all)-2].BucketStart
	mid := v.History(state.KindTokenStats, "0xeqt", state.IntervalHour, projection.HistoryRange{From: from, To: to})
	assert.Len(t, mid, len(all)-2)

	none := v.History(state.KindTokenStats, "0xeqt", state.IntervalHour, projection.HistoryRange{From: to.Add(24 * time.Hour)})
	assert.Empty(t, none)
	assert.Nil(t, v.History(state.KindTokenStats, "0xmissing", state.IntervalDay, projection.HistoryRange{}))
}

// ============================================================================
// Test: Worker
// ============================================================================

func TestWorker_ReloadsAfterDrop(t *testing.T) {
	e, outs := runScenario(t)
	cp, err := e.Checkpoint()
	require.NoError(t, err)

	v := projection.NewView()
	ch := make(chan core.Output, len(outs))
	for i, out := range outs {
		if i == 4 {
			continue
		}
		ch <- out
	}
	close(ch)

	w := projection.NewProjectionWorker(v, ch, func(context.Context) (*core.Checkpoint, error) {
		return cp, nil
	}, zerolog.Nop())
	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, int64(1), w.Resyncs())
	requireMatchesEngine(t, v, e)
}
