package persistence_test

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"LedgerStats/internal/core"
	"LedgerStats/internal/event"
	"LedgerStats/internal/persistence"
	"LedgerStats/internal/state"
	"LedgerStats/internal/store"
	"LedgerStats/internal/testutil"
	"LedgerStats/migrations"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

// persistScenario applies the scenario on an engine wired to a running
// persistence worker and waits for the final flush.
func persistScenario(t *testing.T, db *persistence.DB) *core.Engine {
	t.Helper()
	ctx := context.Background()

	persistCh := make(chan core.Output, 4)
	e := core.NewEngine(core.DefaultConfig(), core.Outputs{Persist: persistCh},
		persistence.NewSQLIdempotencyChecker(db), nil, zerolog.Nop())
	t.Cleanup(e.Close)

	worker := persistence.NewPersistenceWorker(db, persistCh, 5, time.Hour, nil, zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	for _, evt := range testutil.Scenario() {
		_, err := e.ProcessEvent(ctx, evt)
		require.NoError(t, err)
	}
	close(persistCh)
	require.NoError(t, <-done)
	return e
}

func countRows(t *testing.T, db *persistence.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func storedRows(t *testing.T, db *persistence.DB) map[string]string {
	t.Helper()
	rows, err := db.Query(context.Background(), `SELECT kind, entity_key, data FROM stats_rows`)
	require.NoError(t, err)
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var kind, key, data string
		require.NoError(t, rows.Scan(&kind, &key, &data))
		out[kind+"/"+key] = data
	}
	require.NoError(t, rows.Err())
	return out
}

// ============================================================================
// Test: Migrations
// ============================================================================

func TestMigrator_UpIsIdempotentAndDownRollsBack(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupSQLite(t)
	m := persistence.NewMigrator(db, migrations.FS, zerolog.Nop())

	n, err := m.Up(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "SetupSQLite already migrated")

	status, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status, 3)
	for _, s := range status {
		assert.True(t, s.Applied, s.File)
	}

	rolled, err := m.Down(ctx)
	require.NoError(t, err)
	assert.True(t, rolled)

	_, err = db.Exec(ctx, `SELECT 1 FROM checkpoints`)
	assert.Error(t, err, "checkpoints table is dropped")

	n, err = m.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDialect_Rebind(t *testing.T) {
	q := `SELECT a FROM t WHERE b = $1 AND c = $12`
	assert.Equal(t, q, persistence.DialectPostgres.Rebind(q))
	assert.Equal(t, `SELECT a FROM t WHERE b = ? AND c = ?`, persistence.DialectSQLite.Rebind(q))

	_, err := persistence.ParseDialect("mysql")
	assert.Error(t, err)
}

// ============================================================================
// Test: Worker & writer
// ============================================================================

func TestWorker_PersistsEventsRowsAndSnapshots(t *testing.T) {
	db := testutil.SetupSQLite(t)
	e := persistScenario(t, db)

	assert.Equal(t, len(testutil.Scenario()), countRows(t, db, "events"))

	dump, err := e.Store().Dump()
	require.NoError(t, err)
	got := storedRows(t, db)
	require.Len(t, got, len(dump.Rows))
	for _, rec := range dump.Rows {
		assert.JSONEq(t, string(rec.Data), got[rec.Kind+"/"+rec.Key], "%s/%s", rec.Kind, rec.Key)
	}
	_, hasPrice := got[state.KindPrice.String()+"/0xeqt"]
	assert.False(t, hasPrice, "removed price claim deletes the row")

	assert.Equal(t, len(dump.Snapshots), countRows(t, db, "stats_snapshots"))

	var lastHash string
	require.NoError(t, db.QueryRow(context.Background(),
		`SELECT state_hash FROM events ORDER BY sequence DESC LIMIT 1`).Scan(&lastHash))
	tip := e.StateHash()
	assert.Equal(t, hex.EncodeToString(tip[:]), lastHash)
}

func TestBatch_CoalescesRowVersions(t *testing.T) {
	f := testutil.NewFeed()
	first := f.TokenCreated("0xeqt", "0xsys", event.CategoryEquity, 0)
	second := f.TokenCreated("0xfund", "0xsys", event.CategoryFund, 0)

	acc := state.NewAccountStats(testutil.Alice)
	ref := store.RowRef{Kind: state.KindAccountStats, Key: testutil.Alice}

	b := persistence.NewBatch()
	require.NoError(t, b.Add(core.Output{Event: first, ChangeSet: &store.ChangeSet{
		Sequence: 1, EventID: first.EventID(), EventType: first.EventType(), Timestamp: first.Timestamp(),
		Rows: []state.Row{acc},
	}}))
	require.NoError(t, b.Add(core.Output{Event: second, ChangeSet: &store.ChangeSet{
		Sequence: 2, EventID: second.EventID(), EventType: second.EventType(), Timestamp: second.Timestamp(),
		Deleted: []store.RowRef{ref},
	}}))

	assert.Equal(t, 2, b.Len())
	assert.Equal(t, int64(2), b.LastSequence())
	assert.Equal(t, 1, b.RowCount(), "the delete replaces the pending upsert")

	db := testutil.SetupSQLite(t)
	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, persistence.NewStatsWriter(db).Write(ctx, tx, b))
	require.NoError(t, tx.Commit())

	assert.Equal(t, 2, countRows(t, db, "events"))
	assert.Zero(t, countRows(t, db, "stats_rows"))

	// A retried batch is a no-op for the event log
	tx, err = db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, persistence.NewStatsWriter(db).Write(ctx, tx, b))
	require.NoError(t, tx.Commit())
	assert.Equal(t, 2, countRows(t, db, "events"))

	b.Reset()
	assert.Zero(t, b.Len())
	assert.Zero(t, b.RowCount())
}

// ============================================================================
// Test: Event log & recovery
// ============================================================================

func TestEventLog_ReplayRebuildsIdenticalState(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupSQLite(t)
	original := persistScenario(t, db)

	log := persistence.NewEventLog(db)
	latest, err := log.LatestSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, original.Sequence(), latest)

	// The durable tier knows every logged id; replay must still apply them
	replayed := core.NewEngine(core.DefaultConfig(), core.Outputs{},
		persistence.NewSQLIdempotencyChecker(db), nil, zerolog.Nop())
	t.Cleanup(replayed.Close)

	n, err := log.ReadAfter(ctx, 0, func(le persistence.LoggedEvent) error {
		cs, err := replayed.Replay(ctx, le.Event)
		if err != nil {
			return err
		}
		assert.Equal(t, le.StateHash, cs.StateHash, "sequence %d", cs.Sequence)
		assert.Equal(t, le.PrevHash, cs.PrevHash, "sequence %d", cs.Sequence)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, len(testutil.Scenario()), n)
	assert.Equal(t, original.StateHash(), replayed.StateHash())

	ids, err := log.RecentEventIDs(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"evt-000017", "evt-000016", "evt-000015"}, ids)
}

func TestEventLog_StateHashAt(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupSQLite(t)
	e := persistScenario(t, db)
	log := persistence.NewEventLog(db)

	_, ok, err := log.StateHashAt(ctx, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	hash, ok, err := log.StateHashAt(ctx, e.Sequence()+100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, e.StateHash(), hash)
}

func TestSQLIdempotencyChecker(t *testing.T) {
	db := testutil.SetupSQLite(t)
	persistScenario(t, db)
	checker := persistence.NewSQLIdempotencyChecker(db)

	dup, err := checker.IsDuplicate("evt-000001")
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = checker.IsDuplicate("never-seen")
	require.NoError(t, err)
	assert.False(t, dup)
}

// ============================================================================
// Test: Checkpoints
// ============================================================================

func TestCheckpointStore_VerifyThenLoad(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupSQLite(t)
	e := persistScenario(t, db)
	cps := persistence.NewCheckpointStore(db, zerolog.Nop())

	cp, err := e.Checkpoint()
	require.NoError(t, err)
	size, err := cps.Save(ctx, cp)
	require.NoError(t, err)
	assert.Positive(t, size)

	loaded, err := cps.LoadLatest(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded, "unverified checkpoints are not used")

	verified, err := cps.VerifyPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, verified)

	loaded, err = cps.LoadLatest(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, cp.ID, loaded.ID)
	assert.Equal(t, cp.Sequence, loaded.Sequence)
	assert.Equal(t, cp.StateHash, loaded.StateHash)

	restored := core.NewEngine(core.DefaultConfig(), core.Outputs{}, nil, nil, zerolog.Nop())
	t.Cleanup(restored.Close)
	require.NoError(t, restored.Restore(loaded))
	assert.Equal(t, e.StateHash(), restored.StateHash())
}

func TestCheckpointStore_MismatchIsNeverVerified(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupSQLite(t)
	e := persistScenario(t, db)
	cps := persistence.NewCheckpointStore(db, zerolog.Nop())

	cp, err := e.Checkpoint()
	require.NoError(t, err)
	cp.StateHash[0] ^= 0xff
	_, err = cps.Save(ctx, cp)
	require.NoError(t, err)

	verified, err := cps.VerifyPending(ctx)
	assert.Error(t, err)
	assert.Zero(t, verified)

	loaded, err := cps.LoadLatest(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestCheckpointStore_AheadOfLogStaysPending(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupSQLite(t)
	cps := persistence.NewCheckpointStore(db, zerolog.Nop())

	e := core.NewEngine(core.DefaultConfig(), core.Outputs{}, nil, nil, zerolog.Nop())
	t.Cleanup(e.Close)
	for _, evt := range testutil.Scenario()[:3] {
		_, err := e.ProcessEvent(ctx, evt)
		require.NoError(t, err)
	}
	cp, err := e.Checkpoint()
	require.NoError(t, err)
	_, err = cps.Save(ctx, cp)
	require.NoError(t, err)

	verified, err := cps.VerifyPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, verified)
}

func TestCheckpointStore_Prune(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupSQLite(t)
	cps := persistence.NewCheckpointStore(db, zerolog.Nop())

	// Empty engine checkpoints match the genesis hash
	e := core.NewEngine(core.DefaultConfig(), core.Outputs{}, nil, nil, zerolog.Nop())
	t.Cleanup(e.Close)
	for seq := int64(0); seq < 3; seq++ {
		cp, err := e.Checkpoint()
		require.NoError(t, err)
		cp.Sequence = seq - 3
		_, err = cps.Save(ctx, cp)
		require.NoError(t, err)
	}
	verified, err := cps.VerifyPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, verified)

	pruned, err := cps.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)
	assert.Equal(t, 2, countRows(t, db, "checkpoints"))
}

// ============================================================================
// Test: Recovery & checkpoint job
// ============================================================================

func TestRecover_ColdStartReplaysFullLog(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupSQLite(t)
	original := persistScenario(t, db)

	e := core.NewEngine(core.DefaultConfig(), core.Outputs{},
		persistence.NewSQLIdempotencyChecker(db), nil, zerolog.Nop())
	t.Cleanup(e.Close)

	res, err := persistence.Recover(ctx, e, persistence.NewCheckpointStore(db, zerolog.Nop()),
		persistence.NewEventLog(db), 10, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, int64(-1), res.CheckpointSequence)
	assert.Equal(t, 17, res.Replayed)
	assert.Equal(t, original.Sequence(), res.Sequence)
	assert.Equal(t, original.StateHash(), res.StateHash)

	// Warmed ids are caught before the durable tier
	_, err = e.ProcessEvent(ctx, testutil.Scenario()[16])
	assert.ErrorIs(t, err, core.ErrDuplicate)
}

func TestRecover_FromCheckpointReplaysTail(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupSQLite(t)
	original := persistScenario(t, db)
	cps := persistence.NewCheckpointStore(db, zerolog.Nop())

	partial := core.NewEngine(core.DefaultConfig(), core.Outputs{}, nil, nil, zerolog.Nop())
	t.Cleanup(partial.Close)
	for _, evt := range testutil.Scenario()[:10] {
		_, err := partial.ProcessEvent(ctx, evt)
		require.NoError(t, err)
	}
	cp, err := partial.Checkpoint()
	require.NoError(t, err)
	_, err = cps.Save(ctx, cp)
	require.NoError(t, err)
	verified, err := cps.VerifyPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, verified)

	e := core.NewEngine(core.DefaultConfig(), core.Outputs{}, nil, nil, zerolog.Nop())
	t.Cleanup(e.Close)
	res, err := persistence.Recover(ctx, e, cps, persistence.NewEventLog(db), 0, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.CheckpointSequence)
	assert.Equal(t, 7, res.Replayed)
	assert.Equal(t, original.StateHash(), res.StateHash)
}

func TestRecover_RejectsTamperedLog(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupSQLite(t)
	persistScenario(t, db)

	genesis := core.GenesisHash()
	_, err := db.Exec(ctx, `UPDATE events SET state_hash = $1 WHERE sequence = $2`,
		hex.EncodeToString(genesis[:]), 5)
	require.NoError(t, err)

	e := core.NewEngine(core.DefaultConfig(), core.Outputs{}, nil, nil, zerolog.Nop())
	t.Cleanup(e.Close)
	_, err = persistence.Recover(ctx, e, persistence.NewCheckpointStore(db, zerolog.Nop()),
		persistence.NewEventLog(db), 0, nil, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state hash mismatch at sequence 5")
}

func TestCheckpointJob_TakeThenMaintain(t *testing.T) {
	db := testutil.SetupSQLite(t)
	e := persistScenario(t, db)
	cps := persistence.NewCheckpointStore(db, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		e.Run(ctx, make(chan core.Submission))
	}()
	t.Cleanup(func() {
		cancel()
		<-runDone
	})

	job := persistence.NewCheckpointJob(e, cps, 1, nil, zerolog.Nop())
	require.NoError(t, job.Take(ctx))

	loaded, err := cps.LoadLatest(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded, "pending until maintained")

	require.NoError(t, job.Maintain(ctx))
	loaded, err = cps.LoadLatest(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, e.Sequence(), loaded.Sequence)

	_, err = job.Schedule("not a schedule")
	assert.Error(t, err)
	c, err := job.Schedule("@every 1h")
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)
}

// ============================================================================
// Test: Postgres (integration)
// ============================================================================

func TestPostgres_PersistThenRecover(t *testing.T) {
	db := testutil.SetupPostgres(t)
	ctx := context.Background()
	original := persistScenario(t, db)

	dump, err := original.Store().Dump()
	require.NoError(t, err)
	assert.Len(t, storedRows(t, db), len(dump.Rows))

	e := core.NewEngine(core.DefaultConfig(), core.Outputs{},
		persistence.NewSQLIdempotencyChecker(db), nil, zerolog.Nop())
	t.Cleanup(e.Close)
	res, err := persistence.Recover(ctx, e, persistence.NewCheckpointStore(db, zerolog.Nop()),
		persistence.NewEventLog(db), 100, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, original.StateHash(), res.StateHash)
}
