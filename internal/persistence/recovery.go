package persistence

import (
	"context"
	"fmt"
	"time"

	"LedgerStats/internal/core"
	"LedgerStats/internal/observability"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// RecoveryResult describes how the engine was rebuilt on startup.
type RecoveryResult struct {
	CheckpointSequence int64 // -1 on a cold start
	Replayed           int
	Sequence           int64
	StateHash          [32]byte
}

// Recover rebuilds engine state from the latest verified checkpoint and
// the event log written after it. Every replayed event must reproduce the
// state hash logged with it. warmIDs recent event ids are loaded into the
// engine's dedup cache afterwards.
func Recover(
	ctx context.Context,
	engine *core.Engine,
	checkpoints *CheckpointStore,
	log *EventLog,
	warmIDs int,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (RecoveryResult, error) {
	start := time.Now()
	res := RecoveryResult{CheckpointSequence: -1}

	cp, err := checkpoints.LoadLatest(ctx)
	if err != nil {
		return res, fmt.Errorf("load checkpoint: %w", err)
	}
	after := int64(0)
	if cp != nil {
		if err := engine.Restore(cp); err != nil {
			return res, fmt.Errorf("restore checkpoint %s: %w", cp.ID, err)
		}
		res.CheckpointSequence = cp.Sequence
		after = cp.Sequence
	} else {
		logger.Info().Msg("no verified checkpoint, replaying the full event log")
	}

	res.Replayed, err = log.ReadAfter(ctx, after, func(le LoggedEvent) error {
		cs, err := engine.Replay(ctx, le.Event)
		if err != nil {
			return fmt.Errorf("replay sequence %d: %w", le.Event.Sequence(), err)
		}
		if cs.StateHash != le.StateHash {
			return fmt.Errorf("state hash mismatch at sequence %d: logged %x, replayed %x",
				cs.Sequence, le.StateHash, cs.StateHash)
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	if warmIDs > 0 {
		ids, err := log.RecentEventIDs(ctx, warmIDs)
		if err != nil {
			return res, fmt.Errorf("warm dedup cache: %w", err)
		}
		engine.WarmLRU(ids)
	}

	res.Sequence = engine.Sequence()
	res.StateHash = engine.StateHash()
	if metrics != nil {
		metrics.ReplayEventsTotal.Add(float64(res.Replayed))
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	logger.Info().
		Int64("checkpoint_sequence", res.CheckpointSequence).
		Int("replayed", res.Replayed).
		Int64("sequence", res.Sequence).
		Dur("took", time.Since(start)).
		Msg("recovery complete")
	return res, nil
}

// CheckpointJob captures engine checkpoints, verifies pending ones against
// the event log, and prunes old ones.
type CheckpointJob struct {
	engine  *core.Engine
	store   *CheckpointStore
	keep    int
	timeout time.Duration
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewCheckpointJob(engine *core.Engine, store *CheckpointStore, keep int, metrics *observability.Metrics, logger zerolog.Logger) *CheckpointJob {
	return &CheckpointJob{
		engine:  engine,
		store:   store,
		keep:    keep,
		timeout: time.Minute,
		metrics: metrics,
		logger:  logger,
	}
}

// Take writes one checkpoint. The engine goroutine must be running.
func (j *CheckpointJob) Take(ctx context.Context) error {
	start := time.Now()
	cp, err := j.engine.RequestCheckpoint(ctx)
	if err != nil {
		return fmt.Errorf("capture checkpoint: %w", err)
	}
	size, err := j.store.Save(ctx, cp)
	if err != nil {
		return err
	}
	if j.metrics != nil {
		j.metrics.CheckpointTaken.Inc()
		j.metrics.CheckpointDuration.Observe(time.Since(start).Seconds())
		j.metrics.CheckpointSizeBytes.Set(float64(size))
		j.metrics.CheckpointLastSeq.Set(float64(cp.Sequence))
	}
	j.logger.Info().
		Str("checkpoint_id", cp.ID.String()).
		Int64("sequence", cp.Sequence).
		Int("size_bytes", size).
		Msg("checkpoint saved")
	return nil
}

// Maintain verifies pending checkpoints and prunes beyond the keep count.
// Checkpoints whose events are still being flushed stay pending for the
// next run.
func (j *CheckpointJob) Maintain(ctx context.Context) error {
	verified, err := j.store.VerifyPending(ctx)
	if err != nil {
		return err
	}
	pruned, err := j.store.Prune(ctx, j.keep)
	if err != nil {
		return err
	}
	if verified > 0 || pruned > 0 {
		j.logger.Debug().Int("verified", verified).Int64("pruned", pruned).Msg("checkpoint maintenance")
	}
	return nil
}

// Run is the cron entry point: maintain the previous checkpoints, then
// take a new one.
func (j *CheckpointJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	if err := j.Maintain(ctx); err != nil {
		j.logger.Error().Err(err).Msg("checkpoint maintenance failed")
	}
	if err := j.Take(ctx); err != nil {
		j.logger.Error().Err(err).Msg("checkpoint failed")
	}
}

// Schedule registers the job on a new cron scheduler. Specs take a
// leading seconds field or a descriptor such as "@every 5m". The caller
// starts and stops the scheduler.
func (j *CheckpointJob) Schedule(spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithSeconds(), cron.WithChain(
		cron.Recover(cron.DiscardLogger),
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	if _, err := c.AddJob(spec, j); err != nil {
		return nil, fmt.Errorf("schedule checkpoints %q: %w", spec, err)
	}
	return c, nil
}
