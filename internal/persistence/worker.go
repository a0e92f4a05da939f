package persistence

import (
	"context"
	"time"

	"LedgerStats/internal/core"
	"LedgerStats/internal/observability"

	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes committed
// change sets. The engine sends on that channel with a blocking send, so
// a slow database stalls the engine instead of losing events.
type PersistenceWorker struct {
	db           *DB
	writer       *StatsWriter
	inputChan    <-chan core.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewPersistenceWorker(
	db *DB,
	inputChan <-chan core.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &PersistenceWorker{
		db:           db,
		writer:       NewStatsWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

// Run batches incoming outputs and flushes when the batch is full or the
// flush timeout expires. Blocks until ctx is cancelled or the input closes.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := NewBatch()

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			pw.drain(batch)
			if batch.Len() > 0 {
				if err := pw.flush(context.Background(), batch); err != nil {
					pw.logger.Error().Err(err).Int("events", batch.Len()).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case out, ok := <-pw.inputChan:
			if !ok {
				if batch.Len() > 0 {
					if err := pw.flush(context.Background(), batch); err != nil {
						pw.logger.Error().Err(err).Int("events", batch.Len()).Msg("final flush failed")
					}
				}
				return nil
			}

			if err := batch.Add(out); err != nil {
				pw.logger.Error().Err(err).Int64("sequence", out.ChangeSet.Sequence).Msg("cannot encode change set")
				if pw.metrics != nil {
					pw.metrics.PersistErrors.WithLabelValues("encode").Inc()
				}
				continue
			}

			if batch.Len() >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				batch.Reset()
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if batch.Len() > 0 {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				batch.Reset()
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// drain moves whatever is already buffered into the batch without
// blocking.
func (pw *PersistenceWorker) drain(batch *Batch) {
	for {
		select {
		case out, ok := <-pw.inputChan:
			if !ok {
				return
			}
			if err := batch.Add(out); err != nil {
				pw.logger.Error().Err(err).Int64("sequence", out.ChangeSet.Sequence).Msg("cannot encode change set")
			}
		default:
			return
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx ends. On shutdown it makes one last attempt with a background
// context so the batch is not lost.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, batch *Batch) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", batch.Len()).
				Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				return pw.flush(context.Background(), batch)
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
		}

		err := pw.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		pw.logger.Warn().Err(err).Msg("persistence flush failed")
	}
}

// flush writes the batch in a single transaction.
func (pw *PersistenceWorker) flush(ctx context.Context, batch *Batch) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.Write(ctx, tx, batch); err != nil {
		pw.countError("write")
		return err
	}

	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(batch.Len()))
		pw.metrics.PersistRowsWritten.Add(float64(batch.RowCount()))
		pw.metrics.PersistLastSequence.Set(float64(batch.LastSequence()))
	}
	pw.logger.Debug().
		Int("events", batch.Len()).
		Int("rows", batch.RowCount()).
		Int64("last_sequence", batch.LastSequence()).
		Msg("flushed batch")
	return nil
}

func (pw *PersistenceWorker) countError(kind string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(kind).Inc()
	}
}
