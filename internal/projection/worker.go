package projection

import (
	"context"
	"errors"
	"sync/atomic"

	"LedgerStats/internal/core"

	"github.com/rs/zerolog"
)

// ResyncFunc fetches a full copy of committed state, normally
// Engine.RequestCheckpoint.
type ResyncFunc func(ctx context.Context) (*core.Checkpoint, error)

// ProjectionWorker keeps the view current from the projection channel.
// The engine drops outputs when the channel is full; the worker notices
// the broken hash chain and reloads the view from a fresh checkpoint.
type ProjectionWorker struct {
	view      *View
	inputChan <-chan core.Output
	resync    ResyncFunc
	logger    zerolog.Logger
	resyncs   atomic.Int64
}

func NewProjectionWorker(view *View, inputChan <-chan core.Output, resync ResyncFunc, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		view:      view,
		inputChan: inputChan,
		resync:    resync,
		logger:    logger,
	}
}

// Run applies outputs until ctx ends or the channel closes.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			err := pw.view.Apply(out.ChangeSet)
			if err == nil {
				continue
			}
			if !errors.Is(err, ErrStale) {
				return err
			}
			pw.logger.Warn().Err(err).Msg("reloading projection view")
			if err := pw.reload(ctx); err != nil {
				return err
			}
		}
	}
}

func (pw *ProjectionWorker) reload(ctx context.Context) error {
	cp, err := pw.resync(ctx)
	if err != nil {
		return err
	}
	if err := pw.view.Load(cp); err != nil {
		return err
	}
	pw.resyncs.Add(1)
	pw.logger.Info().Int64("sequence", cp.Sequence).Msg("projection view reloaded")
	return nil
}

// Resyncs is the number of reloads so far.
func (pw *ProjectionWorker) Resyncs() int64 {
	return pw.resyncs.Load()
}
