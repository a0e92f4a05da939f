package ingestion

import (
	"context"
	"errors"
	"time"

	"LedgerStats/internal/core"
	"LedgerStats/internal/event"
	"LedgerStats/internal/observability"
	"LedgerStats/internal/store"

	"github.com/rs/zerolog"
)

// gapRetryDelay spaces out redelivery of events that arrived ahead of
// their predecessor.
const gapRetryDelay = 500 * time.Millisecond

// Feeder decodes feed messages and submits them to the engine, settling
// each message once the engine has processed it:
//
//	applied, duplicate, rejected  → ack
//	parse failure (poison)        → ack, logged and counted
//	sequence gap                  → nak with delay
//	anything else                 → nak
type Feeder struct {
	rawChan <-chan RawEvent
	subs    chan<- core.Submission
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewFeeder(rawChan <-chan RawEvent, subs chan<- core.Submission, metrics *observability.Metrics, logger zerolog.Logger) *Feeder {
	return &Feeder{rawChan: rawChan, subs: subs, metrics: metrics, logger: logger}
}

// Run feeds until ctx ends or the raw channel closes.
func (f *Feeder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-f.rawChan:
			if !ok {
				return nil
			}
			evt, err := ParseRawEvent(raw)
			if err != nil {
				f.poison(raw, err)
				continue
			}

			sub := core.Submission{
				Event: evt,
				Done: func(_ *store.ChangeSet, err error) {
					f.settle(raw, evt, err)
				},
			}
			select {
			case f.subs <- sub:
			case <-ctx.Done():
				raw.Nak(0)
				return ctx.Err()
			}
		}
	}
}

func (f *Feeder) poison(raw RawEvent, err error) {
	f.logger.Error().
		Err(err).
		Str("subject", raw.Subject).
		Int("bytes", len(raw.Data)).
		Msg("poison message acked")
	if f.metrics != nil {
		f.metrics.IngestPoison.WithLabelValues(raw.Subject).Inc()
	}
	raw.Ack()
}

// settle runs on the engine goroutine.
func (f *Feeder) settle(raw RawEvent, evt event.Event, err error) {
	switch {
	case err == nil:
		raw.Ack()
		if f.metrics != nil {
			f.metrics.IngestToApply.WithLabelValues(evt.EventType().String()).Observe(time.Since(raw.Timestamp).Seconds())
		}

	case errors.Is(err, core.ErrDuplicate):
		raw.Ack()

	case core.Rejected(err):
		f.logger.Warn().
			Err(err).
			Str("event_id", evt.EventID()).
			Int64("sequence", evt.Sequence()).
			Msg("event rejected")
		raw.Ack()

	case errors.Is(err, core.ErrSequenceGap):
		raw.Nak(gapRetryDelay)

	default:
		f.logger.Error().
			Err(err).
			Str("event_id", evt.EventID()).
			Int64("sequence", evt.Sequence()).
			Msg("event processing failed, will be redelivered")
		raw.Nak(0)
	}
}
