package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"LedgerStats/internal/core"
	"LedgerStats/internal/state"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	// NotifyPrefix is the namespace of change notifications; the last
	// token names the stats kind.
	NotifyPrefix     = "stats.updated."
	NotifyStreamName = "LEDGER_STATS_UPDATES"
)

// Notification lists the rows of one stats kind an event changed.
type Notification struct {
	Sequence  int64          `json:"sequence"`
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	StateHash string         `json:"state_hash"`
	Timestamp time.Time      `json:"timestamp"`
	Kind      string         `json:"kind"`
	Rows      []state.Record `json:"rows"`
	Deleted   []string       `json:"deleted,omitempty"`
}

// Notifications groups a committed change set by stats kind. Bookkeeping
// rows are not published.
func Notifications(out core.Output) ([]Notification, error) {
	cs := out.ChangeSet
	byKind := make(map[state.Kind]*Notification)
	var order []state.Kind
	get := func(k state.Kind) *Notification {
		n, ok := byKind[k]
		if !ok {
			n = &Notification{
				Sequence:  cs.Sequence,
				EventID:   cs.EventID,
				EventType: cs.EventType.String(),
				StateHash: hex.EncodeToString(cs.StateHash[:]),
				Timestamp: cs.Timestamp,
				Kind:      k.String(),
			}
			byKind[k] = n
			order = append(order, k)
		}
		return n
	}

	for _, row := range cs.Rows {
		if !row.Kind().Snapshotted() {
			continue
		}
		rec, err := state.EncodeRow(row)
		if err != nil {
			return nil, err
		}
		n := get(row.Kind())
		n.Rows = append(n.Rows, rec)
	}
	for _, ref := range cs.Deleted {
		if !ref.Kind.Snapshotted() {
			continue
		}
		n := get(ref.Kind)
		n.Deleted = append(n.Deleted, ref.Key)
	}

	notes := make([]Notification, 0, len(order))
	for _, k := range order {
		notes = append(notes, *byKind[k])
	}
	return notes, nil
}

// OutboundPublisher publishes change notifications to NATS. Publishing is
// best effort: the engine drops outputs when this worker falls behind, and
// subscribers can always read current state from the query API.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.Output
	logger    zerolog.Logger
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan core.Output, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{js: js, inputChan: inputChan, logger: logger}
}

// Run publishes until ctx ends or the input closes.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, out); err != nil {
				op.logger.Warn().
					Err(err).
					Int64("sequence", out.ChangeSet.Sequence).
					Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out core.Output) error {
	notes, err := Notifications(out)
	if err != nil {
		return err
	}
	for _, n := range notes {
		data, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("marshal notification: %w", err)
		}
		if _, err := op.js.Publish(ctx, NotifyPrefix+n.Kind, data); err != nil {
			return fmt.Errorf("publish %s: %w", n.Kind, err)
		}
	}
	return nil
}
