package ingestion

import (
	"context"
	"encoding/json"
	"fmt"

	"LedgerStats/internal/core"
	"LedgerStats/internal/event"
	"LedgerStats/internal/store"

	"github.com/google/uuid"
)

// Injector submits manually supplied events to the engine. It is for
// admin operations and repairs; the feed remains the primary source.
type Injector struct {
	subs chan<- core.Submission
}

func NewInjector(subs chan<- core.Submission) *Injector {
	return &Injector{subs: subs}
}

// Inject decodes payload as an event of type et, assigns an event id when
// none is given, and waits for the engine's outcome.
func (in *Injector) Inject(ctx context.Context, et event.EventType, payload []byte) (*store.ChangeSet, error) {
	payload, err := withEventID(payload)
	if err != nil {
		return nil, err
	}
	evt, err := ParseEvent(et, payload)
	if err != nil {
		return nil, err
	}

	type result struct {
		cs  *store.ChangeSet
		err error
	}
	done := make(chan result, 1)
	sub := core.Submission{
		Event: evt,
		Done:  func(cs *store.ChangeSet, err error) { done <- result{cs, err} },
	}

	select {
	case in.subs <- sub:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-done:
		return r.cs, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func withEventID(payload []byte) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("%w: payload is not a JSON object: %v", event.ErrMalformed, err)
	}
	if id, ok := fields["event_id"]; ok && string(id) != `""` {
		return payload, nil
	}
	id, err := json.Marshal("manual-" + uuid.NewString())
	if err != nil {
		return nil, err
	}
	fields["event_id"] = id
	return json.Marshal(fields)
}
