package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"LedgerStats/internal/aggregate"
	"LedgerStats/internal/event"
	"LedgerStats/internal/ledger"
	"LedgerStats/internal/observability"
	"LedgerStats/internal/state"
	"LedgerStats/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine is the single-writer event processor. All methods except
// RequestCheckpoint must be called from the goroutine running the engine.
type Engine struct {
	store       *store.Store
	agg         *aggregate.Aggregator
	hasher      *StateHasher
	idempotency *IdempotencyChecker
	sequence    *SequenceValidator
	metrics     *observability.Metrics
	logger      zerolog.Logger

	persistChan    chan<- Output
	projectionChan chan<- Output
	publishChan    chan<- Output

	checkpoints chan chan checkpointResult

	// Set while re-applying the event log. The durable dedup tier is
	// skipped since every logged id is in it, and nothing is published.
	replaying bool
}

// Output is one committed event handed to the downstream workers.
type Output struct {
	Event     event.Event
	ChangeSet *store.ChangeSet
}

// Config tunes the engine
type Config struct {
	// Accept events that skip feed positions instead of rejecting them
	AllowGaps   bool
	LRUCapacity int
	Aggregate   aggregate.Config
}

func DefaultConfig() Config {
	return Config{
		LRUCapacity: 1_000_000,
		Aggregate:   aggregate.DefaultConfig(),
	}
}

// Outputs are the downstream channels. Persist is a blocking send; the
// others drop when full. Nil channels are skipped.
type Outputs struct {
	Persist    chan<- Output
	Projection chan<- Output
	Publish    chan<- Output
}

func NewEngine(
	cfg Config,
	outputs Outputs,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		store:          store.New(),
		agg:            aggregate.New(cfg.Aggregate, logger),
		hasher:         NewStateHasher(),
		idempotency:    NewIdempotencyChecker(cfg.LRUCapacity, dbChecker, metrics),
		sequence:       NewSequenceValidator(0, cfg.AllowGaps),
		metrics:        metrics,
		logger:         logger,
		persistChan:    outputs.Persist,
		projectionChan: outputs.Projection,
		publishChan:    outputs.Publish,
		checkpoints:    make(chan chan checkpointResult),
	}
}

// Close stops the revaluation workers.
func (e *Engine) Close() {
	e.agg.Close()
}

// ProcessEvent applies one event all-or-nothing. Duplicates return an
// error wrapping ErrDuplicate and leave state untouched; any other error
// rolls back every write the event made.
func (e *Engine) ProcessEvent(ctx context.Context, evt event.Event) (*store.ChangeSet, error) {
	start := time.Now()
	et := evt.EventType()
	eventType := et.String()

	// Step 1: Route lookup and validation
	rt, ok := routes[et]
	if !ok {
		e.reject(eventType, "malformed")
		return nil, fmt.Errorf("%w: no route for event type %s", event.ErrMalformed, eventType)
	}
	if err := evt.Validate(); err != nil {
		e.reject(eventType, "malformed")
		e.consume(evt.Sequence())
		return nil, fmt.Errorf("event %s: %w", evt.EventID(), err)
	}

	// Step 2: Feed position
	if err := e.sequence.Check(evt.Sequence()); err != nil {
		if errors.Is(err, ErrDuplicate) {
			e.duplicate(eventType, "sequence")
		} else {
			e.reject(eventType, "gap")
			if e.metrics != nil {
				e.metrics.EventSequenceGap.Inc()
			}
		}
		return nil, fmt.Errorf("event %s: %w", evt.EventID(), err)
	}

	// Step 3: Idempotency check (two-tier)
	var dup bool
	var tier string
	if e.replaying {
		dup, tier = e.idempotency.IsCached(evt.EventID()), "lru"
	} else {
		dup, tier = e.idempotency.IsDuplicate(eventType, evt.EventID())
	}
	if dup {
		// The feed position is consumed even though nothing is applied
		e.sequence.Advance(evt.Sequence())
		e.duplicate(eventType, tier)
		return nil, fmt.Errorf("%w: event %s already applied", ErrDuplicate, evt.EventID())
	}

	// Step 4: Apply inside a store transaction
	cs, err := e.apply(ctx, rt, evt)
	if err != nil {
		reason := "failed"
		if Rejected(err) {
			// Deterministic rejections consume their feed position
			reason = "rejected"
			e.consume(evt.Sequence())
		}
		e.reject(eventType, reason)
		e.logger.Warn().
			Err(err).
			Str("event_type", eventType).
			Str("event_id", evt.EventID()).
			Int64("sequence", evt.Sequence()).
			Msg("event rolled back")
		return nil, fmt.Errorf("event %s: %w", evt.EventID(), err)
	}

	// Step 5: Extend the hash chain
	hashStart := time.Now()
	digest, err := cs.Digest()
	if err != nil {
		// Rows are committed; a digest that cannot be computed breaks the chain
		panic(fmt.Sprintf("FATAL: digest of committed change set %s: %v", cs, err))
	}
	cs.PrevHash = e.hasher.GetPrevHash()
	cs.StateHash = e.hasher.ComputeHash(cs.Sequence, digest)
	if e.metrics != nil {
		e.metrics.EngineStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	e.sequence.Advance(evt.Sequence())
	e.idempotency.MarkProcessed(evt.EventID(), evt.Sequence())

	// Step 6: Emit outputs
	if err := e.emit(ctx, Output{Event: evt, ChangeSet: cs}); err != nil {
		return cs, err
	}

	if e.metrics != nil {
		e.metrics.EngineEventsApplied.WithLabelValues(eventType).Inc()
		e.metrics.EngineEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		e.metrics.EngineSequence.Set(float64(cs.Sequence))
		e.metrics.EngineSnapshots.Add(float64(len(cs.Snapshots)))
		for _, row := range cs.Rows {
			e.metrics.EngineRowsWritten.WithLabelValues(row.Kind().String()).Inc()
		}
	}
	return cs, nil
}

// apply runs the routed stages, snapshots and validates the dirty rows,
// and commits. Any error rolls the transaction back.
func (e *Engine) apply(ctx context.Context, rt route, evt event.Event) (cs *store.ChangeSet, err error) {
	// Closed snapshot buckets are immutable
	if clock := e.store.Clock(); evt.Timestamp().Before(clock) {
		return nil, fmt.Errorf("%w: timestamp %s is before last applied %s",
			event.ErrMalformed, evt.Timestamp().UTC().Format(time.RFC3339), clock.Format(time.RFC3339))
	}
	tx, err := e.store.Begin(evt.Sequence(), evt.EventID(), evt.EventType(), evt.Timestamp())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	c := &aggregate.Context{Ctx: ctx, Tx: tx, Event: evt}
	if err := rt.resolve(tx, evt, c); err != nil {
		return nil, err
	}

	for _, s := range aggregate.Pipeline {
		if !rt.stages.Has(s) {
			continue
		}
		stageStart := time.Now()
		if err := e.agg.Run(s, c); err != nil {
			return nil, fmt.Errorf("stage %s: %w", s, err)
		}
		if e.metrics != nil {
			e.metrics.EngineStageDuration.WithLabelValues(s.String()).Observe(time.Since(stageStart).Seconds())
		}
	}

	tx.SnapshotDirty()
	if err := e.validateDirty(tx); err != nil {
		return nil, err
	}
	return tx.Commit(), nil
}

// validateDirty checks the local invariants of every row the event wrote.
func (e *Engine) validateDirty(tx *store.Tx) error {
	for _, ref := range tx.Dirty() {
		row, ok := tx.Get(ref.Kind, ref.Key)
		if !ok {
			continue
		}
		if err := ledger.ValidateRow(row); err != nil {
			return err
		}
		d, ok := row.(*state.TokenDistributionStats)
		if !ok {
			continue
		}
		ts, ok := tx.Get(state.KindTokenStats, d.Token)
		if !ok {
			return fmt.Errorf("%w: distribution for token %s without stats", ledger.ErrInvariant, d.Token)
		}
		nonZero := e.agg.NonZeroHolders(d.Token)
		if err := ledger.ValidateDistribution(d, ts.(*state.TokenStats), nonZero); err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.DistributionHolders.WithLabelValues(d.Token).Set(float64(nonZero))
		}
	}
	return nil
}

// emit hands the committed output to the downstream workers. Persistence
// blocks (backpressure), projection and publishing drop on full. Replayed
// events are already durable and were already published.
func (e *Engine) emit(ctx context.Context, out Output) error {
	if e.persistChan != nil && !e.replaying {
		select {
		case e.persistChan <- out:
		case <-ctx.Done():
			return fmt.Errorf("persist event %s: %w", out.ChangeSet.EventID, ctx.Err())
		}
	}

	if e.projectionChan != nil {
		select {
		case e.projectionChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.Inc()
			}
		}
	}

	if e.publishChan != nil && !e.replaying {
		select {
		case e.publishChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}
	return nil
}

// Rejected reports whether err rejects the event itself: it is malformed
// or asks for more than a balance holds. Replaying it always fails the
// same way, so the feed moves past it. Any other error is a processing
// failure and the event should be retried.
func Rejected(err error) bool {
	return aggregate.IsMalformed(err) || errors.Is(err, ledger.ErrInsufficientBalance)
}

// consume advances past seq if it is the next feed position.
func (e *Engine) consume(seq int64) {
	if seq == e.sequence.LastApplied()+1 {
		e.sequence.Advance(seq)
	}
}

func (e *Engine) reject(eventType, reason string) {
	if e.metrics != nil {
		e.metrics.EngineEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

func (e *Engine) duplicate(eventType, tier string) {
	e.reject(eventType, "duplicate")
	if e.metrics != nil {
		e.metrics.IdempotencyDuplicates.WithLabelValues(eventType, tier).Inc()
	}
}

// --- Run loop ---

// Submission is one event handed to the engine goroutine. Done, when set,
// receives the outcome after the event commits or fails.
type Submission struct {
	Event event.Event
	Done  func(*store.ChangeSet, error)
}

// Run consumes submissions until ctx ends or in closes. Checkpoint
// requests are served between events.
func (e *Engine) Run(ctx context.Context, in <-chan Submission) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case sub, ok := <-in:
			if !ok {
				return nil
			}
			cs, err := e.ProcessEvent(ctx, sub.Event)
			if sub.Done != nil {
				sub.Done(cs, err)
			}

		case reply := <-e.checkpoints:
			cp, err := e.Checkpoint()
			reply <- checkpointResult{cp: cp, err: err}
		}
	}
}

// --- Checkpoints ---

// Checkpoint is a full copy of engine state at one feed position.
type Checkpoint struct {
	ID        uuid.UUID   `json:"id"`
	Sequence  int64       `json:"sequence"`
	StateHash [32]byte    `json:"state_hash"`
	EventIDs  []string    `json:"event_ids"`
	Store     *store.Dump `json:"store"`
	CreatedAt time.Time   `json:"created_at"`
}

type checkpointResult struct {
	cp  *Checkpoint
	err error
}

// Checkpoint captures the current state. Engine goroutine only.
func (e *Engine) Checkpoint() (*Checkpoint, error) {
	dump, err := e.store.Dump()
	if err != nil {
		return nil, fmt.Errorf("dump store: %w", err)
	}
	return &Checkpoint{
		ID:        uuid.New(),
		Sequence:  e.sequence.LastApplied(),
		StateHash: e.hasher.GetPrevHash(),
		EventIDs:  e.idempotency.Keys(),
		Store:     dump,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// RequestCheckpoint asks a running engine for a checkpoint between events.
// Safe to call from any goroutine.
func (e *Engine) RequestCheckpoint(ctx context.Context) (*Checkpoint, error) {
	reply := make(chan checkpointResult, 1)
	select {
	case e.checkpoints <- reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.cp, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Restore replaces engine state with a checkpoint, rebuilds the holder
// rankings and verifies every cross-row invariant.
func (e *Engine) Restore(cp *Checkpoint) error {
	if err := e.store.Restore(cp.Store); err != nil {
		return err
	}
	e.agg.Rebuild(e.store)
	if err := ledger.ValidateStore(e.store); err != nil {
		return fmt.Errorf("restored checkpoint %s: %w", cp.ID, err)
	}
	e.hasher.SetPrevHash(cp.StateHash)
	e.sequence.SetLastApplied(cp.Sequence)
	e.idempotency.WarmFromKeys(cp.EventIDs)

	e.logger.Info().
		Str("checkpoint_id", cp.ID.String()).
		Int64("sequence", cp.Sequence).
		Int("rows", len(cp.Store.Rows)).
		Msg("restored checkpoint")
	return nil
}

// Replay reapplies an event read back from the event log. Positions
// missing from the log were rejected when first seen, so the gap before
// evt is skipped.
func (e *Engine) Replay(ctx context.Context, evt event.Event) (*store.ChangeSet, error) {
	if prev := evt.Sequence() - 1; prev > e.sequence.LastApplied() {
		e.sequence.SetLastApplied(prev)
	}
	e.replaying = true
	defer func() { e.replaying = false }()
	return e.ProcessEvent(ctx, evt)
}

// WarmLRU loads recently processed event ids into the LRU cache.
func (e *Engine) WarmLRU(ids []string) {
	e.idempotency.WarmFromKeys(ids)
}

// Sequence returns the last applied feed sequence.
func (e *Engine) Sequence() int64 {
	return e.sequence.LastApplied()
}

// StateHash returns the current state hash (chain tip).
func (e *Engine) StateHash() [32]byte {
	return e.hasher.GetPrevHash()
}

// Store exposes the committed state. Engine goroutine only.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Holders exposes a token's holder ranking. Engine goroutine only.
func (e *Engine) Holders(token string) *aggregate.Holders {
	return e.agg.Holders(token)
}
