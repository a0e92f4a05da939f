package aggregate

import (
	"context"
	"errors"
	"fmt"

	"LedgerStats/internal/event"
	"LedgerStats/internal/ledger"
	fpmath "LedgerStats/internal/math"
	"LedgerStats/internal/state"
	"LedgerStats/internal/store"

	"github.com/alitto/pond/v2"
	"github.com/rs/zerolog"
)

// ErrUnknownEntity marks events referencing a token, schedule, claim or
// registry member that does not exist. It is a kind of malformed event.
var ErrUnknownEntity = fmt.Errorf("%w: unknown entity", event.ErrMalformed)

// ErrDuplicateEntity marks events creating something that already exists.
var ErrDuplicateEntity = fmt.Errorf("%w: duplicate entity", event.ErrMalformed)

func unknown(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUnknownEntity, fmt.Sprintf(format, args...))
}

func duplicate(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrDuplicateEntity, fmt.Sprintf(format, args...))
}

// Stage is one updater in the pipeline
type Stage int32

const (
	StageRegistry Stage = iota
	StageBalances
	StageDistribution
	StageClaims
	StageValuation
	StageBond
	StageCollateral
	StageYield
	StageCompliance
	StageTopicSchemes
	StageTrustedIssuers

	stageCount
)

// Pipeline is the fixed execution order. Later stages read rows earlier
// stages wrote in the same event.
var Pipeline = []Stage{
	StageRegistry,
	StageBalances,
	StageDistribution,
	StageClaims,
	StageValuation,
	StageBond,
	StageCollateral,
	StageYield,
	StageCompliance,
	StageTopicSchemes,
	StageTrustedIssuers,
}

var stageNames = [stageCount]string{
	"registry", "balances", "distribution", "claims", "valuation", "bond",
	"collateral", "yield", "compliance", "topic_schemes", "trusted_issuers",
}

func (s Stage) String() string {
	if s >= 0 && s < stageCount {
		return stageNames[s]
	}
	return "unknown"
}

// StageSet is a bitmask of stages
type StageSet uint32

func Stages(stages ...Stage) StageSet {
	var set StageSet
	for _, s := range stages {
		set |= 1 << uint(s)
	}
	return set
}

func (set StageSet) Has(s Stage) bool {
	return set&(1<<uint(s)) != 0
}

// Context carries one event through the pipeline together with the effects
// each stage leaves for the ones after it.
type Context struct {
	Ctx   context.Context
	Tx    *store.Tx
	Event event.Event

	// Resolved token for token-scoped events
	Token *state.Token

	// Balance changes in Token made by the balances stage
	Changes []ledger.Change

	// Set when the balances stage moved Token's supply
	SupplyChanged bool

	// Tokens whose price input changed in the claims stage
	Repriced []string

	// Tokens whose collateral claim changed in the claims stage
	CollateralTouched []string
}

// Config tunes the aggregator
type Config struct {
	// Holder sets at least this large are revalued on the worker pool
	ParallelThreshold int
	Workers           int
}

func DefaultConfig() Config {
	return Config{ParallelThreshold: 512, Workers: 8}
}

// Aggregator owns the state that lives outside the row store: the holder
// rankings per token and the revaluation worker pool.
type Aggregator struct {
	holders map[string]*Holders
	pool    pond.Pool
	cfg     Config
	logger  zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) *Aggregator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Aggregator{
		holders: make(map[string]*Holders),
		pool:    pond.NewPool(cfg.Workers, pond.WithQueueSize(cfg.Workers*64)),
		cfg:     cfg,
		logger:  logger,
	}
}

// Close stops the worker pool.
func (a *Aggregator) Close() {
	a.pool.StopAndWait()
}

// Run executes a single stage.
func (a *Aggregator) Run(s Stage, c *Context) error {
	switch s {
	case StageRegistry:
		return a.registry(c)
	case StageBalances:
		return a.balances(c)
	case StageDistribution:
		return a.distribution(c)
	case StageClaims:
		return a.claims(c)
	case StageValuation:
		return a.valuation(c)
	case StageBond:
		return a.bond(c)
	case StageCollateral:
		return a.collateral(c)
	case StageYield:
		return a.yield(c)
	case StageCompliance:
		return a.compliance(c)
	case StageTopicSchemes:
		return a.topicSchemes(c)
	case StageTrustedIssuers:
		return a.trustedIssuers(c)
	default:
		return fmt.Errorf("unknown stage %d", s)
	}
}

// Holders returns the ranking of a token, creating it if needed.
func (a *Aggregator) Holders(token string) *Holders {
	hs, ok := a.holders[token]
	if !ok {
		hs = NewHolders()
		a.holders[token] = hs
	}
	return hs
}

// NonZeroHolders returns the number of ranked holders of a token.
func (a *Aggregator) NonZeroHolders(token string) int64 {
	if hs, ok := a.holders[token]; ok {
		return hs.Len()
	}
	return 0
}

// Rebuild recreates the holder rankings from balance rows after a restore.
func (a *Aggregator) Rebuild(s *store.Store) {
	a.holders = make(map[string]*Holders)
	s.Each(state.KindBalance, func(row state.Row) bool {
		b := row.(*state.Balance)
		if b.Value.Sign() > 0 {
			a.Holders(b.Token).set(b.Account, b.Value.Exact(), b.FirstSeenSeq)
		}
		return true
	})
}

// ResolveToken loads the token a token-scoped event references.
func ResolveToken(tx *store.Tx, address string) (*state.Token, error) {
	row, ok := tx.Get(state.KindToken, address)
	if !ok {
		return nil, unknown("token %s", address)
	}
	return row.(*state.Token), nil
}

// ResolveSchedule loads the yield schedule a schedule-scoped event references.
func ResolveSchedule(tx *store.Tx, address string) (*state.YieldSchedule, error) {
	row, ok := tx.Get(state.KindYieldSchedule, address)
	if !ok {
		return nil, unknown("yield schedule %s", address)
	}
	return row.(*state.YieldSchedule), nil
}

// IsMalformed reports whether err rejects the event itself rather than
// signalling a processing failure.
func IsMalformed(err error) bool {
	return errors.Is(err, event.ErrMalformed)
}

func zeroValue() fpmath.ScaledDecimal {
	return fpmath.Zero(fpmath.ValueDecimals)
}
