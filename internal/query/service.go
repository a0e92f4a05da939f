package query

import (
	"encoding/hex"
	"errors"
	"fmt"

	"LedgerStats/internal/event"
	"LedgerStats/internal/projection"
	"LedgerStats/internal/state"
)

var (
	// ErrNotFound means the entity has no row yet.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument marks a request the service cannot interpret.
	ErrInvalidArgument = errors.New("invalid argument")
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

// Service answers read-only queries from the projection view. Every
// response carries the sequence and state hash it was read at.
type Service struct {
	view *projection.View
}

func NewService(view *projection.View) *Service {
	return &Service{view: view}
}

func (s *Service) meta() Meta {
	hash := s.view.StateHash()
	return Meta{
		AsOfSequence: s.view.Sequence(),
		StateHash:    hex.EncodeToString(hash[:]),
		LedgerTime:   s.view.LedgerTime(),
	}
}

func get[T state.Row](s *Service, kind state.Kind, key string) (T, error) {
	var zero T
	row, ok := s.view.Get(kind, key)
	if !ok {
		return zero, fmt.Errorf("%s %s: %w", kind, key, ErrNotFound)
	}
	typed, ok := row.(T)
	if !ok {
		return zero, fmt.Errorf("%s %s: unexpected row type %T", kind, key, row)
	}
	return typed, nil
}

func list[T state.Row](s *Service, kind state.Kind, keep func(T) bool) []T {
	rows := s.view.List(kind, func(r state.Row) bool {
		typed, ok := r.(T)
		return ok && (keep == nil || keep(typed))
	})
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.(T))
	}
	return out
}

func row[T state.Row](s *Service, kind state.Kind, key string) (*RowResponse[T], error) {
	meta := s.meta()
	data, err := get[T](s, kind, event.NormalizeAddress(key))
	if err != nil {
		return nil, err
	}
	return &RowResponse[T]{Meta: meta, Data: data}, nil
}

// --- Accounts & tokens ---

func (s *Service) Account(address string) (*AccountResponse, error) {
	meta := s.meta()
	address = event.NormalizeAddress(address)
	stats, err := get[*state.AccountStats](s, state.KindAccountStats, address)
	if err != nil {
		return nil, err
	}
	balances := list(s, state.KindBalance, func(b *state.Balance) bool { return b.Account == address })
	return &AccountResponse{Meta: meta, Stats: stats, Balances: balances}, nil
}

func (s *Service) Token(address string) (*TokenResponse, error) {
	meta := s.meta()
	address = event.NormalizeAddress(address)
	tok, err := get[*state.Token](s, state.KindToken, address)
	if err != nil {
		return nil, err
	}
	stats, err := get[*state.TokenStats](s, state.KindTokenStats, address)
	if err != nil {
		return nil, err
	}
	return &TokenResponse{Meta: meta, Token: tok, Stats: stats}, nil
}

func (s *Service) Distribution(token string) (*RowResponse[*state.TokenDistributionStats], error) {
	return row[*state.TokenDistributionStats](s, state.KindDistribution, token)
}

func (s *Service) Bond(token string) (*RowResponse[*state.BondStatus], error) {
	return row[*state.BondStatus](s, state.KindBondStatus, token)
}

func (s *Service) Yield(token string) (*RowResponse[*state.YieldCoverage], error) {
	return row[*state.YieldCoverage](s, state.KindYieldCoverage, token)
}

func (s *Service) Collateral(token string) (*RowResponse[*state.CollateralStats], error) {
	return row[*state.CollateralStats](s, state.KindCollateral, token)
}

func (s *Service) Compliance(token string) (*RowResponse[*state.ComplianceStats], error) {
	return row[*state.ComplianceStats](s, state.KindComplianceStats, token)
}

// --- Systems ---

func (s *Service) System(id string) (*SystemResponse, error) {
	meta := s.meta()
	id = event.NormalizeAddress(id)
	stats, err := get[*state.SystemStats](s, state.KindSystemStats, id)
	if err != nil {
		return nil, err
	}
	resp := &SystemResponse{Meta: meta, Stats: stats, Tokens: []string{}}
	if sys, err := get[*state.System](s, state.KindSystem, id); err == nil {
		resp.Tokens = append(resp.Tokens, sys.Tokens...)
	}
	return resp, nil
}

func (s *Service) TokenTypes(system string) (*ListResponse[*state.TokenTypeStats], error) {
	meta := s.meta()
	system = event.NormalizeAddress(system)
	if _, err := get[*state.SystemStats](s, state.KindSystemStats, system); err != nil {
		return nil, err
	}
	data := list(s, state.KindTokenTypeStats, func(tt *state.TokenTypeStats) bool { return tt.System == system })
	return &ListResponse[*state.TokenTypeStats]{Meta: meta, Data: data}, nil
}

// --- Identities & registries ---

func (s *Service) Claims(identity string) (*RowResponse[*state.ClaimsStats], error) {
	return row[*state.ClaimsStats](s, state.KindClaimsStats, identity)
}

func (s *Service) TopicSchemes(registry string) (*RowResponse[*state.TopicSchemeStats], error) {
	return row[*state.TopicSchemeStats](s, state.KindTopicSchemeStats, registry)
}

func (s *Service) TrustedIssuers(registry string) (*RowResponse[*state.TrustedIssuerStats], error) {
	return row[*state.TrustedIssuerStats](s, state.KindTrustedIssuerStats, registry)
}

// --- History ---

// History returns interval snapshots of one aggregate row. Only snapshotted
// kinds have history.
func (s *Service) History(req HistoryRequest) (*HistoryResponse, error) {
	kind, err := state.ParseKind(req.Kind)
	if err != nil || !kind.Snapshotted() {
		return nil, fmt.Errorf("%w: kind %q has no history", ErrInvalidArgument, req.Kind)
	}
	interval, err := state.ParseInterval(req.Interval)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	r := projection.HistoryRange{From: req.From, To: req.To, Limit: req.Limit}
	switch req.Order {
	case "", "asc":
	case "desc":
		r.Descending = true
	default:
		return nil, fmt.Errorf("%w: order must be asc or desc", ErrInvalidArgument)
	}
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
		return nil, fmt.Errorf("%w: to is before from", ErrInvalidArgument)
	}
	switch {
	case r.Limit < 0:
		return nil, fmt.Errorf("%w: negative limit", ErrInvalidArgument)
	case r.Limit == 0:
		r.Limit = DefaultHistoryLimit
	case r.Limit > MaxHistoryLimit:
		r.Limit = MaxHistoryLimit
	}

	meta := s.meta()
	entity := event.NormalizeAddress(req.EntityID)
	snaps := s.view.History(kind, entity, interval, r)
	points := make([]HistoryPoint, 0, len(snaps))
	for _, snap := range snaps {
		points = append(points, HistoryPoint{
			BucketStart: snap.BucketStart,
			Sequence:    snap.Sequence,
			EventID:     snap.EventID,
			Timestamp:   snap.Timestamp,
			Data:        snap.Row,
		})
	}
	return &HistoryResponse{
		Meta:     meta,
		Kind:     kind.String(),
		EntityID: entity,
		Interval: interval.String(),
		Points:   points,
	}, nil
}

// Status reports row counts per stats kind.
func (s *Service) Status() *StatusResponse {
	resp := &StatusResponse{Meta: s.meta(), Rows: make(map[string]int)}
	for _, k := range state.AllKinds() {
		if k.Snapshotted() {
			resp.Rows[k.String()] = s.view.Count(k)
		}
	}
	return resp
}
