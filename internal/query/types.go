package query

import (
	"time"

	"LedgerStats/internal/state"
)

// Meta tells a reader how fresh a response is.
type Meta struct {
	AsOfSequence int64     `json:"as_of_sequence"`
	StateHash    string    `json:"state_hash"`
	LedgerTime   time.Time `json:"ledger_time"`
}

// RowResponse wraps a single aggregate row.
type RowResponse[T state.Row] struct {
	Meta
	Data T `json:"data"`
}

// ListResponse wraps a set of rows of one kind.
type ListResponse[T state.Row] struct {
	Meta
	Data []T `json:"data"`
}

// AccountResponse is an account's totals plus every balance it holds.
type AccountResponse struct {
	Meta
	Stats    *state.AccountStats `json:"stats"`
	Balances []*state.Balance    `json:"balances"`
}

// TokenResponse is a token's totals with its registration details.
type TokenResponse struct {
	Meta
	Token *state.Token      `json:"token"`
	Stats *state.TokenStats `json:"stats"`
}

// SystemResponse is a system's totals with its tokens in registration order.
type SystemResponse struct {
	Meta
	Stats  *state.SystemStats `json:"stats"`
	Tokens []string           `json:"tokens"`
}

// HistoryPoint is one interval snapshot.
type HistoryPoint struct {
	BucketStart time.Time `json:"bucket_start"`
	Sequence    int64     `json:"sequence"`
	EventID     string    `json:"event_id"`
	Timestamp   time.Time `json:"timestamp"`
	Data        state.Row `json:"data"`
}

type HistoryResponse struct {
	Meta
	Kind     string         `json:"kind"`
	EntityID string         `json:"entity_id"`
	Interval string         `json:"interval"`
	Points   []HistoryPoint `json:"points"`
}

// HistoryRequest selects an entity's snapshots. Zero times are open bounds.
type HistoryRequest struct {
	Kind     string
	EntityID string
	Interval string
	Order    string
	From     time.Time
	To       time.Time
	Limit    int
}

// StatusResponse summarizes the view.
type StatusResponse struct {
	Meta
	Rows map[string]int `json:"rows"`
}
