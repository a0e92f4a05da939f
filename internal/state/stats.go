package state

import (
	"time"

	"LedgerStats/internal/event"
	fpmath "LedgerStats/internal/math"
)

// AccountStats holds the current totals for one account
type AccountStats struct {
	Account                  string               `json:"account"`
	TotalValueInBaseCurrency fpmath.ScaledDecimal `json:"total_value_in_base_currency"`
	BalancesCount            int64                `json:"balances_count"` // Held balances
	LastUpdatedAt            time.Time            `json:"last_updated_at"`
}

func NewAccountStats(account string) *AccountStats {
	return &AccountStats{
		Account:                  account,
		TotalValueInBaseCurrency: fpmath.Zero(fpmath.ValueDecimals),
	}
}

func (s *AccountStats) Kind() Kind  { return KindAccountStats }
func (s *AccountStats) Key() string { return s.Account }

func (s *AccountStats) Clone() Row {
	c := *s
	return &c
}

// TokenStats holds supply and activity totals for one token
type TokenStats struct {
	Token                    string               `json:"token"`
	Decimals                 uint8                `json:"decimals"`
	TotalSupply              fpmath.ScaledDecimal `json:"total_supply"`
	TotalMinted              fpmath.ScaledDecimal `json:"total_minted"`
	TotalBurned              fpmath.ScaledDecimal `json:"total_burned"`
	TotalTransferred         fpmath.ScaledDecimal `json:"total_transferred"`
	BalancesCount            int64                `json:"balances_count"`
	TotalValueInBaseCurrency fpmath.ScaledDecimal `json:"total_value_in_base_currency"`
	MintEventsCount          int64                `json:"mint_events_count"`
	BurnEventsCount          int64                `json:"burn_events_count"`
	TransferEventsCount      int64                `json:"transfer_events_count"`
	LastUpdatedAt            time.Time            `json:"last_updated_at"`
}

func NewTokenStats(token string, decimals uint8) *TokenStats {
	return &TokenStats{
		Token:                    token,
		Decimals:                 decimals,
		TotalSupply:              fpmath.Zero(decimals),
		TotalMinted:              fpmath.Zero(decimals),
		TotalBurned:              fpmath.Zero(decimals),
		TotalTransferred:         fpmath.Zero(decimals),
		TotalValueInBaseCurrency: fpmath.Zero(fpmath.ValueDecimals),
	}
}

func (s *TokenStats) Kind() Kind  { return KindTokenStats }
func (s *TokenStats) Key() string { return s.Token }

func (s *TokenStats) Clone() Row {
	c := *s
	return &c
}

func TokenTypeKey(system string, category event.TokenCategory) string {
	return system + ":" + category.String()
}

// TokenTypeStats aggregates all tokens of one category within one system
type TokenTypeStats struct {
	System                   string               `json:"system"`
	Category                 string               `json:"category"`
	Count                    int64                `json:"count"`
	TotalValueInBaseCurrency fpmath.ScaledDecimal `json:"total_value_in_base_currency"`
	PercentageOfTotalSupply  fpmath.ScaledDecimal `json:"percentage_of_total_supply"`
}

func NewTokenTypeStats(system string, category event.TokenCategory) *TokenTypeStats {
	return &TokenTypeStats{
		System:                   system,
		Category:                 category.String(),
		TotalValueInBaseCurrency: fpmath.Zero(fpmath.ValueDecimals),
		PercentageOfTotalSupply:  fpmath.Zero(fpmath.PercentDecimals),
	}
}

func (s *TokenTypeStats) Kind() Kind  { return KindTokenTypeStats }
func (s *TokenTypeStats) Key() string { return s.System + ":" + s.Category }

func (s *TokenTypeStats) Clone() Row {
	c := *s
	return &c
}

// SystemStats holds system-wide totals
type SystemStats struct {
	System                   string               `json:"system"`
	TotalValueInBaseCurrency fpmath.ScaledDecimal `json:"total_value_in_base_currency"`
	TokensCount              int64                `json:"tokens_count"`
}

func NewSystemStats(system string) *SystemStats {
	return &SystemStats{
		System:                   system,
		TotalValueInBaseCurrency: fpmath.Zero(fpmath.ValueDecimals),
	}
}

func (s *SystemStats) Kind() Kind  { return KindSystemStats }
func (s *SystemStats) Key() string { return s.System }

func (s *SystemStats) Clone() Row {
	c := *s
	return &c
}

// Distribution bucket upper bounds, in percent of the largest balance.
// Bounds are inclusive: a balance of exactly 40% of the maximum is in bucket 4.
var BucketBounds = [4]int64{2, 10, 20, 40}

var BucketLabels = [5]string{"0-2", "2-10", "10-20", "20-40", "40-100"}

const (
	TopHoldersRanked = 5
	TopHoldersMax    = 6 // Sixth entry only when it ties the fifth
)

type DistributionBucket struct {
	Label        string               `json:"label"`
	HoldersCount int64                `json:"holders_count"`
	Value        fpmath.ScaledDecimal `json:"value"`
}

type TopHolder struct {
	Rank    int                  `json:"rank"`
	Account string               `json:"account"`
	Balance fpmath.ScaledDecimal `json:"balance"`
}

// TokenDistributionStats ranks a token's holders relative to its largest balance
type TokenDistributionStats struct {
	Token                        string                `json:"token"`
	Buckets                      [5]DistributionBucket `json:"buckets"`
	PercentageOwnedByTop5Holders fpmath.ScaledDecimal  `json:"percentage_owned_by_top5_holders"`
	TopHolders                   []TopHolder           `json:"top_holders"`
}

func NewTokenDistributionStats(token string, decimals uint8) *TokenDistributionStats {
	d := &TokenDistributionStats{
		Token:                        token,
		PercentageOwnedByTop5Holders: fpmath.Zero(fpmath.PercentDecimals),
		TopHolders:                   []TopHolder{},
	}
	for i := range d.Buckets {
		d.Buckets[i] = DistributionBucket{Label: BucketLabels[i], Value: fpmath.Zero(decimals)}
	}
	return d
}

func (s *TokenDistributionStats) Kind() Kind  { return KindDistribution }
func (s *TokenDistributionStats) Key() string { return s.Token }

func (s *TokenDistributionStats) Clone() Row {
	c := *s
	c.TopHolders = append([]TopHolder(nil), s.TopHolders...)
	return &c
}
