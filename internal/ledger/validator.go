package ledger

import (
	"errors"
	"fmt"

	fpmath "LedgerStats/internal/math"
	"LedgerStats/internal/state"
)

var ErrInvariant = errors.New("invariant violated")

func violation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}

// ValidateTokenSupply checks totalSupply == totalMinted - totalBurned.
func ValidateTokenSupply(ts *state.TokenStats) error {
	want := ts.TotalMinted.Sub(ts.TotalBurned)
	if !ts.TotalSupply.Equal(want) {
		return violation("token %s supply %s != minted %s - burned %s",
			ts.Token, ts.TotalSupply.ExactString(), ts.TotalMinted.ExactString(), ts.TotalBurned.ExactString())
	}
	if ts.TotalSupply.Sign() < 0 {
		return violation("token %s supply is negative", ts.Token)
	}
	return nil
}

// ValidateDistribution checks that the buckets partition the non-zero
// holders and the supply, and that the top-5 percentage matches the ranking.
func ValidateDistribution(d *state.TokenDistributionStats, ts *state.TokenStats, nonZeroHolders int64) error {
	var count int64
	sum := fpmath.Zero(ts.Decimals)
	for _, b := range d.Buckets {
		count += b.HoldersCount
		sum = sum.Add(b.Value)
	}
	if count != nonZeroHolders {
		return violation("token %s buckets hold %d holders, want %d", d.Token, count, nonZeroHolders)
	}
	if !sum.Equal(ts.TotalSupply) {
		return violation("token %s buckets sum to %s, supply is %s",
			d.Token, sum.ExactString(), ts.TotalSupply.ExactString())
	}

	top := fpmath.Zero(ts.Decimals)
	for i, h := range d.TopHolders {
		if h.Rank != i+1 {
			return violation("token %s top holder %d has rank %d", d.Token, i, h.Rank)
		}
		if i < state.TopHoldersRanked {
			top = top.Add(h.Balance)
		}
	}
	pct := top.Percentage(ts.TotalSupply, fpmath.PercentClamped)
	if !pct.Equal(d.PercentageOwnedByTop5Holders) {
		return violation("token %s top-5 percentage %s, ranking gives %s",
			d.Token, d.PercentageOwnedByTop5Holders, pct)
	}
	return nil
}

// ValidateClaims checks active == issued - removed - revoked.
func ValidateClaims(c *state.ClaimsStats) error {
	if c.Active != c.Issued-c.Removed-c.Revoked || c.Active < 0 {
		return violation("identity %s active claims %d != %d - %d - %d",
			c.Identity, c.Active, c.Issued, c.Removed, c.Revoked)
	}
	return nil
}

// ValidateTopicSchemes checks active == registered - removed.
func ValidateTopicSchemes(s *state.TopicSchemeStats) error {
	if s.Active != s.Registered-s.Removed || s.Active < 0 {
		return violation("registry %s active topic schemes %d != %d - %d",
			s.Registry, s.Active, s.Registered, s.Removed)
	}
	return nil
}

// ValidateTrustedIssuers checks active == added - removed.
func ValidateTrustedIssuers(s *state.TrustedIssuerStats) error {
	if s.Active != s.Added-s.Removed || s.Active < 0 {
		return violation("registry %s active trusted issuers %d != %d - %d",
			s.Registry, s.Active, s.Added, s.Removed)
	}
	return nil
}

// ValidateCompliance checks the module list against its counters.
func ValidateCompliance(c *state.ComplianceStats) error {
	if c.ModulesCount != int64(len(c.Modules)) || c.ModulesCount != c.ModulesAdded-c.ModulesRemoved {
		return violation("token %s has %d modules listed, count %d, added %d, removed %d",
			c.Token, len(c.Modules), c.ModulesCount, c.ModulesAdded, c.ModulesRemoved)
	}
	return nil
}

// ValidateYield checks that claims never exceed accrued yield.
func ValidateYield(y *state.YieldSchedule) error {
	if y.Unclaimed().Sign() < 0 {
		return violation("schedule %s claimed %s of %s",
			y.Address, y.ClaimedYield.ExactString(), y.TotalYield.ExactString())
	}
	return nil
}

// ValidateRow dispatches to the check for the row's kind. Rows without
// a local invariant pass.
func ValidateRow(row state.Row) error {
	switch r := row.(type) {
	case *state.TokenStats:
		return ValidateTokenSupply(r)
	case *state.ClaimsStats:
		return ValidateClaims(r)
	case *state.TopicSchemeStats:
		return ValidateTopicSchemes(r)
	case *state.TrustedIssuerStats:
		return ValidateTrustedIssuers(r)
	case *state.ComplianceStats:
		return ValidateCompliance(r)
	case *state.YieldSchedule:
		return ValidateYield(r)
	default:
		return nil
	}
}

// Scanner iterates all rows of a kind.
type Scanner interface {
	Each(kind state.Kind, fn func(state.Row) bool)
	Get(kind state.Kind, key string) (state.Row, bool)
}

// ValidateStore runs every cross-row check over a full store. It is used
// after restores and in tests; per-event checks use ValidateRow.
func ValidateStore(s Scanner) error {
	var err error
	fail := func(e error) bool {
		err = e
		return e == nil
	}

	for _, kind := range state.AllKinds() {
		s.Each(kind, func(row state.Row) bool { return fail(ValidateRow(row)) })
		if err != nil {
			return err
		}
	}

	held := make(map[string]int64)
	tokenHeld := make(map[string]int64)
	nonZero := make(map[string]int64)
	s.Each(state.KindBalance, func(row state.Row) bool {
		b := row.(*state.Balance)
		if b.Value.Sign() < 0 {
			return fail(violation("balance %s is negative", b.Key()))
		}
		if b.Held() {
			held[b.Account]++
			tokenHeld[b.Token]++
		}
		if b.Value.Sign() > 0 {
			nonZero[b.Token]++
		}
		return true
	})
	if err != nil {
		return err
	}

	s.Each(state.KindAccountStats, func(row state.Row) bool {
		a := row.(*state.AccountStats)
		if a.BalancesCount != held[a.Account] {
			return fail(violation("account %s counts %d balances, holds %d", a.Account, a.BalancesCount, held[a.Account]))
		}
		return true
	})
	if err != nil {
		return err
	}

	s.Each(state.KindTokenStats, func(row state.Row) bool {
		ts := row.(*state.TokenStats)
		if ts.BalancesCount != tokenHeld[ts.Token] {
			return fail(violation("token %s counts %d balances, holds %d", ts.Token, ts.BalancesCount, tokenHeld[ts.Token]))
		}
		d, ok := s.Get(state.KindDistribution, ts.Token)
		if !ok {
			return true
		}
		return fail(ValidateDistribution(d.(*state.TokenDistributionStats), ts, nonZero[ts.Token]))
	})
	return err
}
