package aggregate

import (
	"time"

	fpmath "LedgerStats/internal/math"
	"LedgerStats/internal/state"
	"LedgerStats/internal/store"
)

// collateral refreshes collateral stats for tokens whose claim changed and
// for the event's token, which also picks up claims that expired since the
// last refresh.
func (a *Aggregator) collateral(c *Context) error {
	tx := c.Tx
	targets := append([]string(nil), c.CollateralTouched...)
	if c.Token != nil {
		_, hasClaim := tx.Get(state.KindCollateralClaim, c.Token.Address)
		_, hasStats := tx.Get(state.KindCollateral, c.Token.Address)
		if hasClaim || hasStats {
			targets = appendUnique(targets, c.Token.Address)
		}
	}
	for _, addr := range targets {
		refreshCollateral(tx, addr, tx.Timestamp())
	}
	return nil
}

// refreshCollateral sets used = supply, available = max(collateral - used, 0)
// and ratio = used / collateral capped at 100. Without a live claim every
// field is nil.
func refreshCollateral(tx *store.Tx, address string, at time.Time) {
	tok, ok := lookupToken(tx, address)
	if !ok {
		return
	}
	cs := &state.CollateralStats{Token: address}

	row, ok := tx.Get(state.KindCollateralClaim, address)
	if ok && !row.(*state.CollateralClaim).ExpiredAt(at) {
		claim := row.(*state.CollateralClaim)
		collateral := claim.Amount.Rescale(tok.Decimals)
		used := tokenStats(tx, tok).TotalSupply
		available := fpmath.Max(collateral.Sub(used), fpmath.Zero(tok.Decimals))
		ratio := used.Percentage(collateral, fpmath.PercentClamped)

		cs.Collateral = &collateral
		cs.CollateralUsed = &used
		cs.CollateralAvailable = &available
		cs.CollateralRatio = &ratio
		if !claim.ExpiresAt.IsZero() {
			exp := claim.ExpiresAt
			cs.ExpiresAt = &exp
		}
	}
	putIfChanged(tx, cs)
}
