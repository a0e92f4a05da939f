package aggregate

import (
	"LedgerStats/internal/event"
	fpmath "LedgerStats/internal/math"
	"LedgerStats/internal/state"
	"LedgerStats/internal/store"
)

// bond refreshes bond coverage when a bond's supply moves or when a bond
// contract's reserve of its denomination asset moves.
func (a *Aggregator) bond(c *Context) error {
	if c.Token == nil {
		return nil
	}
	tx := c.Tx
	var bonds []string

	_, created := c.Event.(*event.TokenCreated)
	if c.Token.IsBond() && (created || c.SupplyChanged) {
		bonds = append(bonds, c.Token.Address)
	}
	if row, ok := tx.Get(state.KindDenominationIndex, c.Token.Address); ok {
		idx := row.(*state.DenominationIndex)
		for _, ch := range c.Changes {
			if contains(idx.Bonds, ch.Account) {
				bonds = appendUnique(bonds, ch.Account)
			}
		}
	}

	for _, addr := range bonds {
		if err := refreshBond(tx, addr); err != nil {
			return err
		}
	}
	return nil
}

// refreshBond recomputes required = supply * faceValue in denomination
// units against the bond's own denomination balance. Coverage is not capped.
func refreshBond(tx *store.Tx, address string) error {
	tok, ok := lookupToken(tx, address)
	if !ok || !tok.IsBond() {
		return unknown("bond %s", address)
	}
	denom, ok := lookupToken(tx, tok.Bond.DenominationAsset)
	if !ok {
		return unknown("denomination asset %s", tok.Bond.DenominationAsset)
	}

	available := fpmath.Zero(denom.Decimals)
	if bal, ok := balanceOf(tx, denom.Address, tok.Address); ok {
		available = bal.Value
	}
	required := tokenStats(tx, tok).TotalSupply.Mul(tok.Bond.FaceValue, denom.Decimals)

	putIfChanged(tx, &state.BondStatus{
		Token:                             tok.Address,
		DenominationAsset:                 denom.Address,
		DenominationAssetBalanceAvailable: available,
		DenominationAssetBalanceRequired:  required,
		CoveredPercentage:                 available.Percentage(required, fpmath.PercentUnbounded),
	})
	return nil
}
