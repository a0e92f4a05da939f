package aggregate

import (
	"context"
	"errors"
	"fmt"

	"LedgerStats/internal/event"
	fpmath "LedgerStats/internal/math"
	"LedgerStats/internal/state"
	"LedgerStats/internal/store"

	"github.com/alitto/pond/v2"
)

// unitPrice is the base-currency price of one whole token. Bonds are priced
// through their denomination asset times face value; their own price
// claims are ignored. A missing price is zero.
func unitPrice(tx *store.Tx, tok *state.Token) fpmath.ScaledDecimal {
	if tok.IsBond() {
		row, ok := tx.Get(state.KindPrice, tok.Bond.DenominationAsset)
		if !ok {
			return zeroValue()
		}
		return row.(*state.Price).Amount.Mul(tok.Bond.FaceValue, fpmath.ValueDecimals)
	}
	row, ok := tx.Get(state.KindPrice, tok.Address)
	if !ok {
		return zeroValue()
	}
	return row.(*state.Price).Amount.Rescale(fpmath.ValueDecimals)
}

// contribution is a balance's value at a unit price.
func contribution(balance, price fpmath.ScaledDecimal) fpmath.ScaledDecimal {
	return balance.Mul(price, fpmath.ValueDecimals)
}

// valuation moves account, token, token-type and system values after price
// inputs or balances change.
func (a *Aggregator) valuation(c *Context) error {
	tx := c.Tx
	for _, subject := range c.Repriced {
		var targets []string
		if tok, ok := lookupToken(tx, subject); ok && !tok.IsBond() {
			targets = append(targets, subject)
		}
		if row, ok := tx.Get(state.KindDenominationIndex, subject); ok {
			targets = append(targets, row.(*state.DenominationIndex).Bonds...)
		}
		for _, addr := range targets {
			if err := a.reprice(c, addr); err != nil {
				return err
			}
		}
	}

	if c.Token == nil || (len(c.Changes) == 0 && !c.SupplyChanged) {
		return nil
	}
	tok, ok := lookupToken(tx, c.Token.Address)
	if !ok {
		return unknown("token %s", c.Token.Address)
	}
	for _, ch := range c.Changes {
		if ch.Before.Equal(ch.After) {
			continue
		}
		delta := contribution(ch.After, tok.UnitPrice).Sub(contribution(ch.Before, tok.UnitPrice))
		addAccountValue(tx, ch.Account, delta)
	}
	retotal(tx, tok)
	return nil
}

// reprice revalues every holder of a token at its current unit price.
func (a *Aggregator) reprice(c *Context, address string) error {
	tx := c.Tx
	tok, ok := lookupToken(tx, address)
	if !ok {
		return nil
	}
	newPrice := unitPrice(tx, tok)
	oldPrice := tok.UnitPrice
	if newPrice.Equal(oldPrice) {
		return nil
	}

	holders := a.Holders(address).Snapshot()
	deltas, err := a.holderDeltas(c.Ctx, holders, tok.Decimals, oldPrice, newPrice)
	if err != nil {
		return err
	}
	for i, h := range holders {
		addAccountValue(tx, h.Account, deltas[i])
	}

	tok.UnitPrice = newPrice
	tx.Put(tok)
	retotal(tx, tok)

	a.logger.Debug().
		Str("token", address).
		Str("old_price", oldPrice.String()).
		Str("new_price", newPrice.String()).
		Int("holders", len(holders)).
		Msg("token repriced")
	return nil
}

// holderDeltas computes each holder's value change. Large holder sets are
// split across the worker pool; results are indexed so the caller applies
// them in rank order.
func (a *Aggregator) holderDeltas(ctx context.Context, holders []Holder, decimals uint8, oldPrice, newPrice fpmath.ScaledDecimal) ([]fpmath.ScaledDecimal, error) {
	deltas := make([]fpmath.ScaledDecimal, len(holders))
	compute := func(i int) {
		bal := fpmath.New(holders[i].Balance, decimals)
		deltas[i] = contribution(bal, newPrice).Sub(contribution(bal, oldPrice))
	}

	if len(holders) < a.cfg.ParallelThreshold {
		for i := range holders {
			compute(i)
		}
		return deltas, nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	group := a.pool.NewGroupContext(ctx)
	chunk := (len(holders) + a.cfg.Workers - 1) / a.cfg.Workers
	for start := 0; start < len(holders); start += chunk {
		from, to := start, start+chunk
		if to > len(holders) {
			to = len(holders)
		}
		group.Submit(func() {
			for i := from; i < to; i++ {
				compute(i)
			}
		})
	}
	if err := group.Wait(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, pond.ErrGroupStopped) {
			return nil, fmt.Errorf("revaluation interrupted: %w", err)
		}
		return nil, fmt.Errorf("revalue holders: %w", err)
	}
	return deltas, nil
}

func addAccountValue(tx *store.Tx, account string, delta fpmath.ScaledDecimal) {
	if delta.IsZero() {
		return
	}
	as := accountStats(tx, account)
	as.TotalValueInBaseCurrency = as.TotalValueInBaseCurrency.Add(delta)
	tx.Put(as)
}

// retotal recomputes a token's value from its supply and pushes the
// difference into its system and category totals.
func retotal(tx *store.Tx, tok *state.Token) {
	ts := tokenStats(tx, tok)
	value := contribution(ts.TotalSupply, tok.UnitPrice)
	delta := value.Sub(ts.TotalValueInBaseCurrency)
	if delta.IsZero() {
		return
	}
	ts.TotalValueInBaseCurrency = value
	tx.Put(ts)

	ss := systemStats(tx, tok.System)
	ss.TotalValueInBaseCurrency = ss.TotalValueInBaseCurrency.Add(delta)
	tx.Put(ss)

	tt := tokenTypeStats(tx, tok.System, tok.Category)
	tt.TotalValueInBaseCurrency = tt.TotalValueInBaseCurrency.Add(delta)
	tx.Put(tt)

	recomputeShares(tx, ss)
}

// recomputeShares sets each category's share of its system's total value.
func recomputeShares(tx *store.Tx, ss *state.SystemStats) {
	for _, cat := range event.AllCategories() {
		row, ok := tx.Get(state.KindTokenTypeStats, state.TokenTypeKey(ss.System, cat))
		if !ok {
			continue
		}
		tt := row.(*state.TokenTypeStats)
		pct := tt.TotalValueInBaseCurrency.Percentage(ss.TotalValueInBaseCurrency, fpmath.PercentClamped)
		if pct.Equal(tt.PercentageOfTotalSupply) {
			continue
		}
		tt.PercentageOfTotalSupply = pct
		tx.Put(tt)
	}
}
