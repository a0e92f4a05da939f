package aggregate

import (
	"LedgerStats/internal/event"
	"LedgerStats/internal/ledger"
	fpmath "LedgerStats/internal/math"
	"LedgerStats/internal/state"
)

// balances applies mints, burns, transfers and freezes to balance rows and
// keeps the token and account running totals in step.
func (a *Aggregator) balances(c *Context) error {
	tx := c.Tx
	tok := c.Token
	at := tx.Timestamp()
	bt := ledger.NewBalanceTracker(tx, tx.Sequence(), at, tok.Decimals)
	ts := tokenStats(tx, tok)

	var (
		changes  []ledger.Change
		touched  []string
		err      error
		movement *ledger.Movement
	)

	switch e := c.Event.(type) {
	case *event.Transfer:
		movement = &ledger.Movement{Type: ledger.MovementTransfer, Token: tok.Address, From: e.From, To: e.To,
			Amount: fpmath.New(e.Amount, tok.Decimals)}
		touched = []string{e.From, e.To}
	case *event.MintCompleted:
		movement = &ledger.Movement{Type: ledger.MovementMint, Token: tok.Address, To: e.To,
			Amount: fpmath.New(e.Amount, tok.Decimals)}
		touched = []string{e.To}
	case *event.BurnCompleted:
		movement = &ledger.Movement{Type: ledger.MovementBurn, Token: tok.Address, From: e.From,
			Amount: fpmath.New(e.Amount, tok.Decimals)}
		touched = []string{e.From}
	case *event.FreezePartialTokens:
		var ch ledger.Change
		if ch, err = bt.Freeze(tok.Address, e.Account, fpmath.New(e.Amount, tok.Decimals)); err != nil {
			return err
		}
		changes = append(changes, ch)
	case *event.UnfreezePartialTokens:
		var ch ledger.Change
		if ch, err = bt.Unfreeze(tok.Address, e.Account, fpmath.New(e.Amount, tok.Decimals)); err != nil {
			return err
		}
		changes = append(changes, ch)
	case *event.AddressFrozen:
		changes = append(changes, bt.SetAddressFrozen(tok.Address, e.Account, e.Frozen))
	default:
		return nil
	}

	if movement != nil {
		if movement.Amount.IsZero() {
			// Zero-amount movements only refresh timestamps
			for _, acct := range touched {
				bt.Touch(tok.Address, acct)
				if row, ok := tx.Get(state.KindAccountStats, acct); ok {
					as := row.(*state.AccountStats)
					as.LastUpdatedAt = at
					tx.Put(as)
				}
			}
			ts.LastUpdatedAt = at
			tx.Put(ts)
			return nil
		}

		if changes, err = bt.Apply(*movement); err != nil {
			return err
		}
		applyMovementTotals(ts, *movement)
		c.SupplyChanged = movement.Type != ledger.MovementTransfer
	}

	for _, ch := range changes {
		ts.BalancesCount += ch.HeldDelta()
	}
	ts.LastUpdatedAt = at
	tx.Put(ts)

	for _, acct := range accountsOf(changes, touched) {
		as := accountStats(tx, acct)
		for _, ch := range changes {
			if ch.Account == acct {
				as.BalancesCount += ch.HeldDelta()
			}
		}
		as.LastUpdatedAt = at
		tx.Put(as)
	}

	c.Changes = changes
	return nil
}

func applyMovementTotals(ts *state.TokenStats, m ledger.Movement) {
	switch m.Type {
	case ledger.MovementMint:
		ts.TotalMinted = ts.TotalMinted.Add(m.Amount)
		ts.MintEventsCount++
	case ledger.MovementBurn:
		ts.TotalBurned = ts.TotalBurned.Add(m.Amount)
		ts.BurnEventsCount++
	default:
		ts.TotalTransferred = ts.TotalTransferred.Add(m.Amount)
		ts.TransferEventsCount++
	}
	ts.TotalSupply = ts.TotalSupply.Add(m.SupplyDelta())
}

// accountsOf lists the distinct accounts in changes and touched, in
// first-appearance order.
func accountsOf(changes []ledger.Change, touched []string) []string {
	var out []string
	for _, ch := range changes {
		out = appendUnique(out, ch.Account)
	}
	for _, acct := range touched {
		out = appendUnique(out, acct)
	}
	return out
}
