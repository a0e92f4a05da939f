package aggregate

import (
	"LedgerStats/internal/event"
	fpmath "LedgerStats/internal/math"
	"LedgerStats/internal/state"
	"LedgerStats/internal/store"
)

// claims maintains per-identity claim counters and the price and collateral
// inputs derived from claims whose subject is a token.
func (a *Aggregator) claims(c *Context) error {
	tx := c.Tx
	switch e := c.Event.(type) {
	case *event.ClaimAdded:
		key := state.ClaimKey(e.Subject, e.ClaimID)
		if _, ok := tx.Get(state.KindClaim, key); ok {
			return duplicate("claim %s on %s", e.ClaimID, e.Subject)
		}
		cl := claimFromData(e.ClaimData)
		tx.Put(cl)

		cs := claimsStats(tx, e.Subject)
		cs.Issued++
		cs.Active++
		tx.Put(cs)

		a.claimBecameCurrent(c, cl)

	case *event.ClaimChanged:
		prev, err := liveClaim(tx, e.Subject, e.ClaimID)
		if err != nil {
			return err
		}
		cl := claimFromData(e.ClaimData)
		tx.Put(cl)

		cs := claimsStats(tx, e.Subject)
		cs.Changed++
		tx.Put(cs)

		if prev.Topic != cl.Topic {
			a.claimLeftCurrent(c, prev)
		}
		a.claimBecameCurrent(c, cl)

	case *event.ClaimRemoved:
		row, ok := tx.Get(state.KindClaim, state.ClaimKey(e.Subject, e.ClaimID))
		if !ok {
			return unknown("claim %s on %s", e.ClaimID, e.Subject)
		}
		cl := row.(*state.Claim)
		tx.Delete(state.KindClaim, cl.Key())

		// A revoked claim already left the active count
		if !cl.Revoked {
			cs := claimsStats(tx, e.Subject)
			cs.Removed++
			cs.Active--
			tx.Put(cs)
			a.claimLeftCurrent(c, cl)
		}

	case *event.ClaimRevoked:
		cl, err := liveClaim(tx, e.Subject, e.ClaimID)
		if err != nil {
			return err
		}
		cl.Revoked = true
		tx.Put(cl)

		cs := claimsStats(tx, e.Subject)
		cs.Revoked++
		cs.Active--
		tx.Put(cs)

		a.claimLeftCurrent(c, cl)
	}
	return nil
}

func claimsStats(tx *store.Tx, identity string) *state.ClaimsStats {
	if row, ok := tx.Get(state.KindClaimsStats, identity); ok {
		return row.(*state.ClaimsStats)
	}
	return &state.ClaimsStats{Identity: identity}
}

// liveClaim loads a claim that exists and has not been revoked.
func liveClaim(tx *store.Tx, subject, claimID string) (*state.Claim, error) {
	row, ok := tx.Get(state.KindClaim, state.ClaimKey(subject, claimID))
	if !ok {
		return nil, unknown("claim %s on %s", claimID, subject)
	}
	cl := row.(*state.Claim)
	if cl.Revoked {
		return nil, unknown("claim %s on %s is revoked", claimID, subject)
	}
	return cl, nil
}

func claimFromData(d event.ClaimData) *state.Claim {
	cl := &state.Claim{
		Subject:  d.Subject,
		ClaimID:  d.ClaimID,
		Issuer:   d.Issuer,
		Topic:    d.Topic,
		Amount:   fpmath.New(d.Amount, d.Decimals),
		Currency: d.Currency,
	}
	if !d.Expiry.IsZero() {
		cl.ExpiresAt = d.Expiry.UTC()
	}
	return cl
}

// claimBecameCurrent makes the most recent price or collateral claim on a
// subject the one valuation reads.
func (a *Aggregator) claimBecameCurrent(c *Context, cl *state.Claim) {
	tx := c.Tx
	switch cl.Topic {
	case event.TopicBasePrice:
		tx.Put(&state.Price{
			Token:     cl.Subject,
			ClaimID:   cl.ClaimID,
			Issuer:    cl.Issuer,
			Amount:    cl.Amount,
			Currency:  cl.Currency,
			UpdatedAt: tx.Timestamp(),
		})
		c.Repriced = appendUnique(c.Repriced, cl.Subject)
	case event.TopicCollateral:
		tx.Put(&state.CollateralClaim{
			Token:     cl.Subject,
			ClaimID:   cl.ClaimID,
			Amount:    cl.Amount,
			ExpiresAt: cl.ExpiresAt,
		})
		c.CollateralTouched = appendUnique(c.CollateralTouched, cl.Subject)
	}
}

// claimLeftCurrent clears the price or collateral input if cl was the
// claim backing it. No older claim takes its place.
func (a *Aggregator) claimLeftCurrent(c *Context, cl *state.Claim) {
	tx := c.Tx
	switch cl.Topic {
	case event.TopicBasePrice:
		row, ok := tx.Get(state.KindPrice, cl.Subject)
		if ok && row.(*state.Price).ClaimID == cl.ClaimID {
			tx.Delete(state.KindPrice, cl.Subject)
			c.Repriced = appendUnique(c.Repriced, cl.Subject)
		}
	case event.TopicCollateral:
		row, ok := tx.Get(state.KindCollateralClaim, cl.Subject)
		if ok && row.(*state.CollateralClaim).ClaimID == cl.ClaimID {
			tx.Delete(state.KindCollateralClaim, cl.Subject)
			c.CollateralTouched = appendUnique(c.CollateralTouched, cl.Subject)
		}
	}
}
