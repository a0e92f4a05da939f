package aggregate

import (
	"LedgerStats/internal/event"
	fpmath "LedgerStats/internal/math"
	"LedgerStats/internal/state"
)

func (a *Aggregator) registry(c *Context) error {
	switch e := c.Event.(type) {
	case *event.TokenCreated:
		return a.registerToken(c, e)
	case *event.YieldScheduleSet:
		return a.registerSchedule(c, e)
	}
	return nil
}

func (a *Aggregator) registerToken(c *Context, e *event.TokenCreated) error {
	tx := c.Tx
	if _, ok := lookupToken(tx, e.Token); ok {
		return duplicate("token %s already registered", e.Token)
	}

	tok := &state.Token{
		Address:    e.Token,
		System:     e.System,
		Category:   e.Category,
		Decimals:   e.Decimals,
		Name:       e.Name,
		Symbol:     e.Symbol,
		CreatedSeq: e.Sequence(),
	}
	if e.Bond != nil {
		denom, ok := lookupToken(tx, e.Bond.DenominationAsset)
		if !ok {
			return unknown("denomination asset %s of bond %s", e.Bond.DenominationAsset, e.Token)
		}
		tok.Bond = &state.BondInfo{
			FaceValue:         fpmath.New(e.Bond.FaceValue, denom.Decimals),
			DenominationAsset: denom.Address,
			Maturity:          e.Bond.Maturity.UTC(),
		}
		idx := denominationIndex(tx, denom.Address)
		idx.Bonds = appendUnique(idx.Bonds, tok.Address)
		tx.Put(idx)
	}
	tok.UnitPrice = unitPrice(tx, tok)
	tx.Put(tok)
	c.Token = tok

	sys := systemRow(tx, e.System)
	sys.Tokens = append(sys.Tokens, tok.Address)
	tx.Put(sys)

	ss := systemStats(tx, e.System)
	ss.TokensCount++
	tx.Put(ss)

	tt := tokenTypeStats(tx, e.System, e.Category)
	tt.Count++
	tx.Put(tt)

	ts := state.NewTokenStats(tok.Address, tok.Decimals)
	ts.LastUpdatedAt = c.Tx.Timestamp()
	tx.Put(ts)
	tx.Put(state.NewTokenDistributionStats(tok.Address, tok.Decimals))

	a.logger.Debug().
		Str("token", tok.Address).
		Str("system", tok.System).
		Str("category", tok.Category.String()).
		Msg("token registered")
	return nil
}

func (a *Aggregator) registerSchedule(c *Context, e *event.YieldScheduleSet) error {
	tx := c.Tx
	tok := c.Token
	if tok.YieldSchedule != "" && tok.YieldSchedule != e.Schedule {
		return duplicate("token %s already has yield schedule %s", tok.Address, tok.YieldSchedule)
	}
	denom, ok := lookupToken(tx, e.DenominationAsset)
	if !ok {
		return unknown("denomination asset %s of schedule %s", e.DenominationAsset, e.Schedule)
	}

	sched := &state.YieldSchedule{
		Address:      e.Schedule,
		Token:        tok.Address,
		TotalYield:   fpmath.Zero(denom.Decimals),
		ClaimedYield: fpmath.Zero(denom.Decimals),
	}
	if row, ok := tx.Get(state.KindYieldSchedule, e.Schedule); ok {
		sched = row.(*state.YieldSchedule)
		if sched.Token != tok.Address {
			return duplicate("schedule %s belongs to token %s", e.Schedule, sched.Token)
		}
		if sched.DenominationAsset != e.DenominationAsset {
			old := denominationIndex(tx, sched.DenominationAsset)
			old.Schedules = without(old.Schedules, e.Schedule)
			tx.Put(old)
			sched.TotalYield = sched.TotalYield.Rescale(denom.Decimals)
			sched.ClaimedYield = sched.ClaimedYield.Rescale(denom.Decimals)
		}
	}
	sched.DenominationAsset = e.DenominationAsset
	sched.RateBps = e.RateBps
	sched.Start = e.Start.UTC()
	sched.End = e.End.UTC()
	sched.Interval = e.Interval
	tx.Put(sched)

	idx := denominationIndex(tx, e.DenominationAsset)
	idx.Schedules = appendUnique(idx.Schedules, e.Schedule)
	tx.Put(idx)

	tok.YieldSchedule = e.Schedule
	tx.Put(tok)
	return nil
}

func without(list []string, v string) []string {
	out := list[:0:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
