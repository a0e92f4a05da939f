package aggregate

import (
	"fmt"
	"time"

	"LedgerStats/internal/event"
	"LedgerStats/internal/ledger"
	fpmath "LedgerStats/internal/math"
	"LedgerStats/internal/state"
	"LedgerStats/internal/store"
)

// yield tracks accrual and claims of fixed yield schedules and the coverage
// of unclaimed yield by the schedule's denomination reserve.
func (a *Aggregator) yield(c *Context) error {
	tx := c.Tx
	var schedules []string

	switch e := c.Event.(type) {
	case *event.YieldScheduleSet:
		schedules = append(schedules, e.Schedule)

	case *event.YieldPeriodCompleted:
		sched, err := ResolveSchedule(tx, e.Schedule)
		if err != nil {
			return err
		}
		if err := completePeriod(tx, sched, e); err != nil {
			return err
		}
		schedules = append(schedules, sched.Address)

	case *event.YieldClaimed:
		sched, err := ResolveSchedule(tx, e.Schedule)
		if err != nil {
			return err
		}
		amount := fpmath.New(e.Amount, sched.TotalYield.Decimals())
		claimed := sched.ClaimedYield.Add(amount)
		if claimed.Cmp(sched.TotalYield) > 0 {
			return fmt.Errorf("%w: schedule %s claims %s of %s accrued",
				ledger.ErrInsufficientBalance, sched.Address, claimed.ExactString(), sched.TotalYield.ExactString())
		}
		sched.ClaimedYield = claimed
		tx.Put(sched)
		schedules = append(schedules, sched.Address)
	}

	if c.Token != nil {
		// Reserve movements in a denomination asset
		if row, ok := tx.Get(state.KindDenominationIndex, c.Token.Address); ok {
			idx := row.(*state.DenominationIndex)
			for _, ch := range c.Changes {
				if contains(idx.Schedules, ch.Account) {
					schedules = appendUnique(schedules, ch.Account)
				}
			}
		}
		// Running state of the token's own schedule
		if tok, ok := lookupToken(tx, c.Token.Address); ok && tok.YieldSchedule != "" {
			schedules = appendUnique(schedules, tok.YieldSchedule)
		}
	}

	for _, addr := range schedules {
		if err := refreshYield(tx, addr, tx.Timestamp()); err != nil {
			return err
		}
	}
	return nil
}

// completePeriod accrues one period. Periods complete strictly in order;
// an event without an amount derives it from supply and rate.
func completePeriod(tx *store.Tx, sched *state.YieldSchedule, e *event.YieldPeriodCompleted) error {
	if e.Period != sched.CompletedPeriods+1 {
		return fmt.Errorf("%w: schedule %s completes period %d after %d",
			event.ErrMalformed, sched.Address, e.Period, sched.CompletedPeriods)
	}
	if total := fpmath.TotalPeriods(sched.Start, sched.End, sched.Interval); total > 0 && e.Period > total {
		return fmt.Errorf("%w: schedule %s has only %d periods", event.ErrMalformed, sched.Address, total)
	}

	decimals := sched.TotalYield.Decimals()
	var amount fpmath.ScaledDecimal
	if e.Amount != nil {
		amount = fpmath.New(e.Amount, decimals)
	} else {
		tok, ok := lookupToken(tx, sched.Token)
		if !ok {
			return unknown("token %s of schedule %s", sched.Token, sched.Address)
		}
		basis := fpmath.FromInt64(1, 0)
		if tok.IsBond() && tok.Bond.DenominationAsset == sched.DenominationAsset {
			basis = tok.Bond.FaceValue
		}
		amount = fpmath.PeriodYield(tokenStats(tx, tok).TotalSupply, basis, sched.RateBps, decimals)
	}

	sched.TotalYield = sched.TotalYield.Add(amount)
	sched.CompletedPeriods = e.Period
	tx.Put(sched)
	return nil
}

// refreshYield recomputes the coverage row of a schedule's token. Coverage
// is reserve / unclaimed capped at 100, and zero when nothing is unclaimed.
func refreshYield(tx *store.Tx, address string, at time.Time) error {
	sched, err := ResolveSchedule(tx, address)
	if err != nil {
		return err
	}
	decimals := sched.TotalYield.Decimals()

	reserve := fpmath.Zero(decimals)
	if bal, ok := balanceOf(tx, sched.DenominationAsset, sched.Address); ok {
		reserve = bal.Value
	}
	unclaimed := sched.Unclaimed()
	coverage := fpmath.Zero(fpmath.PercentDecimals)
	if unclaimed.Sign() > 0 {
		coverage = reserve.Percentage(unclaimed, fpmath.PercentClamped)
	}

	putIfChanged(tx, &state.YieldCoverage{
		Token:                    sched.Token,
		Schedule:                 sched.Address,
		HasYieldSchedule:         true,
		IsRunning:                sched.RunningAt(at),
		CompletedPeriods:         sched.CompletedPeriods,
		TotalPeriods:             fpmath.TotalPeriods(sched.Start, sched.End, sched.Interval),
		TotalYield:               sched.TotalYield,
		ClaimedYield:             sched.ClaimedYield,
		UnclaimedYield:           unclaimed,
		DenominationAssetBalance: reserve,
		YieldCoverage:            coverage,
	})
	return nil
}
