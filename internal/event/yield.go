package event

import (
	"math/big"
	"time"
)

// YieldScheduleSet attaches a fixed yield schedule to a token.
type YieldScheduleSet struct {
	Header
	Token             string
	Schedule          string
	DenominationAsset string
	RateBps           int64
	Start             time.Time
	End               time.Time
	Interval          time.Duration
}

func (e *YieldScheduleSet) EventType() EventType {
	return EventTypeYieldScheduleSet
}

func (e *YieldScheduleSet) TokenAddress() string {
	return e.Token
}

func (e *YieldScheduleSet) Validate() error {
	if err := e.Header.validate(); err != nil {
		return err
	}
	if err := requireAddress("token", e.Token); err != nil {
		return err
	}
	if err := requireAddress("schedule", e.Schedule); err != nil {
		return err
	}
	if err := requireAddress("denomination_asset", e.DenominationAsset); err != nil {
		return err
	}
	if e.RateBps < 0 {
		return malformed("rate must not be negative, got %d", e.RateBps)
	}
	if e.Interval <= 0 {
		return malformed("interval must be positive")
	}
	if e.Start.IsZero() || !e.End.After(e.Start) {
		return malformed("schedule end must be after start")
	}
	return nil
}

// YieldPeriodCompleted marks the end of one yield period.
type YieldPeriodCompleted struct {
	Header
	Schedule string
	Period   int64    // 1-based period number
	Amount   *big.Int // Yield accrued in the period; nil derives it from supply and rate
}

func (e *YieldPeriodCompleted) EventType() EventType {
	return EventTypeYieldPeriodCompleted
}

func (e *YieldPeriodCompleted) ScheduleAddress() string {
	return e.Schedule
}

func (e *YieldPeriodCompleted) Validate() error {
	if err := e.Header.validate(); err != nil {
		return err
	}
	if err := requireAddress("schedule", e.Schedule); err != nil {
		return err
	}
	if e.Period <= 0 {
		return malformed("period must be positive, got %d", e.Period)
	}
	if e.Amount != nil && e.Amount.Sign() < 0 {
		return malformed("amount must not be negative")
	}
	return nil
}

// YieldClaimed records a holder withdrawing accrued yield.
type YieldClaimed struct {
	Header
	Schedule string
	Holder   string
	Amount   *big.Int
}

func (e *YieldClaimed) EventType() EventType {
	return EventTypeYieldClaimed
}

func (e *YieldClaimed) ScheduleAddress() string {
	return e.Schedule
}

func (e *YieldClaimed) Validate() error {
	if err := e.Header.validate(); err != nil {
		return err
	}
	if err := requireAddress("schedule", e.Schedule); err != nil {
		return err
	}
	if err := requireAddress("holder", e.Holder); err != nil {
		return err
	}
	return requireAmount("amount", e.Amount)
}
