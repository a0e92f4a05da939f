package ledger

import (
	"errors"
	"fmt"
	"time"

	fpmath "LedgerStats/internal/math"
	"LedgerStats/internal/state"
)

var ErrInsufficientBalance = errors.New("insufficient balance")

// Rows is the slice of the store transaction the tracker writes through.
type Rows interface {
	Get(kind state.Kind, key string) (state.Row, bool)
	Put(row state.Row)
	Delete(kind state.Kind, key string)
}

// Change describes one balance row before and after a mutation
type Change struct {
	Account    string
	Token      string
	Before     fpmath.ScaledDecimal
	After      fpmath.ScaledDecimal
	HeldBefore bool
	HeldAfter  bool
	FirstSeen  int64 // Sequence that created the current row
}

// Delta returns After - Before.
func (c Change) Delta() fpmath.ScaledDecimal {
	return c.After.Sub(c.Before)
}

// HeldDelta returns the change in held-balance count: -1, 0 or +1.
func (c Change) HeldDelta() int64 {
	switch {
	case c.HeldAfter && !c.HeldBefore:
		return 1
	case c.HeldBefore && !c.HeldAfter:
		return -1
	default:
		return 0
	}
}

// BalanceTracker applies movements and freezes to balance rows
type BalanceTracker struct {
	tx       Rows
	seq      int64
	at       time.Time
	decimals uint8
}

// NewBalanceTracker binds a tracker to one event's transaction for a token
// with the given decimals.
func NewBalanceTracker(tx Rows, seq int64, at time.Time, decimals uint8) *BalanceTracker {
	return &BalanceTracker{tx: tx, seq: seq, at: at, decimals: decimals}
}

// Apply moves the amount and returns the balance changes, sender first.
// A self-transfer leaves the balance untouched and returns no changes.
func (bt *BalanceTracker) Apply(m Movement) ([]Change, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.Type == MovementTransfer && m.From == m.To {
		if err := bt.requireFunds(m.Token, m.From, m.Amount); err != nil {
			return nil, err
		}
		return nil, nil
	}

	var changes []Change
	if m.From != "" {
		c, err := bt.Debit(m.Token, m.From, m.Amount)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	if m.To != "" {
		changes = append(changes, bt.Credit(m.Token, m.To, m.Amount))
	}
	return changes, nil
}

// Credit adds amount to a holder's balance, creating the row if needed.
func (bt *BalanceTracker) Credit(token, account string, amount fpmath.ScaledDecimal) Change {
	bal := bt.load(token, account)
	change := bt.begin(bal)
	bal.Value = bal.Value.Add(amount)
	return bt.finish(bal, change)
}

// Debit removes amount from a holder's balance. Debiting into frozen tokens
// releases the frozen amount that is no longer covered.
func (bt *BalanceTracker) Debit(token, account string, amount fpmath.ScaledDecimal) (Change, error) {
	if err := bt.requireFunds(token, account, amount); err != nil {
		return Change{}, err
	}
	bal := bt.load(token, account)
	change := bt.begin(bal)
	bal.Value = bal.Value.Sub(amount)
	if bal.FrozenAmount.Cmp(bal.Value) > 0 {
		bal.FrozenAmount = bal.Value
	}
	return bt.finish(bal, change), nil
}

// Freeze locks part of a balance without changing its value.
func (bt *BalanceTracker) Freeze(token, account string, amount fpmath.ScaledDecimal) (Change, error) {
	bal := bt.load(token, account)
	frozen := bal.FrozenAmount.Add(amount)
	if frozen.Cmp(bal.Value) > 0 {
		return Change{}, fmt.Errorf("%w: freeze %s of %s/%s leaves %s frozen against %s",
			ErrInsufficientBalance, amount.ExactString(), account, token, frozen.ExactString(), bal.Value.ExactString())
	}
	change := bt.begin(bal)
	bal.FrozenAmount = frozen
	return bt.finish(bal, change), nil
}

// Unfreeze releases part of the frozen amount.
func (bt *BalanceTracker) Unfreeze(token, account string, amount fpmath.ScaledDecimal) (Change, error) {
	bal := bt.load(token, account)
	if amount.Cmp(bal.FrozenAmount) > 0 {
		return Change{}, fmt.Errorf("%w: unfreeze %s of %s/%s with only %s frozen",
			ErrInsufficientBalance, amount.ExactString(), account, token, bal.FrozenAmount.ExactString())
	}
	change := bt.begin(bal)
	bal.FrozenAmount = bal.FrozenAmount.Sub(amount)
	return bt.finish(bal, change), nil
}

// SetAddressFrozen flags the whole balance. Flagging an address that holds
// nothing keeps the row without counting it as held. A held balance that
// drains to zero while flagged stays held until it is unflagged.
func (bt *BalanceTracker) SetAddressFrozen(token, account string, frozen bool) Change {
	bal := bt.load(token, account)
	change := bt.begin(bal)
	bal.IsFrozen = frozen
	return bt.finish(bal, change)
}

// Touch refreshes LastUpdatedAt of an existing balance. Missing rows are
// not created.
func (bt *BalanceTracker) Touch(token, account string) {
	row, ok := bt.tx.Get(state.KindBalance, state.BalanceKey(account, token))
	if !ok {
		return
	}
	bal := row.(*state.Balance)
	bal.LastUpdatedAt = bt.at
	bt.tx.Put(bal)
}

// Balance returns the holder's current value, zero if no row exists.
func (bt *BalanceTracker) Balance(token, account string) fpmath.ScaledDecimal {
	return bt.load(token, account).Value
}

func (bt *BalanceTracker) requireFunds(token, account string, amount fpmath.ScaledDecimal) error {
	have := bt.load(token, account).Value
	if amount.Cmp(have) > 0 {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s",
			ErrInsufficientBalance, account, have.ExactString(), token, amount.ExactString())
	}
	return nil
}

func (bt *BalanceTracker) load(token, account string) *state.Balance {
	row, ok := bt.tx.Get(state.KindBalance, state.BalanceKey(account, token))
	if ok {
		return row.(*state.Balance)
	}
	return &state.Balance{
		Account:      account,
		Token:        token,
		Value:        fpmath.Zero(bt.decimals),
		FrozenAmount: fpmath.Zero(bt.decimals),
		FirstSeenSeq: bt.seq,
	}
}

func (bt *BalanceTracker) begin(bal *state.Balance) Change {
	return Change{
		Account:    bal.Account,
		Token:      bal.Token,
		Before:     bal.Value,
		HeldBefore: bal.Held(),
	}
}

func (bt *BalanceTracker) finish(bal *state.Balance, c Change) Change {
	bal.LastUpdatedAt = bt.at
	bal.Retained = bal.IsFrozen && (c.HeldBefore || bal.Value.Sign() > 0)
	c.After = bal.Value
	c.HeldAfter = bal.Held()
	c.FirstSeen = bal.FirstSeenSeq

	if bal.Removable() {
		bt.tx.Delete(state.KindBalance, bal.Key())
	} else {
		bt.tx.Put(bal)
	}
	return c
}
