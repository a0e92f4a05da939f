package state

import (
	"time"

	fpmath "LedgerStats/internal/math"
)

// Balance is one holder's position in one token
type Balance struct {
	Account       string               `json:"account"`
	Token         string               `json:"token"`
	Value         fpmath.ScaledDecimal `json:"value"`
	IsFrozen      bool                 `json:"is_frozen"`
	Retained      bool                 `json:"retained,omitempty"` // Held before it dropped to zero while frozen
	FrozenAmount  fpmath.ScaledDecimal `json:"frozen_amount"`
	FirstSeenSeq  int64                `json:"first_seen_seq"` // Tie-break for equal balances
	LastUpdatedAt time.Time            `json:"last_updated_at"`
}

func BalanceKey(account, token string) string {
	return account + ":" + token
}

func (b *Balance) Kind() Kind  { return KindBalance }
func (b *Balance) Key() string { return BalanceKey(b.Account, b.Token) }

func (b *Balance) Clone() Row {
	c := *b
	return &c
}

// Held reports whether the balance counts toward holder counts.
// A frozen balance stays held at zero only if it was held when it got there.
func (b *Balance) Held() bool {
	return b.Value.Sign() > 0 || (b.IsFrozen && b.Retained)
}

// Removable reports whether the row can be garbage collected. Rows that
// still carry the address freeze flag are kept.
func (b *Balance) Removable() bool {
	return !b.Held() && !b.IsFrozen && b.FrozenAmount.IsZero()
}

// Unfrozen returns the spendable part of the balance.
func (b *Balance) Unfrozen() fpmath.ScaledDecimal {
	return b.Value.Sub(b.FrozenAmount)
}
