package ledger

import (
	"fmt"

	"LedgerStats/internal/event"
	fpmath "LedgerStats/internal/math"
)

// MovementType says which side of a movement is outside the holder set.
type MovementType int32

const (
	MovementTransfer MovementType = iota
	MovementMint                  // No sender: supply grows
	MovementBurn                  // No receiver: supply shrinks
)

func (m MovementType) String() string {
	switch m {
	case MovementMint:
		return "mint"
	case MovementBurn:
		return "burn"
	default:
		return "transfer"
	}
}

// Movement is one balanced transfer of a token amount. Mints and burns use
// the token supply as the missing counterparty.
type Movement struct {
	Type   MovementType
	Token  string
	From   string // Empty for mints
	To     string // Empty for burns
	Amount fpmath.ScaledDecimal
}

// Validate ensures the movement names the parties its type needs.
func (m Movement) Validate() error {
	if m.Token == "" {
		return fmt.Errorf("%w: movement has no token", event.ErrMalformed)
	}
	if m.Amount.Sign() < 0 {
		return fmt.Errorf("%w: movement amount must not be negative: %s", event.ErrMalformed, m.Amount.ExactString())
	}
	switch m.Type {
	case MovementMint:
		if m.To == "" || m.From != "" {
			return fmt.Errorf("%w: mint must have a receiver and no sender", event.ErrMalformed)
		}
	case MovementBurn:
		if m.From == "" || m.To != "" {
			return fmt.Errorf("%w: burn must have a sender and no receiver", event.ErrMalformed)
		}
	default:
		if m.From == "" || m.To == "" {
			return fmt.Errorf("%w: transfer must have sender and receiver", event.ErrMalformed)
		}
	}
	return nil
}

// SupplyDelta returns the signed change in total supply.
func (m Movement) SupplyDelta() fpmath.ScaledDecimal {
	switch m.Type {
	case MovementMint:
		return m.Amount
	case MovementBurn:
		return m.Amount.Neg()
	default:
		return fpmath.Zero(m.Amount.Decimals())
	}
}
