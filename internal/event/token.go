package event

import (
	"fmt"
	"math/big"
	"time"
)

// TokenCategory is the closed set of token kinds a system can hold.
type TokenCategory int32

const (
	CategoryUnknown TokenCategory = iota
	CategoryDeposit
	CategoryBond
	CategoryEquity
	CategoryFund
	CategoryStablecoin
	CategoryCryptocurrency

	categoryCount
)

// AllCategories lists every known category, excluding Unknown.
func AllCategories() []TokenCategory {
	cats := make([]TokenCategory, 0, categoryCount-1)
	for c := CategoryUnknown + 1; c < categoryCount; c++ {
		cats = append(cats, c)
	}
	return cats
}

func (c TokenCategory) String() string {
	switch c {
	case CategoryDeposit:
		return "deposit"
	case CategoryBond:
		return "bond"
	case CategoryEquity:
		return "equity"
	case CategoryFund:
		return "fund"
	case CategoryStablecoin:
		return "stablecoin"
	case CategoryCryptocurrency:
		return "cryptocurrency"
	default:
		return "unknown"
	}
}

func ParseCategory(s string) (TokenCategory, error) {
	for _, c := range AllCategories() {
		if c.String() == s {
			return c, nil
		}
	}
	return CategoryUnknown, fmt.Errorf("unknown token category: %s", s)
}

// BondTerms describe how a bond is valued and covered.
type BondTerms struct {
	// Face value per whole bond, in base units of the denomination asset
	FaceValue         *big.Int
	DenominationAsset string
	Maturity          time.Time
}

// TokenCreated registers a token with its system.
type TokenCreated struct {
	Header
	Token    string
	System   string
	Category TokenCategory
	Decimals uint8
	Name     string
	Symbol   string
	Bond     *BondTerms // Required for bonds, nil otherwise
}

func (e *TokenCreated) EventType() EventType {
	return EventTypeTokenCreated
}

func (e *TokenCreated) Validate() error {
	if err := e.Header.validate(); err != nil {
		return err
	}
	if err := requireAddress("token", e.Token); err != nil {
		return err
	}
	if err := requireAddress("system", e.System); err != nil {
		return err
	}
	if e.Category <= CategoryUnknown || e.Category >= categoryCount {
		return malformed("unknown category %d", e.Category)
	}
	if e.Decimals > 36 {
		return malformed("decimals %d out of range", e.Decimals)
	}
	if e.Category == CategoryBond {
		if e.Bond == nil {
			return malformed("bond %s has no bond terms", e.Token)
		}
		if err := requireAddress("denomination_asset", e.Bond.DenominationAsset); err != nil {
			return err
		}
		if e.Bond.DenominationAsset == e.Token {
			return malformed("bond %s cannot be denominated in itself", e.Token)
		}
		if err := requireAmount("face_value", e.Bond.FaceValue); err != nil {
			return err
		}
	} else if e.Bond != nil {
		return malformed("%s token %s carries bond terms", e.Category, e.Token)
	}
	return nil
}

// Transfer moves tokens between two holders.
type Transfer struct {
	Header
	Token  string
	From   string
	To     string
	Amount *big.Int
}

func (e *Transfer) EventType() EventType {
	return EventTypeTransfer
}

func (e *Transfer) TokenAddress() string {
	return e.Token
}

func (e *Transfer) Validate() error {
	if err := e.Header.validate(); err != nil {
		return err
	}
	if err := requireAddress("token", e.Token); err != nil {
		return err
	}
	if err := requireAddress("from", e.From); err != nil {
		return err
	}
	if err := requireAddress("to", e.To); err != nil {
		return err
	}
	return requireAmount("amount", e.Amount)
}

// MintCompleted creates new supply for a holder.
type MintCompleted struct {
	Header
	Token  string
	To     string
	Amount *big.Int
}

func (e *MintCompleted) EventType() EventType {
	return EventTypeMintCompleted
}

func (e *MintCompleted) TokenAddress() string {
	return e.Token
}

func (e *MintCompleted) Validate() error {
	if err := e.Header.validate(); err != nil {
		return err
	}
	if err := requireAddress("token", e.Token); err != nil {
		return err
	}
	if err := requireAddress("to", e.To); err != nil {
		return err
	}
	return requireAmount("amount", e.Amount)
}

// BurnCompleted destroys supply held by a holder.
type BurnCompleted struct {
	Header
	Token  string
	From   string
	Amount *big.Int
}

func (e *BurnCompleted) EventType() EventType {
	return EventTypeBurnCompleted
}

func (e *BurnCompleted) TokenAddress() string {
	return e.Token
}

func (e *BurnCompleted) Validate() error {
	if err := e.Header.validate(); err != nil {
		return err
	}
	if err := requireAddress("token", e.Token); err != nil {
		return err
	}
	if err := requireAddress("from", e.From); err != nil {
		return err
	}
	return requireAmount("amount", e.Amount)
}
