package event

import "math/big"

// FreezePartialTokens locks part of a holder's balance.
type FreezePartialTokens struct {
	Header
	Token   string
	Account string
	Amount  *big.Int
}

func (e *FreezePartialTokens) EventType() EventType {
	return EventTypeFreezePartialTokens
}

func (e *FreezePartialTokens) TokenAddress() string {
	return e.Token
}

func (e *FreezePartialTokens) Validate() error {
	return validateFreeze(e.Header, e.Token, e.Account, e.Amount)
}

// UnfreezePartialTokens releases part of a holder's frozen balance.
type UnfreezePartialTokens struct {
	Header
	Token   string
	Account string
	Amount  *big.Int
}

func (e *UnfreezePartialTokens) EventType() EventType {
	return EventTypeUnfreezePartialTokens
}

func (e *UnfreezePartialTokens) TokenAddress() string {
	return e.Token
}

func (e *UnfreezePartialTokens) Validate() error {
	return validateFreeze(e.Header, e.Token, e.Account, e.Amount)
}

// AddressFrozen freezes or unfreezes a holder's whole balance.
type AddressFrozen struct {
	Header
	Token   string
	Account string
	Frozen  bool
}

func (e *AddressFrozen) EventType() EventType {
	return EventTypeAddressFrozen
}

func (e *AddressFrozen) TokenAddress() string {
	return e.Token
}

func (e *AddressFrozen) Validate() error {
	if err := e.Header.validate(); err != nil {
		return err
	}
	if err := requireAddress("token", e.Token); err != nil {
		return err
	}
	return requireAddress("account", e.Account)
}

func validateFreeze(h Header, token, account string, amount *big.Int) error {
	if err := h.validate(); err != nil {
		return err
	}
	if err := requireAddress("token", token); err != nil {
		return err
	}
	if err := requireAddress("account", account); err != nil {
		return err
	}
	return requireAmount("amount", amount)
}
