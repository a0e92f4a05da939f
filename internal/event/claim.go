package event

import (
	"fmt"
	"math/big"
	"time"
)

// ClaimTopic classifies identity claims by what they attest.
type ClaimTopic int32

const (
	TopicOther ClaimTopic = iota
	TopicBasePrice
	TopicCollateral
)

func (t ClaimTopic) String() string {
	switch t {
	case TopicBasePrice:
		return "basePrice"
	case TopicCollateral:
		return "collateral"
	default:
		return "other"
	}
}

func ParseClaimTopic(s string) (ClaimTopic, error) {
	switch s {
	case "basePrice":
		return TopicBasePrice, nil
	case "collateral":
		return TopicCollateral, nil
	case "other", "":
		return TopicOther, nil
	default:
		return TopicOther, fmt.Errorf("unknown claim topic: %s", s)
	}
}

// ClaimData is the attested content of a claim.
type ClaimData struct {
	Subject  string // Identity the claim is about; token address for price and collateral claims
	ClaimID  string
	Issuer   string
	Topic    ClaimTopic
	Amount   *big.Int // Price or collateral amount, nil for other topics
	Decimals uint8
	Currency string
	Expiry   time.Time // Zero means no expiry
}

func (c ClaimData) validate() error {
	if err := requireAddress("subject", c.Subject); err != nil {
		return err
	}
	if c.ClaimID == "" {
		return malformed("claim id is required")
	}
	if err := requireAddress("issuer", c.Issuer); err != nil {
		return err
	}
	if c.Topic == TopicBasePrice || c.Topic == TopicCollateral {
		if err := requireAmount("amount", c.Amount); err != nil {
			return err
		}
	}
	if c.Decimals > 36 {
		return malformed("decimals %d out of range", c.Decimals)
	}
	return nil
}

// ClaimAdded issues a new claim to an identity.
type ClaimAdded struct {
	Header
	ClaimData
}

func (e *ClaimAdded) EventType() EventType {
	return EventTypeClaimAdded
}

func (e *ClaimAdded) Validate() error {
	if err := e.Header.validate(); err != nil {
		return err
	}
	return e.ClaimData.validate()
}

// ClaimChanged replaces the content of an existing claim.
type ClaimChanged struct {
	Header
	ClaimData
}

func (e *ClaimChanged) EventType() EventType {
	return EventTypeClaimChanged
}

func (e *ClaimChanged) Validate() error {
	if err := e.Header.validate(); err != nil {
		return err
	}
	return e.ClaimData.validate()
}

// ClaimRef identifies an existing claim.
type ClaimRef struct {
	Subject string
	ClaimID string
}

func (c ClaimRef) validate() error {
	if err := requireAddress("subject", c.Subject); err != nil {
		return err
	}
	if c.ClaimID == "" {
		return malformed("claim id is required")
	}
	return nil
}

// ClaimRemoved deletes a claim from its identity.
type ClaimRemoved struct {
	Header
	ClaimRef
}

func (e *ClaimRemoved) EventType() EventType {
	return EventTypeClaimRemoved
}

func (e *ClaimRemoved) Validate() error {
	if err := e.Header.validate(); err != nil {
		return err
	}
	return e.ClaimRef.validate()
}

// ClaimRevoked invalidates a claim while keeping it on the identity.
type ClaimRevoked struct {
	Header
	ClaimRef
}

func (e *ClaimRevoked) EventType() EventType {
	return EventTypeClaimRevoked
}

func (e *ClaimRevoked) Validate() error {
	if err := e.Header.validate(); err != nil {
		return err
	}
	return e.ClaimRef.validate()
}
