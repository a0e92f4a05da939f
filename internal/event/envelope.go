package event

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// ErrMalformed marks events missing a required field or carrying an
// impossible value. Malformed events are rejected without touching state.
var ErrMalformed = errors.New("malformed event")

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeTokenCreated
	EventTypeTransfer
	EventTypeMintCompleted
	EventTypeBurnCompleted
	EventTypeFreezePartialTokens
	EventTypeUnfreezePartialTokens
	EventTypeAddressFrozen
	EventTypeClaimAdded
	EventTypeClaimChanged
	EventTypeClaimRemoved
	EventTypeClaimRevoked
	EventTypeComplianceModuleAdded
	EventTypeComplianceModuleRemoved
	EventTypeComplianceParamsUpdated
	EventTypeYieldScheduleSet
	EventTypeYieldPeriodCompleted
	EventTypeYieldClaimed
	EventTypeTopicSchemeRegistered
	EventTypeTopicSchemeRemoved
	EventTypeTrustedIssuerAdded
	EventTypeTrustedIssuerRemoved

	eventTypeCount
)

// AllEventTypes lists every known event type, excluding Unknown.
func AllEventTypes() []EventType {
	types := make([]EventType, 0, eventTypeCount-1)
	for et := EventTypeUnknown + 1; et < eventTypeCount; et++ {
		types = append(types, et)
	}
	return types
}

// EventEnvelope wraps every applied event in the log
type EventEnvelope struct {
	// Feed sequence, strictly increasing
	Sequence int64

	// Stable idempotency key from upstream
	EventID string

	EventType EventType

	// Ledger time of the event (NOT wall-clock)
	Timestamp time.Time

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// EventID returns the stable dedup key
	EventID() string

	// EventType returns the discriminator
	EventType() EventType

	// Sequence returns the feed position
	Sequence() int64

	// Timestamp returns the ledger time of the event
	Timestamp() time.Time

	// Validate reports ErrMalformed for missing or impossible fields
	Validate() error
}

// TokenScoped is implemented by events that reference an existing token.
type TokenScoped interface {
	TokenAddress() string
}

// ScheduleScoped is implemented by events that reference an existing yield schedule.
type ScheduleScoped interface {
	ScheduleAddress() string
}

// Header carries the fields shared by every event.
type Header struct {
	ID   string
	Seq  int64
	Time time.Time
}

func (h Header) EventID() string {
	return h.ID
}

func (h Header) Sequence() int64 {
	return h.Seq
}

func (h Header) Timestamp() time.Time {
	return h.Time
}

func (h Header) validate() error {
	if h.ID == "" {
		return malformed("event id is required")
	}
	if h.Seq <= 0 {
		return malformed("sequence must be positive, got %d", h.Seq)
	}
	if h.Time.IsZero() {
		return malformed("timestamp is required")
	}
	return nil
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

func requireAddress(field, v string) error {
	if v == "" {
		return malformed("%s is required", field)
	}
	if v != strings.ToLower(v) {
		return malformed("%s must be lower-case, got %s", field, v)
	}
	return nil
}

func requireAmount(field string, v *big.Int) error {
	if v == nil {
		return malformed("%s is required", field)
	}
	if v.Sign() < 0 {
		return malformed("%s must not be negative, got %s", field, v)
	}
	return nil
}

// NormalizeAddress lower-cases and trims an address.
func NormalizeAddress(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

var eventTypeNames = map[EventType]string{
	EventTypeTokenCreated:            "TokenCreated",
	EventTypeTransfer:                "Transfer",
	EventTypeMintCompleted:           "MintCompleted",
	EventTypeBurnCompleted:           "BurnCompleted",
	EventTypeFreezePartialTokens:     "FreezePartialTokens",
	EventTypeUnfreezePartialTokens:   "UnfreezePartialTokens",
	EventTypeAddressFrozen:           "AddressFrozen",
	EventTypeClaimAdded:              "ClaimAdded",
	EventTypeClaimChanged:            "ClaimChanged",
	EventTypeClaimRemoved:            "ClaimRemoved",
	EventTypeClaimRevoked:            "ClaimRevoked",
	EventTypeComplianceModuleAdded:   "ComplianceModuleAdded",
	EventTypeComplianceModuleRemoved: "ComplianceModuleRemoved",
	EventTypeComplianceParamsUpdated: "ComplianceParamsUpdated",
	EventTypeYieldScheduleSet:        "YieldScheduleSet",
	EventTypeYieldPeriodCompleted:    "YieldPeriodCompleted",
	EventTypeYieldClaimed:            "YieldClaimed",
	EventTypeTopicSchemeRegistered:   "TopicSchemeRegistered",
	EventTypeTopicSchemeRemoved:      "TopicSchemeRemoved",
	EventTypeTrustedIssuerAdded:      "TrustedIssuerAdded",
	EventTypeTrustedIssuerRemoved:    "TrustedIssuerRemoved",
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// ParseEventType maps a wire name back to its EventType.
func ParseEventType(s string) (EventType, error) {
	for et, name := range eventTypeNames {
		if name == s {
			return et, nil
		}
	}
	return EventTypeUnknown, fmt.Errorf("unknown event type: %s", s)
}
