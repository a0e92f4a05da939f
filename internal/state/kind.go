package state

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies a row family in the state store.
type Kind int32

const (
	KindUnknown Kind = iota

	// Aggregate rows, exposed to readers and snapshotted per interval
	KindAccountStats
	KindTokenStats
	KindTokenTypeStats
	KindSystemStats
	KindDistribution
	KindBondStatus
	KindYieldCoverage
	KindCollateral
	KindClaimsStats
	KindTopicSchemeStats
	KindTrustedIssuerStats
	KindComplianceStats

	// Bookkeeping rows owned by the engine
	KindBalance
	KindToken
	KindSystem
	KindPrice
	KindClaim
	KindCollateralClaim
	KindYieldSchedule
	KindRegistryMember
	KindDenominationIndex

	kindCount
)

var kindNames = map[Kind]string{
	KindAccountStats:       "account",
	KindTokenStats:         "token",
	KindTokenTypeStats:     "token_type",
	KindSystemStats:        "system",
	KindDistribution:       "distribution",
	KindBondStatus:         "bond",
	KindYieldCoverage:      "yield",
	KindCollateral:         "collateral",
	KindClaimsStats:        "claims",
	KindTopicSchemeStats:   "topic_schemes",
	KindTrustedIssuerStats: "trusted_issuers",
	KindComplianceStats:    "compliance",
	KindBalance:            "balance",
	KindToken:              "token_meta",
	KindSystem:             "system_tokens",
	KindPrice:              "price",
	KindClaim:              "claim",
	KindCollateralClaim:    "collateral_claim",
	KindYieldSchedule:      "yield_schedule",
	KindRegistryMember:     "registry_member",
	KindDenominationIndex:  "denomination_index",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown row kind: %s", s)
}

// Snapshotted reports whether rows of this kind keep interval history.
func (k Kind) Snapshotted() bool {
	return k >= KindAccountStats && k <= KindComplianceStats
}

// AllKinds lists every known kind, excluding Unknown.
func AllKinds() []Kind {
	kinds := make([]Kind, 0, kindCount-1)
	for k := KindUnknown + 1; k < kindCount; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Row is one current-state row. Rows handed out by the store are copies;
// mutate them freely and Put them back.
type Row interface {
	Kind() Kind
	Key() string
	Clone() Row
}

// NewRow returns an empty row of the given kind for decoding.
func NewRow(k Kind) (Row, error) {
	switch k {
	case KindAccountStats:
		return &AccountStats{}, nil
	case KindTokenStats:
		return &TokenStats{}, nil
	case KindTokenTypeStats:
		return &TokenTypeStats{}, nil
	case KindSystemStats:
		return &SystemStats{}, nil
	case KindDistribution:
		return &TokenDistributionStats{}, nil
	case KindBondStatus:
		return &BondStatus{}, nil
	case KindYieldCoverage:
		return &YieldCoverage{}, nil
	case KindCollateral:
		return &CollateralStats{}, nil
	case KindClaimsStats:
		return &ClaimsStats{}, nil
	case KindTopicSchemeStats:
		return &TopicSchemeStats{}, nil
	case KindTrustedIssuerStats:
		return &TrustedIssuerStats{}, nil
	case KindComplianceStats:
		return &ComplianceStats{}, nil
	case KindBalance:
		return &Balance{}, nil
	case KindToken:
		return &Token{}, nil
	case KindSystem:
		return &System{}, nil
	case KindPrice:
		return &Price{}, nil
	case KindClaim:
		return &Claim{}, nil
	case KindCollateralClaim:
		return &CollateralClaim{}, nil
	case KindYieldSchedule:
		return &YieldSchedule{}, nil
	case KindRegistryMember:
		return &RegistryMember{}, nil
	case KindDenominationIndex:
		return &DenominationIndex{}, nil
	default:
		return nil, fmt.Errorf("no row type for kind %d", k)
	}
}

// Record is the serialized form of a row.
type Record struct {
	Kind string          `json:"kind"`
	Key  string          `json:"key"`
	Data json.RawMessage `json:"data"`
}

func EncodeRow(r Row) (Record, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s/%s: %w", r.Kind(), r.Key(), err)
	}
	return Record{Kind: r.Kind().String(), Key: r.Key(), Data: data}, nil
}

func DecodeRow(rec Record) (Row, error) {
	k, err := ParseKind(rec.Kind)
	if err != nil {
		return nil, err
	}
	row, err := NewRow(k)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rec.Data, row); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", rec.Kind, rec.Key, err)
	}
	return row, nil
}

// Interval is a snapshot bucket width.
type Interval int8

const (
	IntervalHour Interval = iota
	IntervalDay
)

// Intervals lists every bucket width the snapshotter writes.
var Intervals = []Interval{IntervalHour, IntervalDay}

func (i Interval) String() string {
	if i == IntervalDay {
		return "day"
	}
	return "hour"
}

func ParseInterval(s string) (Interval, error) {
	switch s {
	case "hour", "":
		return IntervalHour, nil
	case "day":
		return IntervalDay, nil
	default:
		return IntervalHour, fmt.Errorf("unknown interval: %s", s)
	}
}

// BucketStart returns the UTC start of the bucket containing t.
func (i Interval) BucketStart(t time.Time) time.Time {
	t = t.UTC()
	if i == IntervalDay {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return t.Truncate(time.Hour)
}

// Snapshot is the interval copy of a row. Within one bucket the latest
// write replaces the previous one.
type Snapshot struct {
	Kind        Kind
	EntityID    string
	Interval    Interval
	BucketStart time.Time
	Sequence    int64
	EventID     string
	Timestamp   time.Time
	Row         Row
}

type snapshotJSON struct {
	Interval    string    `json:"interval"`
	BucketStart time.Time `json:"bucket_start"`
	Sequence    int64     `json:"sequence"`
	EventID     string    `json:"event_id"`
	Timestamp   time.Time `json:"timestamp"`
	Record
}

func (s *Snapshot) MarshalJSON() ([]byte, error) {
	rec, err := EncodeRow(s.Row)
	if err != nil {
		return nil, err
	}
	return json.Marshal(snapshotJSON{
		Interval:    s.Interval.String(),
		BucketStart: s.BucketStart,
		Sequence:    s.Sequence,
		EventID:     s.EventID,
		Timestamp:   s.Timestamp,
		Record:      rec,
	})
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var j snapshotJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	interval, err := ParseInterval(j.Interval)
	if err != nil {
		return err
	}
	row, err := DecodeRow(j.Record)
	if err != nil {
		return err
	}
	*s = Snapshot{
		Kind:        row.Kind(),
		EntityID:    row.Key(),
		Interval:    interval,
		BucketStart: j.BucketStart,
		Sequence:    j.Sequence,
		EventID:     j.EventID,
		Timestamp:   j.Timestamp,
		Row:         row,
	}
	return nil
}
