package state

import (
	"time"

	"LedgerStats/internal/event"
	fpmath "LedgerStats/internal/math"
)

// BondInfo holds bond terms with the face value scaled to the
// denomination asset's decimals.
type BondInfo struct {
	FaceValue         fpmath.ScaledDecimal `json:"face_value"`
	DenominationAsset string               `json:"denomination_asset"`
	Maturity          time.Time            `json:"maturity"`
}

// Token is the registration record of one token
type Token struct {
	Address       string              `json:"address"`
	System        string              `json:"system"`
	Category      event.TokenCategory `json:"category"`
	Decimals      uint8               `json:"decimals"`
	Name          string              `json:"name"`
	Symbol        string              `json:"symbol"`
	Bond          *BondInfo           `json:"bond,omitempty"`
	YieldSchedule string              `json:"yield_schedule,omitempty"`
	CreatedSeq    int64               `json:"created_seq"`

	// Base-currency price per whole token last applied to holder values
	UnitPrice fpmath.ScaledDecimal `json:"unit_price"`
}

func (t *Token) Kind() Kind  { return KindToken }
func (t *Token) Key() string { return t.Address }

func (t *Token) Clone() Row {
	c := *t
	if t.Bond != nil {
		b := *t.Bond
		c.Bond = &b
	}
	return &c
}

func (t *Token) IsBond() bool {
	return t.Category == event.CategoryBond && t.Bond != nil
}

// System owns an ordered set of tokens.
type System struct {
	ID     string   `json:"id"`
	Tokens []string `json:"tokens"` // Registration order
}

func (s *System) Kind() Kind  { return KindSystem }
func (s *System) Key() string { return s.ID }

func (s *System) Clone() Row {
	c := *s
	c.Tokens = append([]string(nil), s.Tokens...)
	return &c
}

// Price is the current base-currency unit price of a token, taken from
// its most recent price claim.
type Price struct {
	Token     string               `json:"token"`
	ClaimID   string               `json:"claim_id"`
	Issuer    string               `json:"issuer"`
	Amount    fpmath.ScaledDecimal `json:"amount"`
	Currency  string               `json:"currency"`
	UpdatedAt time.Time            `json:"updated_at"`
}

func (p *Price) Kind() Kind  { return KindPrice }
func (p *Price) Key() string { return p.Token }

func (p *Price) Clone() Row {
	c := *p
	return &c
}

func ClaimKey(subject, claimID string) string {
	return subject + ":" + claimID
}

// Claim is one identity claim as last issued or changed.
type Claim struct {
	Subject   string               `json:"subject"`
	ClaimID   string               `json:"claim_id"`
	Issuer    string               `json:"issuer"`
	Topic     event.ClaimTopic     `json:"topic"`
	Amount    fpmath.ScaledDecimal `json:"amount"`
	Currency  string               `json:"currency"`
	ExpiresAt time.Time            `json:"expires_at"`
	Revoked   bool                 `json:"revoked"`
}

func (c *Claim) Kind() Kind  { return KindClaim }
func (c *Claim) Key() string { return ClaimKey(c.Subject, c.ClaimID) }

func (c *Claim) Clone() Row {
	cp := *c
	return &cp
}

// CollateralClaim is the current collateral attestation for a token.
type CollateralClaim struct {
	Token     string               `json:"token"`
	ClaimID   string               `json:"claim_id"`
	Amount    fpmath.ScaledDecimal `json:"amount"`
	ExpiresAt time.Time            `json:"expires_at"` // Zero never expires
}

func (c *CollateralClaim) Kind() Kind  { return KindCollateralClaim }
func (c *CollateralClaim) Key() string { return c.Token }

func (c *CollateralClaim) Clone() Row {
	cp := *c
	return &cp
}

// ExpiredAt reports whether the claim has lapsed at t.
func (c *CollateralClaim) ExpiredAt(t time.Time) bool {
	return !c.ExpiresAt.IsZero() && !t.Before(c.ExpiresAt)
}

// YieldSchedule is the fixed yield schedule attached to a token
type YieldSchedule struct {
	Address           string               `json:"address"`
	Token             string               `json:"token"`
	DenominationAsset string               `json:"denomination_asset"`
	RateBps           int64                `json:"rate_bps"`
	Start             time.Time            `json:"start"`
	End               time.Time            `json:"end"`
	Interval          time.Duration        `json:"interval"`
	CompletedPeriods  int64                `json:"completed_periods"`
	TotalYield        fpmath.ScaledDecimal `json:"total_yield"`
	ClaimedYield      fpmath.ScaledDecimal `json:"claimed_yield"`
}

func (y *YieldSchedule) Kind() Kind  { return KindYieldSchedule }
func (y *YieldSchedule) Key() string { return y.Address }

func (y *YieldSchedule) Clone() Row {
	c := *y
	return &c
}

// RunningAt reports whether t falls inside [Start, End).
func (y *YieldSchedule) RunningAt(t time.Time) bool {
	return !t.Before(y.Start) && t.Before(y.End)
}

// Unclaimed returns accrued yield not yet claimed.
func (y *YieldSchedule) Unclaimed() fpmath.ScaledDecimal {
	return y.TotalYield.Sub(y.ClaimedYield)
}

// Registry member kinds
const (
	MemberTopicScheme   = "topic"
	MemberTrustedIssuer = "issuer"
)

func RegistryMemberKey(registry, memberKind, member string) string {
	return registry + ":" + memberKind + ":" + member
}

// RegistryMember records that a member is currently registered.
type RegistryMember struct {
	Registry   string `json:"registry"`
	MemberKind string `json:"member_kind"`
	Member     string `json:"member"`
}

func (m *RegistryMember) Kind() Kind { return KindRegistryMember }
func (m *RegistryMember) Key() string {
	return RegistryMemberKey(m.Registry, m.MemberKind, m.Member)
}

func (m *RegistryMember) Clone() Row {
	c := *m
	return &c
}

// DenominationIndex lists the bonds and yield schedules that hold reserves
// in an asset. Balance and price changes of the asset cascade to them.
type DenominationIndex struct {
	Asset     string   `json:"asset"`
	Bonds     []string `json:"bonds"`
	Schedules []string `json:"schedules"`
}

func (d *DenominationIndex) Kind() Kind  { return KindDenominationIndex }
func (d *DenominationIndex) Key() string { return d.Asset }

func (d *DenominationIndex) Clone() Row {
	c := *d
	c.Bonds = append([]string(nil), d.Bonds...)
	c.Schedules = append([]string(nil), d.Schedules...)
	return &c
}
