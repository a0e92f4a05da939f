package testutil

import (
	"fmt"
	"math/big"
	"time"

	"LedgerStats/internal/event"
)

// FeedStart is the ledger time of sequence 0 in a Feed.
var FeedStart = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

// DefaultIssuer issues the claims built by Feed.
const DefaultIssuer = "0xissuer"

// Accounts and system used by Scenario.
const (
	ScenarioSystem = "0xsystem"
	Alice          = "0xalice"
	Bob            = "0xbob"
	Carol          = "0xcarol"
)

// Feed builds a contiguous event stream: each builder call takes the next
// sequence and advances ledger time by Step.
type Feed struct {
	seq  int64
	Step time.Duration
}

func NewFeed() *Feed {
	return &Feed{Step: time.Minute}
}

func (f *Feed) next() event.Header {
	f.seq++
	return event.Header{
		ID:   fmt.Sprintf("evt-%06d", f.seq),
		Seq:  f.seq,
		Time: f.TimeAt(f.seq),
	}
}

// Seq returns the sequence of the last built event.
func (f *Feed) Seq() int64 {
	return f.seq
}

// TimeAt returns the ledger time of a sequence.
func (f *Feed) TimeAt(seq int64) time.Time {
	return FeedStart.Add(time.Duration(seq) * f.Step)
}

// Skip consumes n sequences without building events.
func (f *Feed) Skip(n int64) {
	f.seq += n
}

// Units returns whole * 10^decimals.
func Units(whole int64, decimals uint8) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return scale.Mul(scale, big.NewInt(whole))
}

// ============================================================================
// Tokens & balances
// ============================================================================

func (f *Feed) TokenCreated(token, system string, cat event.TokenCategory, decimals uint8) *event.TokenCreated {
	return &event.TokenCreated{
		Header:   f.next(),
		Token:    token,
		System:   system,
		Category: cat,
		Decimals: decimals,
		Name:     "Token " + token,
		Symbol:   "T",
	}
}

// Bond builds a bond denominated in denom with a face value of faceValue
// whole denomination units.
func (f *Feed) Bond(token, system string, decimals uint8, denom string, denomDecimals uint8, faceValue int64) *event.TokenCreated {
	e := f.TokenCreated(token, system, event.CategoryBond, decimals)
	e.Bond = &event.BondTerms{
		FaceValue:         Units(faceValue, denomDecimals),
		DenominationAsset: denom,
		Maturity:          FeedStart.AddDate(1, 0, 0),
	}
	return e
}

func (f *Feed) Mint(token, to string, amount *big.Int) *event.MintCompleted {
	return &event.MintCompleted{Header: f.next(), Token: token, To: to, Amount: amount}
}

func (f *Feed) Transfer(token, from, to string, amount *big.Int) *event.Transfer {
	return &event.Transfer{Header: f.next(), Token: token, From: from, To: to, Amount: amount}
}

func (f *Feed) Burn(token, from string, amount *big.Int) *event.BurnCompleted {
	return &event.BurnCompleted{Header: f.next(), Token: token, From: from, Amount: amount}
}

func (f *Feed) Freeze(token, account string, amount *big.Int) *event.FreezePartialTokens {
	return &event.FreezePartialTokens{Header: f.next(), Token: token, Account: account, Amount: amount}
}

func (f *Feed) Unfreeze(token, account string, amount *big.Int) *event.UnfreezePartialTokens {
	return &event.UnfreezePartialTokens{Header: f.next(), Token: token, Account: account, Amount: amount}
}

func (f *Feed) AddressFrozen(token, account string, frozen bool) *event.AddressFrozen {
	return &event.AddressFrozen{Header: f.next(), Token: token, Account: account, Frozen: frozen}
}

// ============================================================================
// Claims
// ============================================================================

// PriceClaim issues a base price claim of amount/10^decimals EUR.
func (f *Feed) PriceClaim(subject, claimID string, amount int64, decimals uint8) *event.ClaimAdded {
	return &event.ClaimAdded{Header: f.next(), ClaimData: event.ClaimData{
		Subject:  subject,
		ClaimID:  claimID,
		Issuer:   DefaultIssuer,
		Topic:    event.TopicBasePrice,
		Amount:   big.NewInt(amount),
		Decimals: decimals,
		Currency: "EUR",
	}}
}

// CollateralClaim issues a collateral claim; a zero expiry never expires.
func (f *Feed) CollateralClaim(subject, claimID string, amount *big.Int, decimals uint8, expiry time.Time) *event.ClaimAdded {
	return &event.ClaimAdded{Header: f.next(), ClaimData: event.ClaimData{
		Subject:  subject,
		ClaimID:  claimID,
		Issuer:   DefaultIssuer,
		Topic:    event.TopicCollateral,
		Amount:   amount,
		Decimals: decimals,
		Expiry:   expiry,
	}}
}

// IdentityClaim issues a claim with no valuation effect.
func (f *Feed) IdentityClaim(subject, claimID string) *event.ClaimAdded {
	return &event.ClaimAdded{Header: f.next(), ClaimData: event.ClaimData{
		Subject: subject,
		ClaimID: claimID,
		Issuer:  DefaultIssuer,
		Topic:   event.TopicOther,
	}}
}

func (f *Feed) ClaimChanged(data event.ClaimData) *event.ClaimChanged {
	return &event.ClaimChanged{Header: f.next(), ClaimData: data}
}

func (f *Feed) ClaimRemoved(subject, claimID string) *event.ClaimRemoved {
	return &event.ClaimRemoved{Header: f.next(), ClaimRef: event.ClaimRef{Subject: subject, ClaimID: claimID}}
}

func (f *Feed) ClaimRevoked(subject, claimID string) *event.ClaimRevoked {
	return &event.ClaimRevoked{Header: f.next(), ClaimRef: event.ClaimRef{Subject: subject, ClaimID: claimID}}
}

// ============================================================================
// Compliance, yield & registries
// ============================================================================

func (f *Feed) ModuleAdded(token, module string) *event.ComplianceModuleAdded {
	return &event.ComplianceModuleAdded{Header: f.next(), Token: token, Module: module}
}

func (f *Feed) ModuleRemoved(token, module string) *event.ComplianceModuleRemoved {
	return &event.ComplianceModuleRemoved{Header: f.next(), Token: token, Module: module}
}

func (f *Feed) ModuleParamsUpdated(token, module string) *event.ComplianceParamsUpdated {
	return &event.ComplianceParamsUpdated{Header: f.next(), Token: token, Module: module}
}

// YieldSchedule runs from start for periods intervals.
func (f *Feed) YieldSchedule(token, schedule, denom string, rateBps int64, start time.Time, interval time.Duration, periods int) *event.YieldScheduleSet {
	return &event.YieldScheduleSet{
		Header:            f.next(),
		Token:             token,
		Schedule:          schedule,
		DenominationAsset: denom,
		RateBps:           rateBps,
		Start:             start,
		End:               start.Add(time.Duration(periods) * interval),
		Interval:          interval,
	}
}

func (f *Feed) YieldPeriod(schedule string, period int64, amount *big.Int) *event.YieldPeriodCompleted {
	return &event.YieldPeriodCompleted{Header: f.next(), Schedule: schedule, Period: period, Amount: amount}
}

func (f *Feed) YieldClaimed(schedule, holder string, amount *big.Int) *event.YieldClaimed {
	return &event.YieldClaimed{Header: f.next(), Schedule: schedule, Holder: holder, Amount: amount}
}

func (f *Feed) TopicRegistered(registry, topic string) *event.TopicSchemeRegistered {
	return &event.TopicSchemeRegistered{Header: f.next(), Registry: registry, Topic: topic}
}

func (f *Feed) TopicRemoved(registry, topic string) *event.TopicSchemeRemoved {
	return &event.TopicSchemeRemoved{Header: f.next(), Registry: registry, Topic: topic}
}

func (f *Feed) IssuerAdded(registry, issuer string) *event.TrustedIssuerAdded {
	return &event.TrustedIssuerAdded{Header: f.next(), Registry: registry, Issuer: issuer}
}

func (f *Feed) IssuerRemoved(registry, issuer string) *event.TrustedIssuerRemoved {
	return &event.TrustedIssuerRemoved{Header: f.next(), Registry: registry, Issuer: issuer}
}

// ============================================================================
// Scenario
// ============================================================================

// Scenario is a contiguous feed touching every aggregate family: tokens,
// a funded bond, price and collateral claims, freezes, a burn, compliance
// and a registry. The price claim removal deletes the token's price row.
func Scenario() []event.Event {
	f := NewFeed()
	f.Step = 17 * time.Minute
	return []event.Event{
		f.TokenCreated("0xeur", ScenarioSystem, event.CategoryStablecoin, 6),
		f.TokenCreated("0xeqt", ScenarioSystem, event.CategoryEquity, 2),
		f.Bond("0xbond", ScenarioSystem, 0, "0xeur", 6, 1000),
		f.Mint("0xeqt", Alice, Units(100, 2)),
		f.Mint("0xeqt", Bob, Units(50, 2)),
		f.PriceClaim("0xeqt", "price-1", 1250, 2),
		f.Transfer("0xeqt", Alice, Carol, Units(30, 2)),
		f.Mint("0xbond", Carol, big.NewInt(3)),
		f.Mint("0xeur", "0xbond", Units(1200, 6)),
		f.Freeze("0xeqt", Bob, Units(10, 2)),
		f.AddressFrozen("0xeqt", Carol, true),
		f.PriceClaim("0xeur", "price-eur", 100, 2),
		f.ClaimRemoved("0xeqt", "price-1"),
		f.CollateralClaim("0xeqt", "col", Units(500, 2), 2, time.Time{}),
		f.Burn("0xeqt", Bob, Units(5, 2)),
		f.ModuleAdded("0xeqt", "0xcountry"),
		f.TopicRegistered("0xreg", "kyc"),
	}
}
