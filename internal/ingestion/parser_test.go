package ingestion_test

import (
	"math/big"
	"testing"
	"time"

	"LedgerStats/internal/event"
	"LedgerStats/internal/ingestion"
	"LedgerStats/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func raw(subject, data string) ingestion.RawEvent {
	return ingestion.RawEvent{Subject: subject, Data: []byte(data), Timestamp: time.Now()}
}

// ============================================================================
// Test: Subjects
// ============================================================================

func TestEventTypeFromSubject(t *testing.T) {
	et, err := ingestion.EventTypeFromSubject("ledger.events.MintCompleted")
	require.NoError(t, err)
	assert.Equal(t, event.EventTypeMintCompleted, et)
	assert.Equal(t, "ledger.events.ClaimRevoked", ingestion.SubjectFor(event.EventTypeClaimRevoked))

	for _, bad := range []string{"ledger.events.", "ledger.events.Nope", "other.MintCompleted"} {
		_, err := ingestion.EventTypeFromSubject(bad)
		assert.ErrorIs(t, err, event.ErrMalformed, bad)
	}
}

// ============================================================================
// Test: Decoding
// ============================================================================

func TestParseRawEvent_Transfer(t *testing.T) {
	evt, err := ingestion.ParseRawEvent(raw("ledger.events.Transfer", `{
		"event_id": "evt-1",
		"sequence": 42,
		"timestamp": 1740823200,
		"token": "0xABCDEF",
		"from": "0xAlice",
		"to": "0xbob",
		"amount": "123456789012345678901234567890"
	}`))
	require.NoError(t, err)

	tr, ok := evt.(*event.Transfer)
	require.True(t, ok, "got %T", evt)
	assert.Equal(t, "evt-1", tr.EventID())
	assert.Equal(t, int64(42), tr.Sequence())
	assert.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), tr.Timestamp())
	assert.Equal(t, "0xabcdef", tr.Token)
	assert.Equal(t, "0xalice", tr.From)
	assert.Equal(t, "123456789012345678901234567890", tr.Amount.String())
	assert.NoError(t, tr.Validate())
}

func TestParseRawEvent_BondTokenCreated(t *testing.T) {
	evt, err := ingestion.ParseRawEvent(raw("ledger.events.TokenCreated", `{
		"event_id": "evt-2",
		"sequence": 1,
		"timestamp": 1740823200,
		"token": "0xbond",
		"system": "0xsys",
		"category": "bond",
		"decimals": 0,
		"bond": {"face_value": "1000000000", "denomination_asset": "0xEUR", "maturity": 1772359200}
	}`))
	require.NoError(t, err)

	tc := evt.(*event.TokenCreated)
	assert.Equal(t, event.CategoryBond, tc.Category)
	require.NotNil(t, tc.Bond)
	assert.Equal(t, "0xeur", tc.Bond.DenominationAsset)
	assert.Equal(t, "1000000000", tc.Bond.FaceValue.String())
	assert.NoError(t, tc.Validate())
}

func TestParseRawEvent_PriceClaimWithoutExpiry(t *testing.T) {
	evt, err := ingestion.ParseRawEvent(raw("ledger.events.ClaimAdded", `{
		"event_id": "evt-3", "sequence": 3, "timestamp": 1740823200,
		"subject": "0xeqt", "claim_id": "c-1", "issuer": "0xissuer",
		"topic": "basePrice", "amount": "1500", "decimals": 2, "currency": "EUR"
	}`))
	require.NoError(t, err)

	ca := evt.(*event.ClaimAdded)
	assert.Equal(t, event.TopicBasePrice, ca.Topic)
	assert.True(t, ca.Expiry.IsZero())
	assert.Equal(t, uint8(2), ca.Decimals)
}

func TestParseRawEvent_YieldPeriodWithoutAmount(t *testing.T) {
	evt, err := ingestion.ParseRawEvent(raw("ledger.events.YieldPeriodCompleted", `{
		"event_id": "evt-4", "sequence": 4, "timestamp": 1740823200,
		"schedule": "0xsched", "period": 1
	}`))
	require.NoError(t, err)
	assert.Nil(t, evt.(*event.YieldPeriodCompleted).Amount)
}

func TestParseRawEvent_Malformed(t *testing.T) {
	cases := map[string]ingestion.RawEvent{
		"not json":         raw("ledger.events.MintCompleted", `{not json`),
		"bad amount":       raw("ledger.events.MintCompleted", `{"event_id":"e","sequence":1,"timestamp":1,"token":"0xt","to":"0xa","amount":"1.5"}`),
		"unknown category": raw("ledger.events.TokenCreated", `{"event_id":"e","sequence":1,"timestamp":1,"token":"0xt","system":"0xs","category":"nft"}`),
		"unknown topic":    raw("ledger.events.ClaimAdded", `{"event_id":"e","sequence":1,"timestamp":1,"subject":"0xt","claim_id":"c","topic":"weather"}`),
		"unknown subject":  raw("ledger.events.FundingSettled", `{}`),
	}
	for name, r := range cases {
		_, err := ingestion.ParseRawEvent(r)
		assert.ErrorIs(t, err, event.ErrMalformed, name)
	}
}

// ============================================================================
// Test: Encoding
// ============================================================================

func TestEncodeEvent_RoundTripsEveryType(t *testing.T) {
	f := testutil.NewFeed()
	events := []event.Event{
		f.TokenCreated("0xusd", "0xsys", event.CategoryStablecoin, 6),
		f.Bond("0xbond", "0xsys", 0, "0xusd", 6, 1000),
		f.Transfer("0xusd", "0xa", "0xb", big.NewInt(5)),
		f.Mint("0xusd", "0xa", big.NewInt(5)),
		f.Burn("0xusd", "0xa", big.NewInt(5)),
		f.Freeze("0xusd", "0xa", big.NewInt(1)),
		f.Unfreeze("0xusd", "0xa", big.NewInt(1)),
		f.AddressFrozen("0xusd", "0xa", true),
		f.PriceClaim("0xusd", "p", 100, 2),
		f.CollateralClaim("0xusd", "c", big.NewInt(7), 0, testutil.FeedStart.Add(time.Hour)),
		f.ClaimChanged(f.IdentityClaim("0xa", "kyc").ClaimData),
		f.ClaimRemoved("0xusd", "p"),
		f.ClaimRevoked("0xusd", "c"),
		f.ModuleAdded("0xusd", "0xmod"),
		f.ModuleRemoved("0xusd", "0xmod"),
		f.ModuleParamsUpdated("0xusd", "0xmod"),
		f.YieldSchedule("0xbond", "0xsched", "0xusd", 400, testutil.FeedStart, time.Hour, 3),
		f.YieldPeriod("0xsched", 1, big.NewInt(9)),
		f.YieldClaimed("0xsched", "0xa", big.NewInt(4)),
		f.TopicRegistered("0xreg", "kyc"),
		f.TopicRemoved("0xreg", "kyc"),
		f.IssuerAdded("0xreg", "0xissuer"),
		f.IssuerRemoved("0xreg", "0xissuer"),
	}

	seen := make(map[event.EventType]bool)
	for _, evt := range events {
		data, err := ingestion.EncodeEvent(evt)
		require.NoError(t, err, evt.EventType().String())
		back, err := ingestion.ParseEvent(evt.EventType(), data)
		require.NoError(t, err, evt.EventType().String())
		assert.Equal(t, evt, back, evt.EventType().String())
		seen[evt.EventType()] = true
	}
	for _, et := range event.AllEventTypes() {
		assert.True(t, seen[et], "no round trip for %s", et)
	}
}
