package query_test

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"LedgerStats/internal/core"
	"LedgerStats/internal/projection"
	"LedgerStats/internal/query"
	"LedgerStats/internal/testutil"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (*query.Service, *core.Engine) {
	t.Helper()
	e := core.NewEngine(core.DefaultConfig(), core.Outputs{}, nil, nil, zerolog.Nop())
	t.Cleanup(e.Close)
	for _, evt := range testutil.Scenario() {
		_, err := e.ProcessEvent(context.Background(), evt)
		require.NoError(t, err)
	}
	cp, err := e.Checkpoint()
	require.NoError(t, err)

	v := projection.NewView()
	require.NoError(t, v.Load(cp))
	return query.NewService(v), e
}

// ============================================================================
// Test: Entity lookups
// ============================================================================

func TestService_Account(t *testing.T) {
	svc, e := newService(t)

	resp, err := svc.Account("0xALICE")
	require.NoError(t, err)
	assert.Equal(t, testutil.Alice, resp.Stats.Account)
	require.Len(t, resp.Balances, 1)
	assert.Equal(t, "0xeqt", resp.Balances[0].Token)

	hash := e.StateHash()
	assert.Equal(t, e.Sequence(), resp.AsOfSequence)
	assert.Equal(t, hex.EncodeToString(hash[:]), resp.StateHash)

	_, err = svc.Account("0xnobody")
	assert.ErrorIs(t, err, query.ErrNotFound)
}

func TestService_TokenAndDomainRows(t *testing.T) {
	svc, _ := newService(t)

	tok, err := svc.Token("0xeqt")
	require.NoError(t, err)
	assert.Equal(t, uint8(2), tok.Token.Decimals)
	assert.Equal(t, "0xeqt", tok.Stats.Token)

	bond, err := svc.Bond("0xbond")
	require.NoError(t, err)
	assert.Equal(t, "0xeur", bond.Data.DenominationAsset)

	_, err = svc.Bond("0xeqt")
	assert.ErrorIs(t, err, query.ErrNotFound, "only bonds have a bond status")

	dist, err := svc.Distribution("0xeqt")
	require.NoError(t, err)
	assert.NotEmpty(t, dist.Data.TopHolders)

	comp, err := svc.Compliance("0xeqt")
	require.NoError(t, err)
	assert.Equal(t, []string{"0xcountry"}, comp.Data.Modules)

	col, err := svc.Collateral("0xeqt")
	require.NoError(t, err)
	assert.NotNil(t, col.Data.Collateral)
}

func TestService_SystemAndTokenTypes(t *testing.T) {
	svc, _ := newService(t)

	sys, err := svc.System(testutil.ScenarioSystem)
	require.NoError(t, err)
	assert.Equal(t, []string{"0xeur", "0xeqt", "0xbond"}, sys.Tokens)

	types, err := svc.TokenTypes(testutil.ScenarioSystem)
	require.NoError(t, err)
	assert.Len(t, types.Data, 3)
	for _, tt := range types.Data {
		assert.Equal(t, testutil.ScenarioSystem, tt.System)
	}

	_, err = svc.TokenTypes("0xother")
	assert.ErrorIs(t, err, query.ErrNotFound)
}

func TestService_IdentityAndRegistries(t *testing.T) {
	svc, _ := newService(t)

	claims, err := svc.Claims("0xeqt")
	require.NoError(t, err)
	c := claims.Data
	assert.Equal(t, int64(2), c.Issued)
	assert.Equal(t, c.Issued-c.Removed-c.Revoked, c.Active)

	topics, err := svc.TopicSchemes("0xreg")
	require.NoError(t, err)
	assert.Equal(t, int64(1), topics.Data.Active)

	_, err = svc.TrustedIssuers("0xreg")
	assert.ErrorIs(t, err, query.ErrNotFound)
}

// ============================================================================
// Test: History
// ============================================================================

func TestService_History(t *testing.T) {
	svc, _ := newService(t)

	asc, err := svc.History(query.HistoryRequest{Kind: "token", EntityID: "0xeqt"})
	require.NoError(t, err)
	assert.Equal(t, "hour", asc.Interval)
	require.GreaterOrEqual(t, len(asc.Points), 2)
	for i := 1; i < len(asc.Points); i++ {
		assert.True(t, asc.Points[i-1].BucketStart.Before(asc.Points[i].BucketStart))
	}

	desc, err := svc.History(query.HistoryRequest{Kind: "token", EntityID: "0xeqt", Order: "desc", Limit: 1})
	require.NoError(t, err)
	require.Len(t, desc.Points, 1)
	assert.Equal(t, asc.Points[len(asc.Points)-1].BucketStart, desc.Points[0].BucketStart)

	day, err := svc.History(query.HistoryRequest{Kind: "token", EntityID: "0xeqt", Interval: "day"})
	require.NoError(t, err)
	assert.Len(t, day.Points, 1, "scenario fits in one day")
	assert.Equal(t, testutil.FeedStart.Truncate(24*time.Hour), day.Points[0].BucketStart)
}

func TestService_HistoryRejectsBadRequests(t *testing.T) {
	svc, _ := newService(t)

	cases := []query.HistoryRequest{
		{Kind: "balance", EntityID: "0xeqt"},
		{Kind: "nonsense", EntityID: "0xeqt"},
		{Kind: "token", EntityID: "0xeqt", Interval: "week"},
		{Kind: "token", EntityID: "0xeqt", Order: "sideways"},
		{Kind: "token", EntityID: "0xeqt", Limit: -1},
		{Kind: "token", EntityID: "0xeqt", From: testutil.FeedStart, To: testutil.FeedStart.Add(-time.Hour)},
	}
	for _, req := range cases {
		_, err := svc.History(req)
		assert.ErrorIs(t, err, query.ErrInvalidArgument, "%+v", req)
	}
}

func TestService_Status(t *testing.T) {
	svc, e := newService(t)
	st := svc.Status()
	assert.Equal(t, e.Sequence(), st.AsOfSequence)
	assert.Equal(t, 3, st.Rows["token"])
	assert.Len(t, st.Rows, 12)
}
