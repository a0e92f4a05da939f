package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"LedgerStats/internal/aggregate"
	"LedgerStats/internal/core"
	"LedgerStats/internal/event"
	"LedgerStats/internal/ledger"
	"LedgerStats/internal/state"
	"LedgerStats/internal/store"
	"LedgerStats/internal/testutil"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	system = "0xsystem"
	alice  = "0xalice"
	bob    = "0xbob"
	carol  = "0xcarol"
)

// --- Test helpers ---

func newTestEngine(t *testing.T) *core.Engine {
	t.Helper()
	e := core.NewEngine(core.DefaultConfig(), core.Outputs{}, nil, nil, zerolog.Nop())
	t.Cleanup(e.Close)
	return e
}

func mustApply(t *testing.T, e *core.Engine, events ...event.Event) {
	t.Helper()
	for _, evt := range events {
		_, err := e.ProcessEvent(context.Background(), evt)
		require.NoError(t, err, "event %s (%s)", evt.EventID(), evt.EventType())
	}
}

func row[T state.Row](t *testing.T, e *core.Engine, kind state.Kind, key string) T {
	t.Helper()
	r, ok := e.Store().Get(kind, key)
	require.True(t, ok, "missing %s row %s", kind, key)
	return r.(T)
}

func tokenStats(t *testing.T, e *core.Engine, token string) *state.TokenStats {
	return row[*state.TokenStats](t, e, state.KindTokenStats, token)
}

func dumpJSON(t *testing.T, e *core.Engine) string {
	t.Helper()
	d, err := e.Store().Dump()
	require.NoError(t, err)
	b, err := json.Marshal(d)
	require.NoError(t, err)
	return string(b)
}

// ============================================================================
// Test: Routing
// ============================================================================

func TestRoutes_EveryEventTypeIsRouted(t *testing.T) {
	for _, et := range event.AllEventTypes() {
		assert.True(t, core.Routed(et), "no route for %s", et)
		assert.NotEmpty(t, core.StagesFor(et), "no stages for %s", et)
	}
	assert.False(t, core.Routed(event.EventTypeUnknown))
}

func TestRoutes_StagesFollowPipelineOrder(t *testing.T) {
	assert.Equal(t, []aggregate.Stage{
		aggregate.StageBalances,
		aggregate.StageDistribution,
		aggregate.StageValuation,
		aggregate.StageBond,
		aggregate.StageCollateral,
		aggregate.StageYield,
	}, core.StagesFor(event.EventTypeTransfer))
}

// ============================================================================
// Test: Balances & supply
// ============================================================================

func TestEngine_MintAndTransferScaleByDecimals(t *testing.T) {
	e := newTestEngine(t)
	f := testutil.NewFeed()
	mustApply(t, e,
		f.TokenCreated("0xusd", system, event.CategoryStablecoin, 6),
		f.Mint("0xusd", alice, big.NewInt(1_000_000)),
	)

	ts := tokenStats(t, e, "0xusd")
	assert.Equal(t, "1", ts.TotalSupply.String())
	assert.Equal(t, int64(1), ts.BalancesCount)
	assert.Equal(t, int64(1), ts.MintEventsCount)

	mustApply(t, e, f.Transfer("0xusd", alice, bob, big.NewInt(500_000)))

	ts = tokenStats(t, e, "0xusd")
	assert.Equal(t, int64(2), ts.BalancesCount)
	assert.Equal(t, "0.5", ts.TotalTransferred.String())
	assert.Equal(t, "1", ts.TotalSupply.String())

	a := row[*state.Balance](t, e, state.KindBalance, state.BalanceKey(alice, "0xusd"))
	b := row[*state.Balance](t, e, state.KindBalance, state.BalanceKey(bob, "0xusd"))
	assert.Equal(t, "0.5", a.Value.String())
	assert.Equal(t, "0.5", b.Value.String())
	assert.Equal(t, int64(1), row[*state.AccountStats](t, e, state.KindAccountStats, bob).BalancesCount)
}

func TestEngine_BurnToZeroReleasesHolder(t *testing.T) {
	e := newTestEngine(t)
	f := testutil.NewFeed()
	mustApply(t, e,
		f.TokenCreated("0xeqt", system, event.CategoryEquity, 0),
		f.Mint("0xeqt", alice, big.NewInt(10)),
		f.Burn("0xeqt", alice, big.NewInt(10)),
	)

	ts := tokenStats(t, e, "0xeqt")
	assert.True(t, ts.TotalSupply.IsZero())
	assert.Equal(t, int64(0), ts.BalancesCount)
	assert.Equal(t, "10", ts.TotalBurned.String())
	assert.Equal(t, int64(0), e.Holders("0xeqt").Len())
}

func TestEngine_FreezingNonHolderDoesNotCount(t *testing.T) {
	e := newTestEngine(t)
	f := testutil.NewFeed()
	mustApply(t, e,
		f.TokenCreated("0xeqt", system, event.CategoryEquity, 0),
		f.Mint("0xeqt", alice, big.NewInt(10)),
		f.AddressFrozen("0xeqt", bob, true),
	)

	ts := tokenStats(t, e, "0xeqt")
	assert.Equal(t, int64(1), ts.BalancesCount)
	assert.Equal(t, int64(1), e.Holders("0xeqt").Len())
	if r, ok := e.Store().Get(state.KindAccountStats, bob); ok {
		assert.Equal(t, int64(0), r.(*state.AccountStats).BalancesCount)
	}

	// The flag survives: bob counts once funded and stays held when drained
	mustApply(t, e, f.Transfer("0xeqt", alice, bob, big.NewInt(3)))
	assert.Equal(t, int64(2), tokenStats(t, e, "0xeqt").BalancesCount)
	assert.True(t, row[*state.Balance](t, e, state.KindBalance, state.BalanceKey(bob, "0xeqt")).IsFrozen)

	mustApply(t, e, f.Burn("0xeqt", bob, big.NewInt(3)))
	assert.Equal(t, int64(2), tokenStats(t, e, "0xeqt").BalancesCount)
	assert.Equal(t, int64(1), row[*state.AccountStats](t, e, state.KindAccountStats, bob).BalancesCount)

	mustApply(t, e, f.AddressFrozen("0xeqt", bob, false))
	assert.Equal(t, int64(1), tokenStats(t, e, "0xeqt").BalancesCount)
	assert.Equal(t, int64(0), row[*state.AccountStats](t, e, state.KindAccountStats, bob).BalancesCount)
	require.NoError(t, ledger.ValidateStore(e.Store()))
}

func TestEngine_ZeroAmountMovementsOnlyTouchTimestamps(t *testing.T) {
	e := newTestEngine(t)
	f := testutil.NewFeed()
	mustApply(t, e,
		f.TokenCreated("0xeqt", system, event.CategoryEquity, 0),
		f.Mint("0xeqt", alice, big.NewInt(10)),
		f.Mint("0xeqt", bob, big.NewInt(5)),
	)
	before := *tokenStats(t, e, "0xeqt")

	for _, evt := range []event.Event{
		f.Mint("0xeqt", carol, big.NewInt(0)),
		f.Transfer("0xeqt", alice, bob, big.NewInt(0)),
		f.Burn("0xeqt", bob, big.NewInt(0)),
	} {
		mustApply(t, e, evt)
		at := evt.Timestamp().UTC()

		ts := tokenStats(t, e, "0xeqt")
		assert.Equal(t, at, ts.LastUpdatedAt, "%s", evt.EventType())
		assert.Equal(t, before.BalancesCount, ts.BalancesCount)
		assert.Equal(t, before.MintEventsCount, ts.MintEventsCount)
		assert.Equal(t, before.BurnEventsCount, ts.BurnEventsCount)
		assert.Equal(t, before.TransferEventsCount, ts.TransferEventsCount)
		assert.Equal(t, "15", ts.TotalSupply.String())
	}

	a := row[*state.AccountStats](t, e, state.KindAccountStats, alice)
	b := row[*state.AccountStats](t, e, state.KindAccountStats, bob)
	assert.Equal(t, int64(1), a.BalancesCount)
	assert.Equal(t, int64(1), b.BalancesCount)
	assert.Equal(t, f.TimeAt(f.Seq()-1), a.LastUpdatedAt)
	assert.Equal(t, f.TimeAt(f.Seq()), b.LastUpdatedAt)
	assert.Equal(t, f.TimeAt(f.Seq()), row[*state.Balance](t, e, state.KindBalance, state.BalanceKey(bob, "0xeqt")).LastUpdatedAt)

	// A zero mint to a new address creates nothing
	_, ok := e.Store().Get(state.KindBalance, state.BalanceKey(carol, "0xeqt"))
	assert.False(t, ok)
}

// ============================================================================
// Test: Distribution
// ============================================================================

func TestEngine_DistributionBucketsAreInclusive(t *testing.T) {
	e := newTestEngine(t)
	f := testutil.NewFeed()
	mustApply(t, e, f.TokenCreated("0xeqt", system, event.CategoryEquity, 0))
	for i, bal := range []int64{100, 80, 60, 40, 20} {
		mustApply(t, e, f.Mint("0xeqt", "0xh"+string(rune('a'+i)), big.NewInt(bal)))
	}

	d := row[*state.TokenDistributionStats](t, e, state.KindDistribution, "0xeqt")
	counts := make([]int64, len(d.Buckets))
	for i, b := range d.Buckets {
		counts[i] = b.HoldersCount
	}
	// 40 is exactly 40% of the maximum and lands in bucket 4
	assert.Equal(t, []int64{0, 0, 1, 1, 3}, counts)
	assert.Equal(t, "40", d.Buckets[3].Value.String())
	assert.Equal(t, "240", d.Buckets[4].Value.String())

	require.Len(t, d.TopHolders, 5)
	assert.Equal(t, "0xha", d.TopHolders[0].Account)
	assert.Equal(t, "100", d.PercentageOwnedByTop5Holders.String())
}

func TestEngine_TopHoldersIncludeTieForFifth(t *testing.T) {
	e := newTestEngine(t)
	f := testutil.NewFeed()
	mustApply(t, e, f.TokenCreated("0xeqt", system, event.CategoryEquity, 0))
	for i := 0; i < 7; i++ {
		mustApply(t, e, f.Mint("0xeqt", "0xh"+string(rune('a'+i)), big.NewInt(10)))
	}

	d := row[*state.TokenDistributionStats](t, e, state.KindDistribution, "0xeqt")
	require.Len(t, d.TopHolders, 6)
	// Equal balances rank by first appearance
	assert.Equal(t, "0xha", d.TopHolders[0].Account)
	assert.Equal(t, "0xhf", d.TopHolders[5].Account)
	// 50 of 70
	assert.Equal(t, "71.428571", d.PercentageOwnedByTop5Holders.String())
}

// ============================================================================
// Test: Valuation
// ============================================================================

func TestEngine_PriceClaimValuesHoldings(t *testing.T) {
	e := newTestEngine(t)
	f := testutil.NewFeed()
	mustApply(t, e,
		f.TokenCreated("0xeqt", system, event.CategoryEquity, 0),
		f.Mint("0xeqt", alice, big.NewInt(10)),
		f.PriceClaim("0xeqt", "price-1", 1500, 2),
	)

	assert.Equal(t, "150", row[*state.AccountStats](t, e, state.KindAccountStats, alice).TotalValueInBaseCurrency.String())
	assert.Equal(t, "150", tokenStats(t, e, "0xeqt").TotalValueInBaseCurrency.String())
	assert.Equal(t, "150", row[*state.SystemStats](t, e, state.KindSystemStats, system).TotalValueInBaseCurrency.String())

	// New holdings are valued at the standing price
	mustApply(t, e, f.Transfer("0xeqt", alice, bob, big.NewInt(4)))
	assert.Equal(t, "90", row[*state.AccountStats](t, e, state.KindAccountStats, alice).TotalValueInBaseCurrency.String())
	assert.Equal(t, "60", row[*state.AccountStats](t, e, state.KindAccountStats, bob).TotalValueInBaseCurrency.String())
	assert.Equal(t, "150", tokenStats(t, e, "0xeqt").TotalValueInBaseCurrency.String())
}

func TestEngine_RevokingSolePriceClaimZeroesValue(t *testing.T) {
	e := newTestEngine(t)
	f := testutil.NewFeed()
	mustApply(t, e,
		f.TokenCreated("0xeqt", system, event.CategoryEquity, 0),
		f.Mint("0xeqt", alice, big.NewInt(10)),
		f.PriceClaim("0xeqt", "price-1", 1500, 2),
		f.ClaimRevoked("0xeqt", "price-1"),
	)

	assert.True(t, row[*state.AccountStats](t, e, state.KindAccountStats, alice).TotalValueInBaseCurrency.IsZero())
	assert.True(t, tokenStats(t, e, "0xeqt").TotalValueInBaseCurrency.IsZero())
	assert.True(t, row[*state.SystemStats](t, e, state.KindSystemStats, system).TotalValueInBaseCurrency.IsZero())

	// Balances are untouched
	assert.Equal(t, "10", tokenStats(t, e, "0xeqt").TotalSupply.String())
	assert.Equal(t, "10", row[*state.Balance](t, e, state.KindBalance, state.BalanceKey(alice, "0xeqt")).Value.String())

	cl := row[*state.ClaimsStats](t, e, state.KindClaimsStats, "0xeqt")
	assert.Equal(t, int64(1), cl.Issued)
	assert.Equal(t, int64(1), cl.Revoked)
	assert.Equal(t, int64(0), cl.Active)
}

func TestEngine_ChangingPriceClaimTopicClearsPrice(t *testing.T) {
	e := newTestEngine(t)
	f := testutil.NewFeed()
	mustApply(t, e,
		f.TokenCreated("0xeqt", system, event.CategoryEquity, 0),
		f.Mint("0xeqt", alice, big.NewInt(10)),
		f.PriceClaim("0xeqt", "price-1", 1500, 2),
		f.ClaimChanged(event.ClaimData{
			Subject: "0xeqt",
			ClaimID: "price-1",
			Issuer:  testutil.DefaultIssuer,
			Topic:   event.TopicOther,
		}),
	)

	_, ok := e.Store().Get(state.KindPrice, "0xeqt")
	assert.False(t, ok)
	assert.True(t, tokenStats(t, e, "0xeqt").TotalValueInBaseCurrency.IsZero())
	assert.True(t, row[*state.AccountStats](t, e, state.KindAccountStats, alice).TotalValueInBaseCurrency.IsZero())
	assert.True(t, row[*state.SystemStats](t, e, state.KindSystemStats, system).TotalValueInBaseCurrency.IsZero())

	cl := row[*state.ClaimsStats](t, e, state.KindClaimsStats, "0xeqt")
	assert.Equal(t, int64(1), cl.Changed)
	assert.Equal(t, int64(1), cl.Active)
	assert.Equal(t, event.TopicOther, row[*state.Claim](t, e, state.KindClaim, state.ClaimKey("0xeqt", "price-1")).Topic)
}

func TestEngine_RemovingCurrentPriceClaimZeroesValue(t *testing.T) {
	e := newTestEngine(t)
	f := testutil.NewFeed()
	mustApply(t, e,
		f.TokenCreated("0xeqt", system, event.CategoryEquity, 0),
		f.Mint("0xeqt", alice, big.NewInt(10)),
		f.PriceClaim("0xeqt", "price-1", 1000, 2),
		f.PriceClaim("0xeqt", "price-2", 1500, 2),
	)
	assert.Equal(t, "150", tokenStats(t, e, "0xeqt").TotalValueInBaseCurrency.String())

	// The older claim does not take over
	mustApply(t, e, f.ClaimRemoved("0xeqt", "price-2"))

	_, ok := e.Store().Get(state.KindPrice, "0xeqt")
	assert.False(t, ok)
	assert.True(t, tokenStats(t, e, "0xeqt").TotalValueInBaseCurrency.IsZero())
	assert.True(t, row[*state.AccountStats](t, e, state.KindAccountStats, alice).TotalValueInBaseCurrency.IsZero())

	cl := row[*state.ClaimsStats](t, e, state.KindClaimsStats, "0xeqt")
	assert.Equal(t, int64(2), cl.Issued)
	assert.Equal(t, int64(1), cl.Removed)
	assert.Equal(t, int64(1), cl.Active)
	_, ok = e.Store().Get(state.KindClaim, state.ClaimKey("0xeqt", "price-2"))
	assert.False(t, ok)
}

func TestEngine_TokenTypeSharesAcrossCategories(t *testing.T) {
	e := newTestEngine(t)
	f := testutil.NewFeed()
	mustApply(t, e,
		f.TokenCreated("0xeqt", system, event.CategoryEquity, 0),
		f.TokenCreated("0xeqb", system, event.CategoryEquity, 0),
		f.TokenCreated("0xusd", system, event.CategoryStablecoin, 6),
		f.Mint("0xeqt", alice, big.NewInt(10)),
		f.Mint("0xusd", bob, testutil.Units(50, 6)),
		f.PriceClaim("0xeqt", "price-eqt", 1500, 2),
		f.PriceClaim("0xusd", "price-usd", 100, 2),
	)

	equity := row[*state.TokenTypeStats](t, e, state.KindTokenTypeStats, state.TokenTypeKey(system, event.CategoryEquity))
	stable := row[*state.TokenTypeStats](t, e, state.KindTokenTypeStats, state.TokenTypeKey(system, event.CategoryStablecoin))
	assert.Equal(t, int64(2), equity.Count)
	assert.Equal(t, int64(1), stable.Count)
	assert.Equal(t, "150", equity.TotalValueInBaseCurrency.String())
	assert.Equal(t, "50", stable.TotalValueInBaseCurrency.String())
	assert.Equal(t, "75", equity.PercentageOfTotalSupply.String())
	assert.Equal(t, "25", stable.PercentageOfTotalSupply.String())

	ss := row[*state.SystemStats](t, e, state.KindSystemStats, system)
	assert.Equal(t, int64(3), ss.TokensCount)
	assert.Equal(t, "200", ss.TotalValueInBaseCurrency.String())

	// Shares follow value moves in either category
	mustApply(t, e, f.Burn("0xeqt", alice, big.NewInt(5)))
	equity = row[*state.TokenTypeStats](t, e, state.KindTokenTypeStats, state.TokenTypeKey(system, event.CategoryEquity))
	stable = row[*state.TokenTypeStats](t, e, state.KindTokenTypeStats, state.TokenTypeKey(system, event.CategoryStablecoin))
	assert.Equal(t, "60", equity.PercentageOfTotalSupply.String())
	assert.Equal(t, "40", stable.PercentageOfTotalSupply.String())
}

// ============================================================================
// Test: Bonds, yield & collateral
// ============================================================================

func TestEngine_BondCoverage(t *testing.T) {
	e := newTestEngine(t)
	f := testutil.NewFeed()
	mustApply(t, e,
		f.TokenCreated("0xeur", system, event.CategoryStablecoin, 6),
		f.Bond("0xbond", system, 0, "0xeur", 6, 1000),
		f.Mint("0xbond", alice, big.NewInt(10)),
	)

	bs := row[*state.BondStatus](t, e, state.KindBondStatus, "0xbond")
	assert.Equal(t, "10000", bs.DenominationAssetBalanceRequired.String())
	assert.True(t, bs.CoveredPercentage.IsZero())

	// Reserve held by the bond contract itself
	mustApply(t, e, f.Mint("0xeur", "0xbond", testutil.Units(5000, 6)))

	bs = row[*state.BondStatus](t, e, state.KindBondStatus, "0xbond")
	assert.Equal(t, "5000", bs.DenominationAssetBalanceAvailable.String())
	assert.Equal(t, "10000", bs.DenominationAssetBalanceRequired.String())
	assert.Equal(t, "50", bs.CoveredPercentage.String())
}

func TestEngine_BondRequiresDenominationToken(t *testing.T) {
	e := newTestEngine(t)
	f := testutil.NewFeed()
	_, err := e.ProcessEvent(context.Background(), f.Bond("0xbond", system, 0, "0xeur", 6, 1000))
	require.Error(t, err)
	assert.ErrorIs(t, err, aggregate.ErrUnknownEntity)
	_, ok := e.Store().Get(state.KindToken, "0xbond")
	assert.False(t, ok)
}

func TestEngine_YieldCoverage(t *testing.T) {
	e := newTestEngine(t)
	f := testutil.NewFeed()
	mustApply(t, e,
		f.TokenCreated("0xusd", system, event.CategoryStablecoin, 6),
		f.TokenCreated("0xeqt", system, event.CategoryEquity, 0),
		f.YieldSchedule("0xeqt", "0xsched", "0xusd", 500, testutil.FeedStart, 24*time.Hour, 4),
		f.YieldPeriod("0xsched", 1, testutil.Units(100, 6)),
		f.Mint("0xusd", "0xsched", testutil.Units(50, 6)),
	)

	yc := row[*state.YieldCoverage](t, e, state.KindYieldCoverage, "0xeqt")
	assert.True(t, yc.HasYieldSchedule)
	assert.True(t, yc.IsRunning)
	assert.Equal(t, int64(1), yc.CompletedPeriods)
	assert.Equal(t, int64(4), yc.TotalPeriods)
	assert.Equal(t, "100", yc.UnclaimedYield.String())
	assert.Equal(t, "50", yc.YieldCoverage.String())

	mustApply(t, e, f.YieldClaimed("0xsched", alice, testutil.Units(20, 6)))

	yc = row[*state.YieldCoverage](t, e, state.KindYieldCoverage, "0xeqt")
	assert.Equal(t, "20", yc.ClaimedYield.String())
	assert.Equal(t, "80", yc.UnclaimedYield.String())
	assert.Equal(t, "62.5", yc.YieldCoverage.String())
}

func TestEngine_YieldPeriodsCompleteInOrder(t *testing.T) {
	e := newTestEngine(t)
	f := testutil.NewFeed()
	mustApply(t, e,
		f.TokenCreated("0xusd", system, event.CategoryStablecoin, 6),
		f.TokenCreated("0xeqt", system, event.CategoryEquity, 0),
		f.YieldSchedule("0xeqt", "0xsched", "0xusd", 500, testutil.FeedStart, 24*time.Hour, 4),
	)

	_, err := e.ProcessEvent(context.Background(), f.YieldPeriod("0xsched", 2, testutil.Units(1, 6)))
	assert.ErrorIs(t, err, event.ErrMalformed)
}

func TestEngine_CollateralRatio(t *testing.T) {
	e := newTestEngine(t)
	f := testutil.NewFeed()
	mustApply(t, e,
		f.TokenCreated("0xusd", system, event.CategoryStablecoin, 0),
		f.CollateralClaim("0xusd", "col-1", big.NewInt(1000), 0, time.Time{}),
		f.Mint("0xusd", alice, big.NewInt(250)),
	)

	cs := row[*state.CollateralStats](t, e, state.KindCollateral, "0xusd")
	require.NotNil(t, cs.Collateral)
	assert.Equal(t, "1000", cs.Collateral.String())
	assert.Equal(t, "250", cs.CollateralUsed.String())
	assert.Equal(t, "750", cs.CollateralAvailable.String())
	assert.Equal(t, "25", cs.CollateralRatio.String())
	assert.Nil(t, cs.ExpiresAt)
}

func TestEngine_CollateralExpiresOnNextTouch(t *testing.T) {
	e := newTestEngine(t)
	f := testutil.NewFeed()
	mustApply(t, e,
		f.TokenCreated("0xusd", system, event.CategoryStablecoin, 0),
		f.CollateralClaim("0xusd", "col-1", big.NewInt(1000), 0, f.TimeAt(3)),
	)
	require.NotNil(t, row[*state.CollateralStats](t, e, state.KindCollateral, "0xusd").Collateral)

	// Ledger time passes the expiry; the next touching event picks it up
	mustApply(t, e,
		f.Mint("0xusd", alice, big.NewInt(1)),
		f.Mint("0xusd", alice, big.NewInt(1)),
	)
	assert.Nil(t, row[*state.CollateralStats](t, e, state.KindCollateral, "0xusd").Collateral)
}

// ============================================================================
// Test: Compliance & registries
// ============================================================================

func TestEngine_ComplianceModules(t *testing.T) {
	e := newTestEngine(t)
	f := testutil.NewFeed()
	mustApply(t, e,
		f.TokenCreated("0xeqt", system, event.CategoryEquity, 0),
		f.ModuleAdded("0xeqt", "0xmodb"),
		f.ModuleAdded("0xeqt", "0xmoda"),
		f.ModuleParamsUpdated("0xeqt", "0xmoda"),
		f.ModuleRemoved("0xeqt", "0xmodb"),
	)

	cs := row[*state.ComplianceStats](t, e, state.KindComplianceStats, "0xeqt")
	assert.Equal(t, []string{"0xmoda"}, cs.Modules)
	assert.Equal(t, int64(1), cs.ModulesCount)
	assert.Equal(t, int64(2), cs.ModulesAdded)
	assert.Equal(t, int64(1), cs.ModulesRemoved)
	assert.Equal(t, int64(1), cs.ParameterUpdates)
}

func TestEngine_Registries(t *testing.T) {
	e := newTestEngine(t)
	f := testutil.NewFeed()
	mustApply(t, e,
		f.TopicRegistered("0xreg", "kyc"),
		f.TopicRegistered("0xreg", "aml"),
		f.TopicRemoved("0xreg", "kyc"),
		f.IssuerAdded("0xreg", "0xissuer"),
	)

	ts := row[*state.TopicSchemeStats](t, e, state.KindTopicSchemeStats, "0xreg")
	assert.Equal(t, int64(2), ts.Registered)
	assert.Equal(t, int64(1), ts.Removed)
	assert.Equal(t, int64(1), ts.Active)
	assert.Equal(t, int64(1), row[*state.TrustedIssuerStats](t, e, state.KindTrustedIssuerStats, "0xreg").Active)

	// Removing an unknown member rejects the event
	_, err := e.ProcessEvent(context.Background(), f.IssuerRemoved("0xreg", "0xnobody"))
	assert.ErrorIs(t, err, aggregate.ErrUnknownEntity)
}

// ============================================================================
// Test: Atomicity & rejection
// ============================================================================

func TestEngine_OverdraftRollsBack(t *testing.T) {
	e := newTestEngine(t)
	f := testutil.NewFeed()
	mustApply(t, e,
		f.TokenCreated("0xeqt", system, event.CategoryEquity, 0),
		f.Mint("0xeqt", alice, big.NewInt(10)),
	)
	before := dumpJSON(t, e)
	hash := e.StateHash()

	_, err := e.ProcessEvent(context.Background(), f.Burn("0xeqt", alice, big.NewInt(20)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.True(t, core.Rejected(err))

	assert.Equal(t, before, dumpJSON(t, e))
	assert.Equal(t, hash, e.StateHash())
	assert.Equal(t, int64(1), e.Holders("0xeqt").Len())

	// The rejected event consumed its position
	assert.Equal(t, f.Seq(), e.Sequence())
	mustApply(t, e, f.Burn("0xeqt", alice, big.NewInt(5)))
	assert.Equal(t, "5", tokenStats(t, e, "0xeqt").TotalSupply.String())
}

func TestEngine_UnknownTokenIsMalformed(t *testing.T) {
	e := newTestEngine(t)
	f := testutil.NewFeed()
	_, err := e.ProcessEvent(context.Background(), f.Mint("0xnope", alice, big.NewInt(1)))
	require.Error(t, err)
	assert.ErrorIs(t, err, event.ErrMalformed)
	assert.ErrorIs(t, err, aggregate.ErrUnknownEntity)
	assert.Equal(t, core.GenesisHash(), e.StateHash())
	assert.Equal(t, 0, e.Store().Len(state.KindBalance))
}

func TestEngine_InvalidEventIsMalformed(t *testing.T) {
	e := newTestEngine(t)
	f := testutil.NewFeed()
	_, err := e.ProcessEvent(context.Background(), f.TokenCreated("0xABC", system, event.CategoryEquity, 0))
	assert.ErrorIs(t, err, event.ErrMalformed)
	assert.Equal(t, 0, e.Store().Len(state.KindToken))
}

// ============================================================================
// Test: Feed position & idempotency
// ============================================================================

func TestEngine_ReplayedSequenceIsDuplicate(t *testing.T) {
	e := newTestEngine(t)
	f := testutil.NewFeed()
	created := f.TokenCreated("0xeqt", system, event.CategoryEquity, 0)
	mustApply(t, e, created)
	hash := e.StateHash()

	_, err := e.ProcessEvent(context.Background(), created)
	assert.ErrorIs(t, err, core.ErrDuplicate)
	assert.Equal(t, hash, e.StateHash())
}

func TestEngine_RepeatedEventIDIsDuplicate(t *testing.T) {
	e := newTestEngine(t)
	f := testutil.NewFeed()
	mustApply(t, e, f.TokenCreated("0xeqt", system, event.CategoryEquity, 0))

	mint := f.Mint("0xeqt", alice, big.NewInt(1))
	mint.ID = "evt-000001"
	_, err := e.ProcessEvent(context.Background(), mint)
	assert.ErrorIs(t, err, core.ErrDuplicate)
	assert.Equal(t, 0, e.Store().Len(state.KindBalance))

	// The next position is still accepted
	mustApply(t, e, f.Mint("0xeqt", alice, big.NewInt(2)))
	assert.Equal(t, "2", tokenStats(t, e, "0xeqt").TotalSupply.String())
}

func TestEngine_SequenceGap(t *testing.T) {
	e := newTestEngine(t)
	f := testutil.NewFeed()
	mustApply(t, e, f.TokenCreated("0xeqt", system, event.CategoryEquity, 0))

	f.Skip(1)
	_, err := e.ProcessEvent(context.Background(), f.Mint("0xeqt", alice, big.NewInt(1)))
	assert.ErrorIs(t, err, core.ErrSequenceGap)
	assert.Equal(t, int64(1), e.Sequence())

	cfg := core.DefaultConfig()
	cfg.AllowGaps = true
	lenient := core.NewEngine(cfg, core.Outputs{}, nil, nil, zerolog.Nop())
	defer lenient.Close()
	g := testutil.NewFeed()
	mustApply(t, lenient, g.TokenCreated("0xeqt", system, event.CategoryEquity, 0))
	g.Skip(3)
	mustApply(t, lenient, g.Mint("0xeqt", alice, big.NewInt(1)))
	assert.Equal(t, g.Seq(), lenient.Sequence())
}

// ============================================================================
// Test: Determinism, hashing & checkpoints
// ============================================================================

func TestEngine_RegressingTimestampIsMalformed(t *testing.T) {
	e := newTestEngine(t)
	f := testutil.NewFeed()
	late := testutil.FeedStart.Add(3 * time.Hour)

	created := f.TokenCreated("0xeqt", system, event.CategoryEquity, 0)
	first := f.Mint("0xeqt", alice, big.NewInt(10))
	second := f.Mint("0xeqt", alice, big.NewInt(5))
	second.Time = late
	mustApply(t, e, created, first, second)

	hourOf := func() []*state.Snapshot {
		return e.Store().History(state.KindTokenStats, "0xeqt", state.IntervalHour)
	}
	require.Len(t, hourOf(), 2)
	assert.Equal(t, "10", hourOf()[0].Row.(*state.TokenStats).TotalSupply.String())
	hash := e.StateHash()

	stale := f.Mint("0xeqt", alice, big.NewInt(100))
	stale.Time = first.Time
	_, err := e.ProcessEvent(context.Background(), stale)
	require.Error(t, err)
	assert.ErrorIs(t, err, event.ErrMalformed)

	// The closed bucket is untouched and the position is consumed
	assert.Equal(t, hash, e.StateHash())
	require.Len(t, hourOf(), 2)
	assert.Equal(t, "10", hourOf()[0].Row.(*state.TokenStats).TotalSupply.String())
	assert.Equal(t, "15", tokenStats(t, e, "0xeqt").TotalSupply.String())
	assert.Equal(t, stale.Sequence(), e.Sequence())

	// Equal timestamps are fine
	same := f.Mint("0xeqt", bob, big.NewInt(1))
	same.Time = late
	mustApply(t, e, same)

	// The clock survives a checkpoint
	cp, err := e.Checkpoint()
	require.NoError(t, err)
	resumed := newTestEngine(t)
	require.NoError(t, resumed.Restore(cp))
	again := f.Mint("0xeqt", alice, big.NewInt(1))
	again.Time = first.Time
	_, err = resumed.ProcessEvent(context.Background(), again)
	assert.ErrorIs(t, err, event.ErrMalformed)
}

func TestEngine_ReplayIsDeterministic(t *testing.T) {
	a := newTestEngine(t)
	b := newTestEngine(t)
	mustApply(t, a, testutil.Scenario()...)
	mustApply(t, b, testutil.Scenario()...)

	assert.Equal(t, a.StateHash(), b.StateHash())
	assert.Equal(t, dumpJSON(t, a), dumpJSON(t, b))
	assert.NotEqual(t, core.GenesisHash(), a.StateHash())
}

func TestEngine_HashChainLinksChangeSets(t *testing.T) {
	e := newTestEngine(t)
	prev := core.GenesisHash()
	for _, evt := range testutil.Scenario() {
		cs, err := e.ProcessEvent(context.Background(), evt)
		require.NoError(t, err)
		assert.Equal(t, prev, cs.PrevHash)

		digest, err := cs.Digest()
		require.NoError(t, err)
		h := core.NewStateHasher()
		h.SetPrevHash(prev)
		assert.Equal(t, h.ComputeHash(cs.Sequence, digest), cs.StateHash)
		prev = cs.StateHash
	}
	assert.Equal(t, prev, e.StateHash())
}

func TestEngine_CheckpointRestoreContinuesChain(t *testing.T) {
	events := testutil.Scenario()
	split := len(events) / 2

	full := newTestEngine(t)
	mustApply(t, full, events...)

	first := newTestEngine(t)
	mustApply(t, first, events[:split]...)
	cp, err := first.Checkpoint()
	require.NoError(t, err)
	assert.Equal(t, int64(split), cp.Sequence)

	// Round-trip through JSON as the checkpoint store does
	raw, err := json.Marshal(cp)
	require.NoError(t, err)
	var decoded core.Checkpoint
	require.NoError(t, json.Unmarshal(raw, &decoded))

	resumed := newTestEngine(t)
	require.NoError(t, resumed.Restore(&decoded))
	assert.Equal(t, first.StateHash(), resumed.StateHash())
	mustApply(t, resumed, events[split:]...)

	assert.Equal(t, full.StateHash(), resumed.StateHash())
	assert.Equal(t, dumpJSON(t, full), dumpJSON(t, resumed))

	// Event ids from before the checkpoint still deduplicate
	reused := &event.MintCompleted{
		Header: event.Header{ID: events[0].EventID(), Seq: resumed.Sequence() + 1, Time: testutil.FeedStart.Add(48 * time.Hour)},
		Token:  "0xeqt",
		To:     alice,
		Amount: big.NewInt(1),
	}
	_, err = resumed.ProcessEvent(context.Background(), reused)
	assert.ErrorIs(t, err, core.ErrDuplicate)
	assert.Equal(t, full.StateHash(), resumed.StateHash())
}

func TestEngine_ReplaySkipsRejectedPositions(t *testing.T) {
	f := testutil.NewFeed()
	created := f.TokenCreated("0xeqt", system, event.CategoryEquity, 0)
	rejected := f.Burn("0xeqt", alice, big.NewInt(1))
	mint := f.Mint("0xeqt", alice, big.NewInt(3))

	live := newTestEngine(t)
	mustApply(t, live, created)
	_, err := live.ProcessEvent(context.Background(), rejected)
	require.Error(t, err)
	mustApply(t, live, mint)

	// The event log holds only applied events
	replayed := newTestEngine(t)
	for _, evt := range []event.Event{created, mint} {
		_, err := replayed.Replay(context.Background(), evt)
		require.NoError(t, err)
	}
	assert.Equal(t, live.StateHash(), replayed.StateHash())
}

// ============================================================================
// Test: Run loop & outputs
// ============================================================================

func TestEngine_RunEmitsOutputsAndServesCheckpoints(t *testing.T) {
	persist := make(chan core.Output, 16)
	projection := make(chan core.Output, 1)
	e := core.NewEngine(core.DefaultConfig(), core.Outputs{Persist: persist, Projection: projection}, nil, nil, zerolog.Nop())
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := make(chan core.Submission)
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, in) }()

	f := testutil.NewFeed()
	results := make(chan error, 3)
	for _, evt := range []event.Event{
		f.TokenCreated("0xeqt", system, event.CategoryEquity, 0),
		f.Mint("0xeqt", alice, big.NewInt(5)),
		f.Mint("0xeqt", bob, big.NewInt(5)),
	} {
		in <- core.Submission{Event: evt, Done: func(_ *store.ChangeSet, err error) { results <- err }}
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, <-results)
	}

	cp, err := e.RequestCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cp.Sequence)

	require.Len(t, persist, 3)
	out := <-persist
	assert.Equal(t, event.EventTypeTokenCreated, out.Event.EventType())
	assert.Equal(t, int64(1), out.ChangeSet.Sequence)
	// Projection buffer holds one; the rest were dropped
	assert.Len(t, projection, 1)

	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))
}
