package state

import (
	"sort"
	"time"

	fpmath "LedgerStats/internal/math"
)

// BondStatus compares a bond's denomination reserve with its redemption need.
// CoveredPercentage is not capped, so over-funding stays visible.
type BondStatus struct {
	Token                             string               `json:"token"`
	DenominationAsset                 string               `json:"denomination_asset"`
	DenominationAssetBalanceAvailable fpmath.ScaledDecimal `json:"denomination_asset_balance_available"`
	DenominationAssetBalanceRequired  fpmath.ScaledDecimal `json:"denomination_asset_balance_required"`
	CoveredPercentage                 fpmath.ScaledDecimal `json:"covered_percentage"`
}

func (s *BondStatus) Kind() Kind  { return KindBondStatus }
func (s *BondStatus) Key() string { return s.Token }

func (s *BondStatus) Clone() Row {
	c := *s
	return &c
}

// YieldCoverage tracks whether a schedule's reserve can pay what it owes.
// YieldCoverage is capped to [0, 100].
type YieldCoverage struct {
	Token                    string               `json:"token"`
	Schedule                 string               `json:"schedule"`
	HasYieldSchedule         bool                 `json:"has_yield_schedule"`
	IsRunning                bool                 `json:"is_running"`
	CompletedPeriods         int64                `json:"completed_periods"`
	TotalPeriods             int64                `json:"total_periods"`
	TotalYield               fpmath.ScaledDecimal `json:"total_yield"`
	ClaimedYield             fpmath.ScaledDecimal `json:"claimed_yield"`
	UnclaimedYield           fpmath.ScaledDecimal `json:"unclaimed_yield"`
	DenominationAssetBalance fpmath.ScaledDecimal `json:"denomination_asset_balance"`
	YieldCoverage            fpmath.ScaledDecimal `json:"yield_coverage"`
}

func (s *YieldCoverage) Kind() Kind  { return KindYieldCoverage }
func (s *YieldCoverage) Key() string { return s.Token }

func (s *YieldCoverage) Clone() Row {
	c := *s
	return &c
}

// CollateralStats compares a token's supply with its collateral claim.
// Pointer fields are nil while no unexpired collateral claim exists.
type CollateralStats struct {
	Token               string                `json:"token"`
	Collateral          *fpmath.ScaledDecimal `json:"collateral"`
	CollateralUsed      *fpmath.ScaledDecimal `json:"collateral_used"`
	CollateralAvailable *fpmath.ScaledDecimal `json:"collateral_available"`
	CollateralRatio     *fpmath.ScaledDecimal `json:"collateral_ratio"`
	ExpiresAt           *time.Time            `json:"expires_at"`
}

func (s *CollateralStats) Kind() Kind  { return KindCollateral }
func (s *CollateralStats) Key() string { return s.Token }

func (s *CollateralStats) Clone() Row {
	c := *s
	return &c
}

// ClaimsStats counts claim activity on one identity.
// Active == Issued - Removed - Revoked at all times.
type ClaimsStats struct {
	Identity string `json:"identity"`
	Issued   int64  `json:"issued"`
	Changed  int64  `json:"changed"`
	Removed  int64  `json:"removed"`
	Revoked  int64  `json:"revoked"`
	Active   int64  `json:"active"`
}

func (s *ClaimsStats) Kind() Kind  { return KindClaimsStats }
func (s *ClaimsStats) Key() string { return s.Identity }

func (s *ClaimsStats) Clone() Row {
	c := *s
	return &c
}

// TopicSchemeStats counts topic schemes in one registry.
// Active == Registered - Removed.
type TopicSchemeStats struct {
	Registry   string `json:"registry"`
	Registered int64  `json:"registered"`
	Removed    int64  `json:"removed"`
	Active     int64  `json:"active"`
}

func (s *TopicSchemeStats) Kind() Kind  { return KindTopicSchemeStats }
func (s *TopicSchemeStats) Key() string { return s.Registry }

func (s *TopicSchemeStats) Clone() Row {
	c := *s
	return &c
}

// TrustedIssuerStats counts trusted issuers in one registry.
// Active == Added - Removed.
type TrustedIssuerStats struct {
	Registry string `json:"registry"`
	Added    int64  `json:"added"`
	Removed  int64  `json:"removed"`
	Active   int64  `json:"active"`
}

func (s *TrustedIssuerStats) Kind() Kind  { return KindTrustedIssuerStats }
func (s *TrustedIssuerStats) Key() string { return s.Registry }

func (s *TrustedIssuerStats) Clone() Row {
	c := *s
	return &c
}

// ComplianceStats tracks the compliance modules attached to a token
type ComplianceStats struct {
	Token            string   `json:"token"`
	Modules          []string `json:"modules"` // Sorted
	ModulesCount     int64    `json:"modules_count"`
	ModulesAdded     int64    `json:"modules_added"`
	ModulesRemoved   int64    `json:"modules_removed"`
	ParameterUpdates int64    `json:"parameter_updates"`
}

func (s *ComplianceStats) Kind() Kind  { return KindComplianceStats }
func (s *ComplianceStats) Key() string { return s.Token }

func (s *ComplianceStats) Clone() Row {
	c := *s
	c.Modules = append([]string(nil), s.Modules...)
	return &c
}

func (s *ComplianceStats) HasModule(module string) bool {
	i := sort.SearchStrings(s.Modules, module)
	return i < len(s.Modules) && s.Modules[i] == module
}

func (s *ComplianceStats) AddModule(module string) {
	i := sort.SearchStrings(s.Modules, module)
	s.Modules = append(s.Modules, "")
	copy(s.Modules[i+1:], s.Modules[i:])
	s.Modules[i] = module
}

func (s *ComplianceStats) RemoveModule(module string) {
	i := sort.SearchStrings(s.Modules, module)
	if i < len(s.Modules) && s.Modules[i] == module {
		s.Modules = append(s.Modules[:i], s.Modules[i+1:]...)
	}
}
