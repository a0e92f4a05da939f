package core

import (
	"fmt"

	"LedgerStats/internal/aggregate"
	"LedgerStats/internal/event"
	"LedgerStats/internal/store"
)

// requirement names an entity an event must reference before any stage
// runs. Unmet requirements reject the event as malformed.
type requirement uint8

const (
	needToken requirement = 1 << iota
	needSchedule
)

// route declares the preconditions and stages for one event type.
type route struct {
	requires requirement
	stages   aggregate.StageSet
}

var (
	movementStages = aggregate.Stages(
		aggregate.StageBalances,
		aggregate.StageDistribution,
		aggregate.StageValuation,
		aggregate.StageBond,
		aggregate.StageCollateral,
		aggregate.StageYield,
	)
	freezeStages = aggregate.Stages(aggregate.StageBalances)
	claimStages  = aggregate.Stages(
		aggregate.StageClaims,
		aggregate.StageValuation,
		aggregate.StageCollateral,
	)
)

// routes maps each event type to its route.
var routes = map[event.EventType]route{
	// token lifecycle
	event.EventTypeTokenCreated: {
		stages: aggregate.Stages(aggregate.StageRegistry, aggregate.StageBond, aggregate.StageCollateral),
	},
	event.EventTypeTransfer:      {requires: needToken, stages: movementStages},
	event.EventTypeMintCompleted: {requires: needToken, stages: movementStages},
	event.EventTypeBurnCompleted: {requires: needToken, stages: movementStages},

	// freezes
	event.EventTypeFreezePartialTokens:   {requires: needToken, stages: freezeStages},
	event.EventTypeUnfreezePartialTokens: {requires: needToken, stages: freezeStages},
	event.EventTypeAddressFrozen:         {requires: needToken, stages: freezeStages},

	// identity claims
	event.EventTypeClaimAdded:   {stages: claimStages},
	event.EventTypeClaimChanged: {stages: claimStages},
	event.EventTypeClaimRemoved: {stages: claimStages},
	event.EventTypeClaimRevoked: {stages: claimStages},

	// compliance
	event.EventTypeComplianceModuleAdded:   {requires: needToken, stages: aggregate.Stages(aggregate.StageCompliance)},
	event.EventTypeComplianceModuleRemoved: {requires: needToken, stages: aggregate.Stages(aggregate.StageCompliance)},
	event.EventTypeComplianceParamsUpdated: {requires: needToken, stages: aggregate.Stages(aggregate.StageCompliance)},

	// yield
	event.EventTypeYieldScheduleSet: {
		requires: needToken,
		stages:   aggregate.Stages(aggregate.StageRegistry, aggregate.StageYield),
	},
	event.EventTypeYieldPeriodCompleted: {requires: needSchedule, stages: aggregate.Stages(aggregate.StageYield)},
	event.EventTypeYieldClaimed:         {requires: needSchedule, stages: aggregate.Stages(aggregate.StageYield)},

	// registries
	event.EventTypeTopicSchemeRegistered: {stages: aggregate.Stages(aggregate.StageTopicSchemes)},
	event.EventTypeTopicSchemeRemoved:    {stages: aggregate.Stages(aggregate.StageTopicSchemes)},
	event.EventTypeTrustedIssuerAdded:    {stages: aggregate.Stages(aggregate.StageTrustedIssuers)},
	event.EventTypeTrustedIssuerRemoved:  {stages: aggregate.Stages(aggregate.StageTrustedIssuers)},
}

// Routed reports whether et has a route. Used by the ingestion layer to
// reject subjects the engine cannot apply.
func Routed(et event.EventType) bool {
	_, ok := routes[et]
	return ok
}

// StagesFor returns the stages an event type runs, in pipeline order.
func StagesFor(et event.EventType) []aggregate.Stage {
	rt, ok := routes[et]
	if !ok {
		return nil
	}
	var out []aggregate.Stage
	for _, s := range aggregate.Pipeline {
		if rt.stages.Has(s) {
			out = append(out, s)
		}
	}
	return out
}

// resolve checks the route's requirements and loads the referenced token
// into the pipeline context.
func (rt route) resolve(tx *store.Tx, evt event.Event, c *aggregate.Context) error {
	if rt.requires&needToken != 0 {
		scoped, ok := evt.(event.TokenScoped)
		if !ok {
			return fmt.Errorf("%w: %s is not token scoped", event.ErrMalformed, evt.EventType())
		}
		tok, err := aggregate.ResolveToken(tx, scoped.TokenAddress())
		if err != nil {
			return err
		}
		c.Token = tok
	}
	if rt.requires&needSchedule != 0 {
		scoped, ok := evt.(event.ScheduleScoped)
		if !ok {
			return fmt.Errorf("%w: %s is not schedule scoped", event.ErrMalformed, evt.EventType())
		}
		if _, err := aggregate.ResolveSchedule(tx, scoped.ScheduleAddress()); err != nil {
			return err
		}
	}
	return nil
}

