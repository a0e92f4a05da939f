package aggregate

import (
	"LedgerStats/internal/event"
	"LedgerStats/internal/state"
	"LedgerStats/internal/store"
)

func (a *Aggregator) topicSchemes(c *Context) error {
	tx := c.Tx
	switch e := c.Event.(type) {
	case *event.TopicSchemeRegistered:
		if err := addMember(tx, e.Registry, state.MemberTopicScheme, e.Topic); err != nil {
			return err
		}
		s := topicSchemeStats(tx, e.Registry)
		s.Registered++
		s.Active++
		tx.Put(s)

	case *event.TopicSchemeRemoved:
		if err := removeMember(tx, e.Registry, state.MemberTopicScheme, e.Topic); err != nil {
			return err
		}
		s := topicSchemeStats(tx, e.Registry)
		s.Removed++
		s.Active--
		tx.Put(s)
	}
	return nil
}

func (a *Aggregator) trustedIssuers(c *Context) error {
	tx := c.Tx
	switch e := c.Event.(type) {
	case *event.TrustedIssuerAdded:
		if err := addMember(tx, e.Registry, state.MemberTrustedIssuer, e.Issuer); err != nil {
			return err
		}
		s := trustedIssuerStats(tx, e.Registry)
		s.Added++
		s.Active++
		tx.Put(s)

	case *event.TrustedIssuerRemoved:
		if err := removeMember(tx, e.Registry, state.MemberTrustedIssuer, e.Issuer); err != nil {
			return err
		}
		s := trustedIssuerStats(tx, e.Registry)
		s.Removed++
		s.Active--
		tx.Put(s)
	}
	return nil
}

func addMember(tx *store.Tx, registry, kind, member string) error {
	key := state.RegistryMemberKey(registry, kind, member)
	if _, ok := tx.Get(state.KindRegistryMember, key); ok {
		return duplicate("%s %s already in registry %s", kind, member, registry)
	}
	tx.Put(&state.RegistryMember{Registry: registry, MemberKind: kind, Member: member})
	return nil
}

func removeMember(tx *store.Tx, registry, kind, member string) error {
	key := state.RegistryMemberKey(registry, kind, member)
	if _, ok := tx.Get(state.KindRegistryMember, key); !ok {
		return unknown("%s %s in registry %s", kind, member, registry)
	}
	tx.Delete(state.KindRegistryMember, key)
	return nil
}

func topicSchemeStats(tx *store.Tx, registry string) *state.TopicSchemeStats {
	if row, ok := tx.Get(state.KindTopicSchemeStats, registry); ok {
		return row.(*state.TopicSchemeStats)
	}
	return &state.TopicSchemeStats{Registry: registry}
}

func trustedIssuerStats(tx *store.Tx, registry string) *state.TrustedIssuerStats {
	if row, ok := tx.Get(state.KindTrustedIssuerStats, registry); ok {
		return row.(*state.TrustedIssuerStats)
	}
	return &state.TrustedIssuerStats{Registry: registry}
}
