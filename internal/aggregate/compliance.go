package aggregate

import (
	"LedgerStats/internal/event"
	"LedgerStats/internal/state"
	"LedgerStats/internal/store"
)

func (a *Aggregator) compliance(c *Context) error {
	tx := c.Tx
	switch e := c.Event.(type) {
	case *event.ComplianceModuleAdded:
		cs := complianceStats(tx, e.Token)
		if cs.HasModule(e.Module) {
			return duplicate("module %s already on token %s", e.Module, e.Token)
		}
		cs.AddModule(e.Module)
		cs.ModulesAdded++
		cs.ModulesCount = int64(len(cs.Modules))
		tx.Put(cs)

	case *event.ComplianceModuleRemoved:
		cs := complianceStats(tx, e.Token)
		if !cs.HasModule(e.Module) {
			return unknown("module %s on token %s", e.Module, e.Token)
		}
		cs.RemoveModule(e.Module)
		cs.ModulesRemoved++
		cs.ModulesCount = int64(len(cs.Modules))
		tx.Put(cs)

	case *event.ComplianceParamsUpdated:
		cs := complianceStats(tx, e.Token)
		if !cs.HasModule(e.Module) {
			return unknown("module %s on token %s", e.Module, e.Token)
		}
		cs.ParameterUpdates++
		tx.Put(cs)
	}
	return nil
}

func complianceStats(tx *store.Tx, token string) *state.ComplianceStats {
	if row, ok := tx.Get(state.KindComplianceStats, token); ok {
		return row.(*state.ComplianceStats)
	}
	return &state.ComplianceStats{Token: token, Modules: []string{}}
}
