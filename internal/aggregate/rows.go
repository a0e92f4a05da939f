package aggregate

import (
	"bytes"

	"LedgerStats/internal/event"
	"LedgerStats/internal/state"
	"LedgerStats/internal/store"
)

func accountStats(tx *store.Tx, account string) *state.AccountStats {
	if row, ok := tx.Get(state.KindAccountStats, account); ok {
		return row.(*state.AccountStats)
	}
	return state.NewAccountStats(account)
}

func tokenStats(tx *store.Tx, token *state.Token) *state.TokenStats {
	if row, ok := tx.Get(state.KindTokenStats, token.Address); ok {
		return row.(*state.TokenStats)
	}
	return state.NewTokenStats(token.Address, token.Decimals)
}

func systemStats(tx *store.Tx, system string) *state.SystemStats {
	if row, ok := tx.Get(state.KindSystemStats, system); ok {
		return row.(*state.SystemStats)
	}
	return state.NewSystemStats(system)
}

func tokenTypeStats(tx *store.Tx, system string, category event.TokenCategory) *state.TokenTypeStats {
	if row, ok := tx.Get(state.KindTokenTypeStats, state.TokenTypeKey(system, category)); ok {
		return row.(*state.TokenTypeStats)
	}
	return state.NewTokenTypeStats(system, category)
}

func systemRow(tx *store.Tx, system string) *state.System {
	if row, ok := tx.Get(state.KindSystem, system); ok {
		return row.(*state.System)
	}
	return &state.System{ID: system, Tokens: []string{}}
}

func denominationIndex(tx *store.Tx, asset string) *state.DenominationIndex {
	if row, ok := tx.Get(state.KindDenominationIndex, asset); ok {
		return row.(*state.DenominationIndex)
	}
	return &state.DenominationIndex{Asset: asset, Bonds: []string{}, Schedules: []string{}}
}

func lookupToken(tx *store.Tx, address string) (*state.Token, bool) {
	row, ok := tx.Get(state.KindToken, address)
	if !ok {
		return nil, false
	}
	return row.(*state.Token), true
}

func balanceOf(tx *store.Tx, token, account string) (*state.Balance, bool) {
	row, ok := tx.Get(state.KindBalance, state.BalanceKey(account, token))
	if !ok {
		return nil, false
	}
	return row.(*state.Balance), true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func appendUnique(list []string, v string) []string {
	if contains(list, v) {
		return list
	}
	return append(list, v)
}

// putIfChanged writes a derived row only when its encoding differs from the
// stored one, so refreshes that change nothing leave no snapshot behind.
func putIfChanged(tx *store.Tx, row state.Row) {
	if prev, ok := tx.Get(row.Kind(), row.Key()); ok {
		a, errA := state.EncodeRow(prev)
		b, errB := state.EncodeRow(row)
		if errA == nil && errB == nil && bytes.Equal(a.Data, b.Data) {
			return
		}
	}
	tx.Put(row)
}
