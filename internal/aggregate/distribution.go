package aggregate

import (
	"math/big"

	fpmath "LedgerStats/internal/math"
	"LedgerStats/internal/state"
)

// distribution repositions every changed balance in the token's ranking and
// rebuilds the bucket histogram and top-holder list from it.
func (a *Aggregator) distribution(c *Context) error {
	tok := c.Token
	moved := false
	hs := a.Holders(tok.Address)
	for _, ch := range c.Changes {
		if ch.Before.Equal(ch.After) {
			continue
		}
		undo := hs.Set(ch.Account, ch.After.Exact(), ch.FirstSeen)
		c.Tx.OnRollback(undo)
		moved = true
	}
	if !moved {
		return nil
	}

	ts := tokenStats(c.Tx, tok)
	c.Tx.Put(BuildDistribution(tok.Address, tok.Decimals, hs, ts.TotalSupply))
	return nil
}

// BuildDistribution derives the distribution row from a ranking. Bucket
// membership uses four prefix queries against floor(max*p/100), so a
// change of the maximum never rescans the holders.
func BuildDistribution(token string, decimals uint8, hs *Holders, supply fpmath.ScaledDecimal) *state.TokenDistributionStats {
	d := state.NewTokenDistributionStats(token, decimals)
	if hs.Len() == 0 {
		return d
	}

	largest := hs.Max()
	total := hs.Len()
	totalSum := hs.Total()

	// countLE[i], sumLE[i]: holders with balance <= floor(max*bound_i/100)
	var countLE [len(state.BucketBounds)]int64
	var sumLE [len(state.BucketBounds)]*big.Int
	hundred := big.NewInt(100)
	for i, p := range state.BucketBounds {
		threshold := new(big.Int).Mul(largest, big.NewInt(p))
		threshold.Quo(threshold, hundred)
		above, aboveSum := hs.CountSumAbove(threshold)
		countLE[i] = total - above
		sumLE[i] = new(big.Int).Sub(totalSum, aboveSum)
	}

	prevCount := int64(0)
	prevSum := new(big.Int)
	for i := range d.Buckets {
		count, sum := total, totalSum
		if i < len(countLE) {
			count, sum = countLE[i], sumLE[i]
		}
		d.Buckets[i].HoldersCount = count - prevCount
		d.Buckets[i].Value = fpmath.New(new(big.Int).Sub(sum, prevSum), decimals)
		prevCount, prevSum = count, sum
	}

	top := hs.Top(state.TopHoldersMax)
	if len(top) == state.TopHoldersMax && top[state.TopHoldersMax-1].Balance.Cmp(top[state.TopHoldersRanked-1].Balance) != 0 {
		top = top[:state.TopHoldersRanked]
	}
	topSum := fpmath.Zero(decimals)
	d.TopHolders = make([]state.TopHolder, len(top))
	for i, h := range top {
		bal := fpmath.New(h.Balance, decimals)
		d.TopHolders[i] = state.TopHolder{Rank: i + 1, Account: h.Account, Balance: bal}
		if i < state.TopHoldersRanked {
			topSum = topSum.Add(bal)
		}
	}
	d.PercentageOwnedByTop5Holders = topSum.Percentage(supply, fpmath.PercentClamped)
	return d
}
