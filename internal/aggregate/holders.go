package aggregate

import (
	"math/big"

	"github.com/cespare/xxhash/v2"
)

// Holder is one non-zero balance in a token's ranking
type Holder struct {
	Account   string
	Balance   *big.Int // Exact base units; never mutated after insert
	FirstSeen int64
}

// before reports whether h ranks ahead of o: larger balance first, then
// earlier first-seen sequence, then account address.
func (h Holder) before(o Holder) bool {
	if c := h.Balance.Cmp(o.Balance); c != 0 {
		return c > 0
	}
	if h.FirstSeen != o.FirstSeen {
		return h.FirstSeen < o.FirstSeen
	}
	return h.Account < o.Account
}

type treapNode struct {
	holder   Holder
	priority uint64
	left     *treapNode
	right    *treapNode
	size     int64
	sum      *big.Int
}

func nodeSize(n *treapNode) int64 {
	if n == nil {
		return 0
	}
	return n.size
}

func nodeSum(n *treapNode) *big.Int {
	if n == nil {
		return new(big.Int)
	}
	return n.sum
}

func (n *treapNode) update() {
	n.size = 1 + nodeSize(n.left) + nodeSize(n.right)
	s := new(big.Int).Add(n.holder.Balance, nodeSum(n.left))
	n.sum = s.Add(s, nodeSum(n.right))
}

// split divides t into holders ranked before h and the rest.
func split(t *treapNode, h Holder) (*treapNode, *treapNode) {
	if t == nil {
		return nil, nil
	}
	if t.holder.before(h) {
		l, r := split(t.right, h)
		t.right = l
		t.update()
		return t, r
	}
	l, r := split(t.left, h)
	t.left = r
	t.update()
	return l, t
}

func merge(a, b *treapNode) *treapNode {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a.priority > b.priority {
		a.right = merge(a.right, b)
		a.update()
		return a
	}
	b.left = merge(a, b.left)
	b.update()
	return b
}

func remove(t *treapNode, h Holder) *treapNode {
	if t == nil {
		return nil
	}
	if t.holder.Account == h.Account {
		return merge(t.left, t.right)
	}
	if h.before(t.holder) {
		t.left = remove(t.left, h)
	} else {
		t.right = remove(t.right, h)
	}
	t.update()
	return t
}

// Holders is an order-statistic treap over a token's non-zero balances,
// ranked by Holder.before. Priorities hash the account address, so the
// tree shape depends only on its contents.
type Holders struct {
	root  *treapNode
	index map[string]Holder
}

func NewHolders() *Holders {
	return &Holders{index: make(map[string]Holder)}
}

func (hs *Holders) Len() int64 {
	return nodeSize(hs.root)
}

// Total returns the sum of all balances.
func (hs *Holders) Total() *big.Int {
	return new(big.Int).Set(nodeSum(hs.root))
}

func (hs *Holders) Get(account string) (Holder, bool) {
	h, ok := hs.index[account]
	return h, ok
}

// Set places account at balance, removing it when balance is zero.
// It returns an undo that restores the previous position.
func (hs *Holders) Set(account string, balance *big.Int, firstSeen int64) (undo func()) {
	prev, had := hs.index[account]
	hs.set(account, balance, firstSeen)
	return func() {
		if had {
			hs.set(prev.Account, prev.Balance, prev.FirstSeen)
		} else {
			hs.set(account, new(big.Int), 0)
		}
	}
}

func (hs *Holders) set(account string, balance *big.Int, firstSeen int64) {
	if prev, ok := hs.index[account]; ok {
		hs.root = remove(hs.root, prev)
		delete(hs.index, account)
	}
	if balance.Sign() <= 0 {
		return
	}
	h := Holder{Account: account, Balance: new(big.Int).Set(balance), FirstSeen: firstSeen}
	n := &treapNode{holder: h, priority: xxhash.Sum64String(account)}
	n.update()
	l, r := split(hs.root, h)
	hs.root = merge(merge(l, n), r)
	hs.index[account] = h
}

// Max returns the largest balance, or zero when empty.
func (hs *Holders) Max() *big.Int {
	n := hs.root
	if n == nil {
		return new(big.Int)
	}
	for n.left != nil {
		n = n.left
	}
	return n.holder.Balance
}

// CountSumAbove returns how many holders have a balance strictly greater
// than threshold, and their summed balance. Those holders form a prefix of
// the ranking.
func (hs *Holders) CountSumAbove(threshold *big.Int) (int64, *big.Int) {
	var count int64
	sum := new(big.Int)
	n := hs.root
	for n != nil {
		if n.holder.Balance.Cmp(threshold) > 0 {
			count += nodeSize(n.left) + 1
			sum.Add(sum, nodeSum(n.left))
			sum.Add(sum, n.holder.Balance)
			n = n.right
		} else {
			n = n.left
		}
	}
	return count, sum
}

// Top returns the first n holders in rank order.
func (hs *Holders) Top(n int) []Holder {
	out := make([]Holder, 0, n)
	var walk func(*treapNode) bool
	walk = func(t *treapNode) bool {
		if t == nil {
			return true
		}
		if !walk(t.left) {
			return false
		}
		if len(out) == n {
			return false
		}
		out = append(out, t.holder)
		return walk(t.right)
	}
	walk(hs.root)
	return out
}

// Each visits every holder in rank order.
func (hs *Holders) Each(fn func(Holder)) {
	var walk func(*treapNode)
	walk = func(t *treapNode) {
		if t == nil {
			return
		}
		walk(t.left)
		fn(t.holder)
		walk(t.right)
	}
	walk(hs.root)
}

// Snapshot returns all holders in rank order.
func (hs *Holders) Snapshot() []Holder {
	out := make([]Holder, 0, hs.Len())
	hs.Each(func(h Holder) { out = append(out, h) })
	return out
}
