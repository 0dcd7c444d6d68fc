// Package orderbook maintains the local, price-ordered replica of one
// symbol's depth ladder: snapshot replacement, incremental delta
// application, zero-quantity deletion and top-N truncation.
//
// The ladder is a pair of ordered trees (tidwall/btree) rather than the
// teacher's intrusive linked-list-backed matching engine, this client never
// matches orders, it only ever replaces or upserts levels by price, which an
// ordered map already does in O(log n).
package orderbook

import (
	"encoding/json"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/Adityaakr/k-blackbox/internal/domain"
)

var decimalTwo = decimal.NewFromInt(2)

func lessAscending(a, b domain.Level) bool  { return a.Price.Cmp(b.Price) < 0 }
func lessDescending(a, b domain.Level) bool { return a.Price.Cmp(b.Price) > 0 }

// Book is one symbol's depth ladder. Bids are kept in descending price order
// (best bid first), asks in ascending price order (best ask first); both are
// capped at Depth after every mutation.
type Book struct {
	mu     sync.RWMutex
	symbol string
	depth  int
	bids   *btree.BTreeG[domain.Level]
	asks   *btree.BTreeG[domain.Level]
}

// New creates an empty book for symbol, capped at depth levels per side.
func New(symbol string, depth int) *Book {
	return &Book{
		symbol: symbol,
		depth:  depth,
		bids:   btree.NewBTreeG[domain.Level](lessDescending),
		asks:   btree.NewBTreeG[domain.Level](lessAscending),
	}
}

// Symbol returns the book's trading symbol.
func (b *Book) Symbol() string { return b.symbol }

// Depth returns the configured maximum levels retained per side.
func (b *Book) Depth() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.depth
}

// SetDepth reconfigures the maximum levels retained per side and immediately
// re-truncates both ladders to the new bound.
func (b *Book) SetDepth(depth int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.depth = depth
	b.truncateLocked()
}

// ApplySnapshot atomically replaces both ladders. Levels with quantity == 0
// are pre-filtered; there is no ordering validation beyond what the ordered
// container itself enforces.
func (b *Book) ApplySnapshot(bids, asks []domain.Level) {
	newBids := btree.NewBTreeG[domain.Level](lessDescending)
	newAsks := btree.NewBTreeG[domain.Level](lessAscending)
	for _, lvl := range bids {
		if lvl.Qty.Sign() > 0 {
			newBids.Set(lvl)
		}
	}
	for _, lvl := range asks {
		if lvl.Qty.Sign() > 0 {
			newAsks.Set(lvl)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids = newBids
	b.asks = newAsks
	b.resolveCrossingLocked()
	b.truncateLocked()
}

// ApplyUpdate applies one logical delta: for each level, a positive quantity
// upserts it and a zero quantity removes it (a missing level is a no-op).
// Both sides of the delta are applied, any resulting crossing resolved, and
// the book re-truncated, before the lock is released, no reader can observe
// a partially applied delta, a crossed book, or one that violates the depth
// bound.
func (b *Book) ApplyUpdate(bids, asks []domain.Level) {
	b.mu.Lock()
	defer b.mu.Unlock()
	applySide(b.bids, bids)
	applySide(b.asks, asks)
	b.resolveCrossingLocked()
	b.truncateLocked()
}

// resolveCrossingLocked restores min_ask > max_bid when a delta has
// transiently crossed the book (spec §3 invariant (c)). Each pass first
// evicts bid levels at or above the current best ask, then evicts ask
// levels at or below the resulting best bid; repeated until stable, since
// either eviction can expose a new best price on the side it didn't touch.
// Callers must hold b.mu for writing.
func (b *Book) resolveCrossingLocked() {
	for {
		bestAsk, hasAsk := b.asks.Min()
		evictedBid := false
		if hasAsk {
			evictedBid = evictAtOrPast(b.bids, bestAsk.Price, func(p, bound decimal.Decimal) bool {
				return p.GreaterThanOrEqual(bound)
			})
		}

		bestBid, hasBid := b.bids.Min()
		evictedAsk := false
		if hasBid {
			evictedAsk = evictAtOrPast(b.asks, bestBid.Price, func(p, bound decimal.Decimal) bool {
				return p.LessThanOrEqual(bound)
			})
		}

		if !evictedBid && !evictedAsk {
			return
		}
	}
}

// evictAtOrPast deletes every level in tree whose price satisfies cross
// against bound, returning whether anything was deleted.
func evictAtOrPast(tree *btree.BTreeG[domain.Level], bound decimal.Decimal, cross func(price, bound decimal.Decimal) bool) bool {
	var evict []domain.Level
	tree.Scan(func(item domain.Level) bool {
		if cross(item.Price, bound) {
			evict = append(evict, item)
		}
		return true
	})
	for _, lvl := range evict {
		tree.Delete(lvl)
	}
	return len(evict) > 0
}

func applySide(tree *btree.BTreeG[domain.Level], deltas []domain.Level) {
	for _, lvl := range deltas {
		if lvl.Qty.Sign() > 0 {
			tree.Set(lvl)
		} else {
			tree.Delete(lvl)
		}
	}
}

// truncateLocked retains only the depth best levels of each side. Callers
// must hold b.mu for writing.
func (b *Book) truncateLocked() {
	truncateTree(b.bids, b.depth)
	truncateTree(b.asks, b.depth)
}

func truncateTree(tree *btree.BTreeG[domain.Level], depth int) {
	if depth <= 0 || tree.Len() <= depth {
		return
	}
	var evict []domain.Level
	i := 0
	tree.Scan(func(item domain.Level) bool {
		if i >= depth {
			evict = append(evict, item)
		}
		i++
		return true
	})
	for _, lvl := range evict {
		tree.Delete(lvl)
	}
}

// BestBid returns the highest bid level, if any.
func (b *Book) BestBid() (domain.Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.Min()
}

// BestAsk returns the lowest ask level, if any.
func (b *Book) BestAsk() (domain.Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.asks.Min()
}

// Spread returns best ask minus best bid, or false if either side is empty.
func (b *Book) Spread() (spread, bestBid, bestAsk domain.Level, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bid, hasBid := b.bids.Min()
	ask, hasAsk := b.asks.Min()
	if !hasBid || !hasAsk {
		return domain.Level{}, domain.Level{}, domain.Level{}, false
	}
	return domain.Level{Price: ask.Price.Sub(bid.Price)}, bid, ask, true
}

// Mid returns the midpoint of best bid and best ask, or false if either side
// is empty.
func (b *Book) Mid() (mid domain.Level, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bid, hasBid := b.bids.Min()
	ask, hasAsk := b.asks.Min()
	if !hasBid || !hasAsk {
		return domain.Level{}, false
	}
	two := decimalTwo
	return domain.Level{Price: bid.Price.Add(ask.Price).Div(two)}, true
}

// TopNAsks returns up to n asks in ascending price order (best ask first).
// n <= 0 returns all retained asks.
func (b *Book) TopNAsks(n int) []domain.Level {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return topN(b.asks, n)
}

// TopNBids returns up to n bids in descending price order (best bid first).
// n <= 0 returns all retained bids.
func (b *Book) TopNBids(n int) []domain.Level {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return topN(b.bids, n)
}

func topN(tree *btree.BTreeG[domain.Level], n int) []domain.Level {
	out := make([]domain.Level, 0, tree.Len())
	i := 0
	tree.Scan(func(item domain.Level) bool {
		if n > 0 && i >= n {
			return false
		}
		out = append(out, item)
		i++
		return true
	})
	return out
}

// Len returns the number of retained bid and ask levels.
func (b *Book) Len() (bids, asks int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.Len(), b.asks.Len()
}

// jsonLevel is the wire-friendly [price, qty] pair used by SnapshotJSON and
// the status surface's book_slice view.
type jsonLevel [2]string

// Snapshot is an immutable, independently readable copy of a book at one
// instant, safe to hand to a reader goroutine without holding any lock.
type Snapshot struct {
	Symbol string
	Bids   []domain.Level
	Asks   []domain.Level
}

// TakeSnapshot copies the full retained ladder out from under the lock.
func (b *Book) TakeSnapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Snapshot{
		Symbol: b.symbol,
		Bids:   topN(b.bids, 0),
		Asks:   topN(b.asks, 0),
	}
}

// SnapshotJSON renders the current top-of-book to the wire-friendly
// {bids:[[price,qty]...], asks:[[price,qty]...]} shape used by book_slice.
func (b *Book) SnapshotJSON(limit int) ([]byte, error) {
	b.mu.RLock()
	bids := topN(b.bids, limit)
	asks := topN(b.asks, limit)
	b.mu.RUnlock()

	out := struct {
		Bids []jsonLevel `json:"bids"`
		Asks []jsonLevel `json:"asks"`
	}{
		Bids: make([]jsonLevel, len(bids)),
		Asks: make([]jsonLevel, len(asks)),
	}
	for i, lvl := range bids {
		out.Bids[i] = jsonLevel{lvl.Price.String(), lvl.Qty.String()}
	}
	for i, lvl := range asks {
		out.Asks[i] = jsonLevel{lvl.Price.String(), lvl.Qty.String()}
	}
	return json.Marshal(out)
}
