// Package book implements the per-security buy/sell order book with strict
// price-time priority. Adapted from the reference order-book model's
// sorted-insert/linear-scan-removal approach, dropping its price-level
// bucketing (MaxLevels) in favor of a single strictly-ordered sequence per
// side, since the specification's priority predicate has no notion of a
// price-level cap.
package book

import (
	"sort"
	"sync"

	"github.com/stockexchange/matchd/internal/model"
)

// Book holds the two resting sides for one security.
type Book struct {
	mu       sync.RWMutex
	ActionID uint64
	buys     []*model.Order
	sells    []*model.Order
}

// New creates an empty book for a security.
func New(actionID uint64) *Book {
	return &Book{ActionID: actionID}
}

// Add inserts an order at its sorted position on its side.
func (b *Book) Add(o *model.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.insert(o)
}

func (b *Book) insert(o *model.Order) {
	side := sideSlice(b, o.Side)
	idx := sort.Search(len(*side), func(i int) bool {
		return o.Less((*side)[i])
	})
	*side = append(*side, nil)
	copy((*side)[idx+1:], (*side)[idx:])
	(*side)[idx] = o
}

func sideSlice(b *Book, side model.Side) *[]*model.Order {
	if side == model.Buy {
		return &b.buys
	}
	return &b.sells
}

// Remove deletes the order with the given id from whichever side it rests
// on. Reports whether an order was found.
func (b *Book) Remove(orderID uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if removeFrom(&b.buys, orderID) {
		return true
	}
	return removeFrom(&b.sells, orderID)
}

func removeFrom(side *[]*model.Order, orderID uint64) bool {
	for i, o := range *side {
		if o.ID == orderID {
			*side = append((*side)[:i], (*side)[i+1:]...)
			return true
		}
	}
	return false
}

// BestBid returns the top resting buy order, nil if the side is empty.
func (b *Book) BestBid() *model.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.buys) == 0 {
		return nil
	}
	return b.buys[0]
}

// BestAsk returns the top resting sell order, nil if the side is empty.
func (b *Book) BestAsk() *model.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.sells) == 0 {
		return nil
	}
	return b.sells[0]
}

// BuyCount and SellCount report the resting order counts per side.
func (b *Book) BuyCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.buys)
}

func (b *Book) SellCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sells)
}

// Snapshot returns a defensive copy of both sides, already in priority
// order, for a matching pass to run against without holding the lock for
// the pass's full duration. The matcher replaces partially filled copies
// with their residual orders and writes residuals back into the live book
// itself.
func (b *Book) Snapshot() (buys, sells []*model.Order) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	buys = cloneSide(b.buys)
	sells = cloneSide(b.sells)
	return buys, sells
}

func cloneSide(side []*model.Order) []*model.Order {
	out := make([]*model.Order, len(side))
	for i, o := range side {
		cp := *o
		out[i] = &cp
	}
	return out
}

// AllOrders returns every resting order on both sides, buys first, then
// sells, each side in priority order.
func (b *Book) AllOrders() []*model.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*model.Order, 0, len(b.buys)+len(b.sells))
	out = append(out, b.buys...)
	out = append(out, b.sells...)
	return out
}
