// Package matching implements the two matching procedures — fixing and
// continuous trading — and the apply_fill subroutine they share. Grounded
// in the reference market engine's buy_cmp/sell_cmp priority and
// process_fixing/process_continuous_trading control flow, with the
// reference's recursive re-invocation converted to a bounded forward walk
// (see REDESIGN FLAGS) and its ad-hoc processing flag replaced by
// golang.org/x/sync/singleflight keyed per security.
package matching

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/stockexchange/matchd/internal/book"
	"github.com/stockexchange/matchd/internal/clock"
	"github.com/stockexchange/matchd/internal/model"
	"github.com/stockexchange/matchd/internal/store"
)

// Clock lets callers inject a deterministic time source for tests; in
// production it is clock.Now.
type Clock func() clock.Time

// Persister is the narrow slice of the persistence adapter apply_fill
// depends on (§4.2) — small enough that tests can fake it without a live
// MongoDB instance.
type Persister interface {
	ApplyFill(ctx context.Context, p store.ApplyFillParams) error
}

// Engine owns the live order books for every security and runs matching
// passes against them.
type Engine struct {
	st         Persister
	booksMu    sync.RWMutex
	books      map[uint64]*book.Book
	orderIDs   *clock.Allocator
	msgIDs     *clock.Allocator
	now        Clock
	continuous singleflight.Group
}

// New creates a matching engine with no books; Book creates each security's
// book on first use.
func New(st Persister, orderIDs, msgIDs *clock.Allocator, now Clock) *Engine {
	return &Engine{
		st:       st,
		books:    make(map[uint64]*book.Book),
		orderIDs: orderIDs,
		msgIDs:   msgIDs,
		now:      now,
	}
}

// Book returns (creating if absent) the live book for a security.
func (e *Engine) Book(actionID uint64) *book.Book {
	e.booksMu.Lock()
	defer e.booksMu.Unlock()
	b, ok := e.books[actionID]
	if !ok {
		b = book.New(actionID)
		e.books[actionID] = b
	}
	return b
}

// Securities returns every security id with a live book.
func (e *Engine) Securities() []uint64 {
	e.booksMu.RLock()
	defer e.booksMu.RUnlock()
	out := make([]uint64, 0, len(e.books))
	for id := range e.books {
		out = append(out, id)
	}
	return out
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// applyFill is the shared transaction-application subroutine (§4.5). It
// persists the fill atomically through the store, then reconciles the live
// book: both original resting orders are removed, and any residual with
// positive remaining quantity is inserted under a freshly allocated id.
// Returns the possibly-new residual orders so the caller's walk can keep
// matching against them without re-snapshotting.
func (e *Engine) applyFill(ctx context.Context, b *book.Book, buy, sell *model.Order, qty int64) (buyResidual, sellResidual *model.Order, err error) {
	if qty <= 0 {
		return nil, nil, fmt.Errorf("matching: apply_fill called with non-positive qty %d", qty)
	}

	price := sell.Price.Value()
	if sell.Price.IsMarket() {
		// A Market sell has no limit of its own; the resting buyer's limit
		// is the print price.
		price = buy.Price.Value()
	}
	now := e.now()

	if buy.Remaining-qty > 0 {
		buyResidual = &model.Order{
			ID: e.orderIDs.Next(), ClientID: buy.ClientID, ActionID: buy.ActionID,
			Side: model.Buy, Trigger: buy.Trigger, Price: buy.Price,
			LowerBand: buy.LowerBand, UpperBand: buy.UpperBand,
			Quantity: buy.Remaining - qty, Remaining: buy.Remaining - qty,
			OrderTime: buy.OrderTime, ExpiresAt: buy.ExpiresAt,
		}
	}
	if sell.Remaining-qty > 0 {
		sellResidual = &model.Order{
			ID: e.orderIDs.Next(), ClientID: sell.ClientID, ActionID: sell.ActionID,
			Side: model.Sell, Trigger: sell.Trigger, Price: sell.Price,
			LowerBand: sell.LowerBand, UpperBand: sell.UpperBand,
			Quantity: sell.Remaining - qty, Remaining: sell.Remaining - qty,
			OrderTime: sell.OrderTime, ExpiresAt: sell.ExpiresAt,
		}
	}

	params := store.ApplyFillParams{
		BuyOrderID: buy.ID, SellOrderID: sell.ID,
		BuyerID: buy.ClientID, SellerID: sell.ClientID,
		ActionID: buy.ActionID, Quantity: qty, Price: price, Time: now,
		BuyResidual: buyResidual, SellResidual: sellResidual,
		BuyCompletedID: e.orderIDs.Next(), SellCompletedID: e.orderIDs.Next(),
		MessageID: e.msgIDs.Next(),
	}
	if err := e.st.ApplyFill(ctx, params); err != nil {
		return nil, nil, fmt.Errorf("matching: apply_fill: %w", err)
	}

	b.Remove(buy.ID)
	b.Remove(sell.ID)
	if buyResidual != nil {
		b.Add(buyResidual)
	}
	if sellResidual != nil {
		b.Add(sellResidual)
	}

	return buyResidual, sellResidual, nil
}
