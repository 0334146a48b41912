package matching

import (
	"context"

	"github.com/stockexchange/matchd/internal/model"
)

// RunFixingAll runs one call-auction fixing pass across every security with
// a live book, used at OpenFixing and CloseFixing (§4.6).
func (e *Engine) RunFixingAll(ctx context.Context) error {
	for _, actionID := range e.Securities() {
		if _, err := e.RunFixing(ctx, actionID); err != nil {
			return err
		}
	}
	return nil
}

// RunFixing runs the call-auction procedure for one security: walk the
// sorted buy and sell sides from the top, matching while the best buy
// crosses the best sell, applying each fill as it's found. The reference
// implementation snapshots the book, matches, and recursively re-invokes
// itself whenever a residual was added; here the walk itself carries
// forward through residuals in a single pass (§9, §4.5 step 5), so no
// explicit recursion or extra outer loop is needed — the walk already
// terminates only once no crossing pair remains, which is the same
// quiescence condition the recursion converges to.
func (e *Engine) RunFixing(ctx context.Context, actionID uint64) (fills int, err error) {
	b := e.Book(actionID)
	buys, sells := b.Snapshot()

	bi, si := 0, 0
	for bi < len(buys) && si < len(sells) {
		buy, sell := buys[bi], sells[si]

		if buy.Remaining <= 0 {
			bi++
			continue
		}
		if sell.Remaining <= 0 {
			si++
			continue
		}
		if !model.Crosses(buy.Price, sell.Price) {
			break
		}

		qty := min64(buy.Remaining, sell.Remaining)
		buyResidual, sellResidual, err := e.applyFill(ctx, b, buy, sell, qty)
		if err != nil {
			return fills, err
		}
		fills++

		if buyResidual != nil {
			buys[bi] = buyResidual
		} else {
			bi++
		}
		if sellResidual != nil {
			sells[si] = sellResidual
		} else {
			si++
		}
	}

	return fills, nil
}
