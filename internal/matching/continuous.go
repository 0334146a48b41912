package matching

import (
	"context"

	"github.com/stockexchange/matchd/internal/model"
)

// TriggerContinuous attempts a single-flight continuous-trading pass for one
// security. If a pass for the same security is already running, this call
// collapses into that in-flight pass rather than queuing a duplicate one —
// the reference's ad-hoc `processing` boolean plus mutex, replaced with
// golang.org/x/sync/singleflight keyed by action id (§4.8, §9).
func (e *Engine) TriggerContinuous(ctx context.Context, actionID uint64) (fills int, err error) {
	key := actionKey(actionID)
	v, err, _ := e.continuous.Do(key, func() (any, error) {
		return e.RunContinuous(ctx, actionID)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func actionKey(actionID uint64) string {
	// A plain integer-to-string key; the security space is small enough
	// that a direct decimal key never collides.
	buf := make([]byte, 0, 20)
	if actionID == 0 {
		return "0"
	}
	for actionID > 0 {
		buf = append([]byte{byte('0' + actionID%10)}, buf...)
		actionID /= 10
	}
	return string(buf)
}

// RunContinuous matches an arriving MARKET order against resting orders on
// the opposite side: walk the buy side top to bottom, and for each buy walk
// the sell side top to bottom, applying a fill whenever both sides cross and
// have positive remaining, breaking the inner loop once the buy is
// exhausted (§4.5). Same forward-walk-to-quiescence approach as RunFixing,
// so no recursive re-invocation is needed when a fill creates a residual.
func (e *Engine) RunContinuous(ctx context.Context, actionID uint64) (fills int, err error) {
	b := e.Book(actionID)
	buys, sells := b.Snapshot()

	si := 0
	for bi := 0; bi < len(buys); bi++ {
		buy := buys[bi]
		if buy.Remaining <= 0 {
			continue
		}
		for si < len(sells) {
			sell := sells[si]
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

			if sellResidual != nil {
				sells[si] = sellResidual
			} else {
				si++
			}
			if buyResidual != nil {
				buy = buyResidual
				buys[bi] = buyResidual
			} else {
				break // this buy is exhausted; move to the next buy
			}
		}
	}

	return fills, nil
}
