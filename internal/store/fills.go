package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/stockexchange/matchd/internal/clock"
	"github.com/stockexchange/matchd/internal/model"
)

// ApplyFillParams carries everything one apply_fill invocation needs to
// persist atomically: the balance/portfolio moves, the pending-row
// transitions, and the audit trail. The matching engine assigns residual
// and completed-row ids (via the identifier allocator) before calling this,
// so the store stays a pure persistence concern.
type ApplyFillParams struct {
	BuyOrderID, SellOrderID uint64
	BuyerID, SellerID       uint64
	ActionID                uint64
	Quantity                int64
	Price                   float64
	Time                    clock.Time

	BuyResidual  *model.Order // nil if the buy order fully filled
	SellResidual *model.Order // nil if the sell order fully filled

	BuyCompletedID  uint64
	SellCompletedID uint64
	MessageID       uint64
}

// ApplyFill persists one match in a single transaction: debit/credit
// balances, move shares, delete the consumed pending rows, reinsert any
// residuals under their new ids, append two completed-order rows, and
// append one TRANSACTION message. All six steps commit together so a crash
// mid-fill can never leave a half-applied trade (§4.5).
func (s *Store) ApplyFill(ctx context.Context, p ApplyFillParams) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("store: apply_fill start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc context.Context) (any, error) {
		notional := float64(p.Quantity) * p.Price
		actionKey := keyOf(p.ActionID)

		if _, err := s.db.Collection("clients").UpdateOne(sc,
			bson.M{"client_id": p.BuyerID},
			bson.M{
				"$inc": bson.M{"balance": -notional, "portfolio." + actionKey: p.Quantity},
			},
		); err != nil {
			return nil, fmt.Errorf("debit buyer %d: %w", p.BuyerID, err)
		}

		if _, err := s.db.Collection("clients").UpdateOne(sc,
			bson.M{"client_id": p.SellerID},
			bson.M{
				"$inc": bson.M{"balance": notional, "portfolio." + actionKey: -p.Quantity},
			},
		); err != nil {
			return nil, fmt.Errorf("credit seller %d: %w", p.SellerID, err)
		}

		if _, err := s.db.Collection("orders").DeleteOne(sc, bson.M{"order_id": p.BuyOrderID, "status": byte(model.StatusPending)}); err != nil {
			return nil, fmt.Errorf("delete buy pending row %d: %w", p.BuyOrderID, err)
		}
		if _, err := s.db.Collection("orders").DeleteOne(sc, bson.M{"order_id": p.SellOrderID, "status": byte(model.StatusPending)}); err != nil {
			return nil, fmt.Errorf("delete sell pending row %d: %w", p.SellOrderID, err)
		}

		if p.BuyResidual != nil {
			p.BuyResidual.Status = model.StatusPending
			if _, err := s.db.Collection("orders").InsertOne(sc, toOrderDoc(p.BuyResidual)); err != nil {
				return nil, fmt.Errorf("insert buy residual %d: %w", p.BuyResidual.ID, err)
			}
		}
		if p.SellResidual != nil {
			p.SellResidual.Status = model.StatusPending
			if _, err := s.db.Collection("orders").InsertOne(sc, toOrderDoc(p.SellResidual)); err != nil {
				return nil, fmt.Errorf("insert sell residual %d: %w", p.SellResidual.ID, err)
			}
		}

		buyCompleted := completedRow(p.BuyCompletedID, p.BuyerID, p.ActionID, model.Buy, p.Quantity, p.Price, p.Time)
		if _, err := s.db.Collection("orders").InsertOne(sc, toOrderDoc(&buyCompleted)); err != nil {
			return nil, fmt.Errorf("insert buy completed row %d: %w", p.BuyCompletedID, err)
		}
		sellCompleted := completedRow(p.SellCompletedID, p.SellerID, p.ActionID, model.Sell, p.Quantity, p.Price, p.Time)
		if _, err := s.db.Collection("orders").InsertOne(sc, toOrderDoc(&sellCompleted)); err != nil {
			return nil, fmt.Errorf("insert sell completed row %d: %w", p.SellCompletedID, err)
		}

		msg := model.Message{
			ID: p.MessageID, Sender: model.SenderServer, Type: model.MsgTransaction,
			Payload: fmt.Sprintf("qty=%d action=%d price=%.2f buyer=%d seller=%d", p.Quantity, p.ActionID, p.Price, p.BuyerID, p.SellerID),
			Time:    p.Time,
		}
		if _, err := s.db.Collection("messages").InsertOne(sc, toMessageDoc(msg)); err != nil {
			return nil, fmt.Errorf("append transaction message: %w", err)
		}

		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("store: apply_fill transaction: %w", err)
	}
	return nil
}

func completedRow(id, clientID, actionID uint64, side model.Side, qty int64, price float64, at clock.Time) model.Order {
	return model.Order{
		ID: id, ClientID: clientID, ActionID: actionID, Side: side,
		Trigger: model.TriggerLimit, Price: model.LimitPrice(price),
		LowerBand: model.LimitPrice(0), UpperBand: model.LimitPrice(0),
		Quantity: qty, Remaining: 0,
		OrderTime: at, ExpiresAt: clock.NeverExpires(),
		Status: model.StatusCompleted,
	}
}
