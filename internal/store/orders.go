package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/stockexchange/matchd/internal/model"
)

// InsertPendingOrder persists a new order row as PENDING and, if trigger is
// not MARKET, does not touch the in-memory book (the caller owns that
// decision; the store only ever sees persisted rows).
func (s *Store) InsertPendingOrder(ctx context.Context, o *model.Order) error {
	o.Status = model.StatusPending
	_, err := s.db.Collection("orders").InsertOne(ctx, toOrderDoc(o))
	if err != nil {
		return fmt.Errorf("store: insert pending order %d: %w", o.ID, err)
	}
	return nil
}

// DeletePendingOrder removes a pending order row for a client. ApplyFill
// does not call it; it deletes the consumed pending rows inside its own
// transaction.
func (s *Store) DeletePendingOrder(ctx context.Context, clientID, orderID uint64) error {
	_, err := s.db.Collection("orders").DeleteOne(ctx, bson.M{"client_id": clientID, "order_id": orderID, "status": byte(model.StatusPending)})
	if err != nil {
		return fmt.Errorf("store: delete pending order %d: %w", orderID, err)
	}
	return nil
}

// MarkOrderCompleted records a completed-order row for the filled quantity.
// Completed rows are independent documents from the pending row they split
// off of — a partially filled parent produces several completed rows over
// its lifetime plus one residual pending row, matching the reference's
// "delete pending, insert residual with a new id, insert completed rows"
// sequence.
func (s *Store) MarkOrderCompleted(ctx context.Context, o *model.Order, filledQty int64, price float64) error {
	completed := *o
	completed.Quantity = filledQty
	completed.Remaining = 0
	completed.Status = model.StatusCompleted
	_, err := s.db.Collection("orders").InsertOne(ctx, toOrderDoc(&completed))
	if err != nil {
		return fmt.Errorf("store: insert completed order for parent %d: %w", o.ID, err)
	}
	return nil
}

// ListPendingOrders returns every resting pending order, optionally
// restricted to one security (actionID == 0 means all).
func (s *Store) ListPendingOrders(ctx context.Context, actionID uint64) ([]*model.Order, error) {
	filter := bson.M{"status": byte(model.StatusPending)}
	if actionID != 0 {
		filter["action_id"] = actionID
	}
	cur, err := s.db.Collection("orders").Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("store: list pending orders: %w", err)
	}
	defer cur.Close(ctx)

	var out []*model.Order
	for cur.Next(ctx) {
		var d orderDoc
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("store: decode pending order: %w", err)
		}
		out = append(out, fromOrderDoc(d))
	}
	return out, cur.Err()
}

// ListClientPendingOrders returns a client's own pending orders, used by the
// dispatcher's "display pending_orders" command.
func (s *Store) ListClientPendingOrders(ctx context.Context, clientID uint64) ([]*model.Order, error) {
	cur, err := s.db.Collection("orders").Find(ctx, bson.M{"client_id": clientID, "status": byte(model.StatusPending)})
	if err != nil {
		return nil, fmt.Errorf("store: list client pending orders: %w", err)
	}
	defer cur.Close(ctx)

	var out []*model.Order
	for cur.Next(ctx) {
		var d orderDoc
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("store: decode pending order: %w", err)
		}
		out = append(out, fromOrderDoc(d))
	}
	return out, cur.Err()
}

// ListCompletedOrders returns a client's completed-order rows, used by the
// dispatcher's "display completed_orders" command.
func (s *Store) ListCompletedOrders(ctx context.Context, clientID uint64) ([]*model.Order, error) {
	cur, err := s.db.Collection("orders").Find(ctx, bson.M{"client_id": clientID, "status": byte(model.StatusCompleted)})
	if err != nil {
		return nil, fmt.Errorf("store: list completed orders: %w", err)
	}
	defer cur.Close(ctx)

	var out []*model.Order
	for cur.Next(ctx) {
		var d orderDoc
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("store: decode completed order: %w", err)
		}
		out = append(out, fromOrderDoc(d))
	}
	return out, cur.Err()
}
