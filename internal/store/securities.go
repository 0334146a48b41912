package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/stockexchange/matchd/internal/clock"
	"github.com/stockexchange/matchd/internal/model"
)

// GetAction fetches a security by id.
func (s *Store) GetAction(ctx context.Context, id uint64) (*model.Security, error) {
	var d actionDoc
	err := s.db.Collection("actions").FindOne(ctx, bson.M{"action_id": id}).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return nil, ErrUnknownAction
	}
	if err != nil {
		return nil, fmt.Errorf("store: get action %d: %w", id, err)
	}
	return fromActionDoc(d), nil
}

// GetActionByName fetches a security by its unique display name, used by
// the dispatcher's display command when the display type names an action.
func (s *Store) GetActionByName(ctx context.Context, name string) (*model.Security, error) {
	var d actionDoc
	err := s.db.Collection("actions").FindOne(ctx, bson.M{"name": name}).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return nil, ErrUnknownAction
	}
	if err != nil {
		return nil, fmt.Errorf("store: get action by name %q: %w", name, err)
	}
	return fromActionDoc(d), nil
}

// ListActions returns every security.
func (s *Store) ListActions(ctx context.Context) ([]*model.Security, error) {
	cur, err := s.db.Collection("actions").Find(ctx, emptyFilter)
	if err != nil {
		return nil, fmt.Errorf("store: list actions: %w", err)
	}
	defer cur.Close(ctx)

	var out []*model.Security
	for cur.Next(ctx) {
		var d actionDoc
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("store: decode action: %w", err)
		}
		out = append(out, fromActionDoc(d))
	}
	return out, cur.Err()
}

// UpsertAction creates a security, or — if action_id already exists — adds
// qty to its existing outstanding quantity rather than erroring. This is a
// direct carry-over of the reference admin path's add_action behavior (see
// design notes); it is not an accidental merge semantics.
func (s *Store) UpsertAction(ctx context.Context, id uint64, name string, qty int64, initialPrice float64, at clock.Time) error {
	existing, err := s.GetAction(ctx, id)
	if err != nil && err != ErrUnknownAction {
		return err
	}

	if existing != nil {
		newQty := existing.Quantity + qty
		_, err := s.db.Collection("actions").UpdateOne(ctx,
			bson.M{"action_id": id},
			bson.M{"$set": bson.M{"quantity": newQty}},
		)
		if err != nil {
			return fmt.Errorf("store: accumulate action %d quantity: %w", id, err)
		}
		return nil
	}

	doc := toActionDoc(&model.Security{
		ID: id, Name: name, Quantity: qty,
		History: []model.PricePoint{{Time: at, Price: initialPrice}},
	})
	_, err = s.db.Collection("actions").InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("store: insert action %d: %w", id, err)
	}
	return nil
}

// AppendPrice records a new tick in a security's price history.
func (s *Store) AppendPrice(ctx context.Context, actionID uint64, price float64, at clock.Time) error {
	point := pricePointDoc{DatePart: at.DatePart, IntradayPart: at.IntradayPart, Price: price}
	_, err := s.db.Collection("actions").UpdateOne(ctx,
		bson.M{"action_id": actionID},
		bson.M{"$push": bson.M{"history": point}},
	)
	if err != nil {
		return fmt.Errorf("store: append price for action %d: %w", actionID, err)
	}
	return nil
}

// LastPrice returns the tail of a security's price history, 0 if none.
func (s *Store) LastPrice(ctx context.Context, actionID uint64) (float64, error) {
	a, err := s.GetAction(ctx, actionID)
	if err != nil {
		return 0, err
	}
	return a.LastPrice(), nil
}

// replacePriceHistory overwrites history with a single entry, used by
// ResetPrices.
func (s *Store) replacePriceHistory(ctx context.Context, actionID uint64, last model.PricePoint) error {
	doc := pricePointDoc{DatePart: last.Time.DatePart, IntradayPart: last.Time.IntradayPart, Price: last.Price}
	_, err := s.db.Collection("actions").UpdateOne(ctx,
		bson.M{"action_id": actionID},
		bson.M{"$set": bson.M{"history": []pricePointDoc{doc}}},
	)
	if err != nil {
		return fmt.Errorf("store: reset price history for action %d: %w", actionID, err)
	}
	return nil
}

// MarketValue sums quantity * last_price across every security, matching
// the reference's get_market_value SQL aggregation exactly.
func (s *Store) MarketValue(ctx context.Context) (float64, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$project", Value: bson.M{
			"quantity":   1,
			"last_price": bson.M{"$arrayElemAt": bson.A{"$history.price", -1}},
		}}},
		bson.D{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"total": bson.M{"$sum": bson.M{"$multiply": bson.A{"$quantity", "$last_price"}}},
		}}},
	}
	cur, err := s.db.Collection("actions").Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("store: market value: %w", err)
	}
	defer cur.Close(ctx)

	var result struct {
		Total float64 `bson:"total"`
	}
	if cur.Next(ctx) {
		if err := cur.Decode(&result); err != nil {
			return 0, fmt.Errorf("store: decode market value: %w", err)
		}
	}
	return result.Total, cur.Err()
}
