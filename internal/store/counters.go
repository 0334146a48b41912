package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CounterKind names one of the identifier spaces the allocator tracks.
type CounterKind string

const (
	CounterOrders  CounterKind = "order_id_counter"
	CounterClients CounterKind = "client_id_counter"
	CounterActions CounterKind = "action_id_counter"
	CounterMsgs    CounterKind = "message_id_counter"
)

// LoadCounter reads the last persisted value for a counter, 0 if never set.
func (s *Store) LoadCounter(ctx context.Context, kind CounterKind) (uint64, error) {
	var doc struct {
		Value uint64 `bson:"value"`
	}
	err := s.db.Collection("sim_state").FindOne(ctx, bson.M{"key": string(kind)}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: load counter %s: %w", kind, err)
	}
	return doc.Value, nil
}

// SaveCounter persists the current value for a counter.
func (s *Store) SaveCounter(ctx context.Context, kind CounterKind, value uint64) error {
	_, err := s.db.Collection("sim_state").UpdateOne(ctx,
		bson.M{"key": string(kind)},
		bson.M{"$set": bson.M{"key": string(kind), "value": value}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("store: save counter %s: %w", kind, err)
	}
	return nil
}
