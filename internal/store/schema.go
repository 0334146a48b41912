package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// EnsureIndexes creates idempotent indexes across every domain collection.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	type idx struct {
		collection string
		model      mongo.IndexModel
	}

	indexes := []idx{
		{"clients", mongo.IndexModel{Keys: bson.D{{Key: "client_id", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{"clients", mongo.IndexModel{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{"actions", mongo.IndexModel{Keys: bson.D{{Key: "action_id", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{"actions", mongo.IndexModel{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{"orders", mongo.IndexModel{Keys: bson.D{{Key: "order_id", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{"orders", mongo.IndexModel{Keys: bson.D{{Key: "action_id", Value: 1}, {Key: "status", Value: 1}}}},
		{"orders", mongo.IndexModel{Keys: bson.D{{Key: "client_id", Value: 1}, {Key: "status", Value: 1}}}},
		{"messages", mongo.IndexModel{Keys: bson.D{{Key: "message_id", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{"messages", mongo.IndexModel{Keys: bson.D{{Key: "client_id", Value: 1}, {Key: "message_type", Value: 1}}}},
		{"messages", mongo.IndexModel{Keys: bson.D{{Key: "date_part", Value: 1}, {Key: "intraday_part", Value: 1}}}},
		{"sim_state", mongo.IndexModel{Keys: bson.D{{Key: "key", Value: 1}}, Options: options.Index().SetUnique(true)}},
	}

	for _, i := range indexes {
		if _, err := db.Collection(i.collection).Indexes().CreateOne(ctx, i.model); err != nil {
			return fmt.Errorf("store: create index on %s: %w", i.collection, err)
		}
	}
	return nil
}
