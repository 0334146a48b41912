package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/stockexchange/matchd/internal/clock"
	"github.com/stockexchange/matchd/internal/model"
)

// AppendMessage writes one audit log entry. Write-only from the core's
// point of view.
func (s *Store) AppendMessage(ctx context.Context, m model.Message) error {
	_, err := s.db.Collection("messages").InsertOne(ctx, toMessageDoc(m))
	if err != nil {
		return fmt.Errorf("store: append message: %w", err)
	}
	return nil
}

// ListAllMessages returns the entire log in chronological order, used for
// the shutdown debug dump (§4.9).
func (s *Store) ListAllMessages(ctx context.Context) ([]model.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "date_part", Value: 1}, {Key: "intraday_part", Value: 1}, {Key: "message_id", Value: 1}})
	cur, err := s.db.Collection("messages").Find(ctx, emptyFilter, opts)
	if err != nil {
		return nil, fmt.Errorf("store: list all messages: %w", err)
	}
	defer cur.Close(ctx)

	var out []model.Message
	for cur.Next(ctx) {
		var d messageDoc
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("store: decode message: %w", err)
		}
		out = append(out, fromMessageDoc(d))
	}
	return out, cur.Err()
}

// ConnectedClientsSince returns the set of client ids whose CLIENT_CONNECTED
// count exceeds their CLIENT_DISCONNECTED count among messages logged at or
// after launchTime, i.e. clients the shutdown audit must synthesize a
// disconnect for (§4.9).
func (s *Store) ConnectedClientsSince(ctx context.Context, launchTime clock.Time) ([]uint64, error) {
	pipeline := buildImbalancePipeline(launchTime)
	cur, err := s.db.Collection("messages").Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("store: connected clients since launch: %w", err)
	}
	defer cur.Close(ctx)

	var out []uint64
	for cur.Next(ctx) {
		var row struct {
			ClientID uint64 `bson:"_id"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, fmt.Errorf("store: decode imbalance row: %w", err)
		}
		out = append(out, row.ClientID)
	}
	return out, cur.Err()
}

func buildImbalancePipeline(launchTime clock.Time) bson.A {
	return bson.A{
		bson.M{"$match": bson.M{
			"$or": bson.A{
				bson.M{"date_part": bson.M{"$gt": launchTime.DatePart}},
				bson.M{"date_part": launchTime.DatePart, "intraday_part": bson.M{"$gte": launchTime.IntradayPart}},
			},
			"message_type": bson.M{"$in": bson.A{string(model.MsgClientConnected), string(model.MsgClientDisconnected)}},
		}},
		bson.M{"$group": bson.M{
			"_id": "$client_id",
			"connected": bson.M{"$sum": bson.M{
				"$cond": bson.A{bson.M{"$eq": bson.A{"$message_type", string(model.MsgClientConnected)}}, 1, 0},
			}},
			"disconnected": bson.M{"$sum": bson.M{
				"$cond": bson.A{bson.M{"$eq": bson.A{"$message_type", string(model.MsgClientDisconnected)}}, 1, 0},
			}},
		}},
		bson.M{"$match": bson.M{"$expr": bson.M{"$gt": bson.A{"$connected", "$disconnected"}}}},
	}
}
