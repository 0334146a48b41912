package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/stockexchange/matchd/internal/model"
)

// GetClient fetches a client by id. Returns ErrUnknownClient if absent.
func (s *Store) GetClient(ctx context.Context, id uint64) (*model.Client, error) {
	var d clientDoc
	err := s.db.Collection("clients").FindOne(ctx, bson.M{"client_id": id}).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return nil, ErrUnknownClient
	}
	if err != nil {
		return nil, fmt.Errorf("store: get client %d: %w", id, err)
	}
	return fromClientDoc(d), nil
}

// FindClientByNameAndPassword looks a client up by name and matches its
// stored encrypted_password against the provided blob byte-for-byte. The
// core never decrypts; the comparison is opaque, matching the reference's
// SQL blob-bind comparison. Returns ErrUnknownClient when the name itself
// does not exist and ErrWrongPassword when it does but the password blob
// does not match, so the dispatcher can distinguish the two auth failures.
func (s *Store) FindClientByNameAndPassword(ctx context.Context, name string, encryptedPassword []byte) (*model.Client, error) {
	var d clientDoc
	err := s.db.Collection("clients").FindOne(ctx, bson.M{"name": name}).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return nil, ErrUnknownClient
	}
	if err != nil {
		return nil, fmt.Errorf("store: find client by name %q: %w", name, err)
	}
	if len(d.Password) != len(encryptedPassword) {
		return nil, ErrWrongPassword
	}
	var diff byte
	for i := range d.Password {
		diff |= d.Password[i] ^ encryptedPassword[i]
	}
	if diff != 0 {
		return nil, ErrWrongPassword
	}
	return fromClientDoc(d), nil
}

// UpsertClient creates or replaces a client document wholesale.
func (s *Store) UpsertClient(ctx context.Context, c *model.Client) error {
	_, err := s.db.Collection("clients").UpdateOne(ctx,
		bson.M{"client_id": c.ID},
		bson.M{"$set": toClientDoc(c)},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("store: upsert client %d: %w", c.ID, err)
	}
	return nil
}

// AdjustBalance applies a signed delta to a client's cash balance —
// positive for deposit, negative for withdraw. The dispatcher is
// responsible for checking `balance + delta >= 0` before calling this for a
// withdrawal; this method performs the write unconditionally.
func (s *Store) AdjustBalance(ctx context.Context, clientID uint64, delta float64) error {
	res, err := s.db.Collection("clients").UpdateOne(ctx,
		bson.M{"client_id": clientID},
		bson.M{"$inc": bson.M{"balance": delta}},
	)
	if err != nil {
		return fmt.Errorf("store: adjust balance for client %d: %w", clientID, err)
	}
	if res.MatchedCount == 0 {
		return ErrUnknownClient
	}
	return nil
}

// DeleteClient removes a client and cascades through its pending/completed
// orders, mirroring the reference's remove_client cascade.
func (s *Store) DeleteClient(ctx context.Context, id uint64) error {
	if _, err := s.db.Collection("orders").DeleteMany(ctx, bson.M{"client_id": id}); err != nil {
		return fmt.Errorf("store: cascade delete orders for client %d: %w", id, err)
	}
	res, err := s.db.Collection("clients").DeleteOne(ctx, bson.M{"client_id": id})
	if err != nil {
		return fmt.Errorf("store: delete client %d: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return ErrUnknownClient
	}
	return nil
}
