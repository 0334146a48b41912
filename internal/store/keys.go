package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/stockexchange/matchd/internal/crypto"
)

type keysDoc struct {
	Key []byte `bson:"key"`
	IV  []byte `bson:"iv"`
}

// GetOrGenerateKeys loads the single encryption_keys document, generating
// and persisting fresh key material via passphrase if absent — the same
// lazy-generate-on-first-use lifecycle as the reference's
// get_or_generate_crypted_keys.
func (s *Store) GetOrGenerateKeys(ctx context.Context, passphrase string) (crypto.KeyMaterial, error) {
	var d keysDoc
	err := s.db.Collection("encryption_keys").FindOne(ctx, emptyFilter).Decode(&d)
	if err == nil && len(d.Key) > 0 && len(d.IV) > 0 {
		return crypto.KeyMaterial{Key: d.Key, IV: d.IV}, nil
	}
	if err != nil && err != mongo.ErrNoDocuments {
		return crypto.KeyMaterial{}, fmt.Errorf("store: load encryption keys: %w", err)
	}

	km, err := crypto.Generate(passphrase)
	if err != nil {
		return crypto.KeyMaterial{}, fmt.Errorf("store: generate encryption keys: %w", err)
	}
	if _, err := s.db.Collection("encryption_keys").DeleteMany(ctx, emptyFilter); err != nil {
		return crypto.KeyMaterial{}, fmt.Errorf("store: clear stale encryption keys: %w", err)
	}
	if _, err := s.db.Collection("encryption_keys").InsertOne(ctx, keysDoc{Key: km.Key, IV: km.IV}); err != nil {
		return crypto.KeyMaterial{}, fmt.Errorf("store: persist encryption keys: %w", err)
	}
	return km, nil
}

// RegenerateKeys forces fresh key material, used by the `reset` CLI
// subcommand.
func (s *Store) RegenerateKeys(ctx context.Context, passphrase string) (crypto.KeyMaterial, error) {
	if _, err := s.db.Collection("encryption_keys").DeleteMany(ctx, emptyFilter); err != nil {
		return crypto.KeyMaterial{}, fmt.Errorf("store: clear encryption keys: %w", err)
	}
	return s.GetOrGenerateKeys(ctx, passphrase)
}
