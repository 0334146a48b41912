// Package store is the persistence adapter: the only component in the core
// that knows it is talking to MongoDB. Adapted from the reference
// persistence layer's Store/EnsureIndexes/session-transaction conventions,
// re-targeted from trade/candle history at a ticker to the clients,
// securities, orders, and message-log shape this specification's domain
// needs.
package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Store wraps a MongoDB client/database pair.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to uri and pings the server. The database name is taken from
// the URI's path component, defaulting to "exchange" if absent.
func New(ctx context.Context, uri string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	dbName := dbNameFromURI(uri)
	return &Store{client: client, db: client.Database(dbName)}, nil
}

func dbNameFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "exchange"
	}
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return "exchange"
	}
	return name
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// DB exposes the underlying database for components that need direct
// collection access (the archival job).
func (s *Store) DB() *mongo.Database { return s.db }

// Client exposes the underlying MongoDB client for session/transaction use.
func (s *Store) Client() *mongo.Client { return s.client }

// Migrate ensures all required indexes exist. Safe to call on every
// startup.
func (s *Store) Migrate(ctx context.Context) error {
	return EnsureIndexes(ctx, s.db)
}

// Reset wipes every domain collection, used by the `reset` CLI subcommand.
func (s *Store) Reset(ctx context.Context) error {
	collections := []string{"clients", "actions", "prices", "orders", "messages", "encryption_keys", "sim_state"}
	for _, c := range collections {
		if _, err := s.db.Collection(c).DeleteMany(ctx, emptyFilter); err != nil {
			return fmt.Errorf("store: reset %s: %w", c, err)
		}
	}
	return nil
}

// ResetPrices truncates every security's price history to just its last
// entry, used by the `reset_prices` CLI subcommand.
func (s *Store) ResetPrices(ctx context.Context) error {
	actions, err := s.ListActions(ctx)
	if err != nil {
		return err
	}
	for _, a := range actions {
		if len(a.History) == 0 {
			continue
		}
		last := a.History[len(a.History)-1]
		if err := s.replacePriceHistory(ctx, a.ID, last); err != nil {
			return err
		}
	}
	return nil
}
