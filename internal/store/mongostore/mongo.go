package mongostore

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/store"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	ordersCollection   = "orders"
	productsCollection = "products"
	teamCollection     = "team_members"
)

// Store is the document-database repository. Each order is one document
// holding its customer and item snapshots.
type Store struct {
	db       *mongo.Database
	orders   *mongo.Collection
	products *mongo.Collection
	team     *mongo.Collection
}

// Connect opens a client and returns the named database
func Connect(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100).
		SetMinPoolSize(5)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}

// New wraps a database handle
func New(db *mongo.Database) *Store {
	return &Store{
		db:       db,
		orders:   db.Collection(ordersCollection),
		products: db.Collection(productsCollection),
		team:     db.Collection(teamCollection),
	}
}

// CreateIndexes declares the uniqueness rules the service relies on
func (s *Store) CreateIndexes(ctx context.Context) error {
	orderIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "orderId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("orders_order_id_key"),
		},
		{
			Keys: bson.D{{Key: "createdAt", Value: -1}},
		},
	}
	if _, err := s.orders.Indexes().CreateMany(ctx, orderIndexes); err != nil {
		return fmt.Errorf("failed to create order indexes: %w", err)
	}

	if _, err := s.products.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "category", Value: 1}},
	}); err != nil {
		return fmt.Errorf("failed to create product indexes: %w", err)
	}

	if _, err := s.team.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "isLeader", Value: 1}},
		Options: options.Index().
			SetUnique(true).
			SetName("team_members_single_leader").
			SetPartialFilterExpression(bson.M{"isLeader": true}),
	}); err != nil {
		return fmt.Errorf("failed to create team indexes: %w", err)
	}

	return nil
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close disconnects the client
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.db.Client().Disconnect(ctx)
}

// objectID converts a public id; malformed ids cannot name a document.
func objectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, store.ErrNotFound
	}
	return oid, nil
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
