package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/storefront/cart-service/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrCartNotFound = errors.New("cart not found")

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection("carts"),
	}
}

func (m *MongoRepository) GetCart(ctx context.Context, shopperID string) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	err := m.collection.FindOne(ctx, bson.M{"shopper_id": shopperID}).Decode(&snap)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	return &snap, nil
}

// SaveCart replaces the stored items and pricing context. Concurrent writers
// resolve by last write wins on the server clock.
func (m *MongoRepository) SaveCart(ctx context.Context, snap *domain.Snapshot) (*domain.Snapshot, error) {
	filter := bson.M{"shopper_id": snap.ShopperID}
	update := bson.M{
		"$set": bson.M{
			"guest":   snap.Guest,
			"items":   snap.Items,
			"pricing": snap.Pricing,
		},
		"$setOnInsert": bson.M{"created_at": snap.CreatedAt},
		"$currentDate": bson.M{"updated_at": true},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var stored domain.Snapshot
	if err := m.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&stored); err != nil {
		return nil, fmt.Errorf("failed to save cart: %w", err)
	}
	return &stored, nil
}

func (m *MongoRepository) DeleteCart(ctx context.Context, shopperID string) error {
	result, err := m.collection.DeleteOne(ctx, bson.M{"shopper_id": shopperID})
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "shopper_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(90 * 24 * 60 * 60), // 90 days TTL
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
