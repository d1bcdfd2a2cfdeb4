package repository

import (
	"context"

	"github.com/fjod/storefront/cart-service/internal/domain"
)

// CartRepository stores registered shoppers' carts.
// Consumers define this interface, not the MongoDB implementation
type CartRepository interface {
	GetCart(ctx context.Context, shopperID string) (*domain.Snapshot, error)
	// SaveCart upserts snap and returns the stored document, with updated_at
	// stamped by the server.
	SaveCart(ctx context.Context, snap *domain.Snapshot) (*domain.Snapshot, error)
	DeleteCart(ctx context.Context, shopperID string) error
}
