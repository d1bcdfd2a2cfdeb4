package cache

import (
	"context"
	"errors"

	"github.com/fjod/storefront/cart-service/internal/domain"
)

// SnapshotStore keeps cart snapshots keyed by shopper id.
type SnapshotStore interface {
	Get(ctx context.Context, shopperID string) (*domain.Snapshot, error)
	Set(ctx context.Context, snap *domain.Snapshot) error
	Delete(ctx context.Context, shopperID string) error
}

var ErrCacheMiss = errors.New("cache miss")
