package repository

import (
	"context"

	"github.com/fjod/storefront/orders-service/internal/domain"
	"github.com/fjod/storefront/pkg/apperr"
	"github.com/fjod/storefront/pkg/orderapi"
	"github.com/google/uuid"
)

var (
	// ErrOrderNotFound is the wire error so lookups can be answered as is.
	ErrOrderNotFound   = orderapi.ErrOrderNotFound
	ErrDuplicateOrder  = apperr.Define(apperr.KindConflict, "duplicate_order", "an order with this idempotency key already exists")
	ErrVersionConflict = apperr.Define(apperr.KindConflict, "order_version_conflict", "order was modified concurrently")
	ErrPersistence     = apperr.Define(apperr.KindPersistence, "order_store_failed", "orders could not be stored")
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
	// ListOrdersByShopper scopes by id and guest flag, as single reads do.
	ListOrdersByShopper(ctx context.Context, shopperID string, guest bool) ([]*domain.Order, error)
	// UpdateStatus stores the statuses of order if its version is unchanged
	// and bumps the version.
	UpdateStatus(ctx context.Context, order *domain.Order) error
	RunMigrations(*Credentials) error
	Close() error
}
