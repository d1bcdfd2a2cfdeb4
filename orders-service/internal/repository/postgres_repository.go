package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjod/storefront/orders-service/internal/domain"
	"github.com/fjod/storefront/pkg/apperr"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const orderColumns = `id, idempotency_key, checkout_id, shopper_id, guest, status, payment_status,
	items, pricing, totals, contact, shipping, payment, gateway_ref, cancel_reason, version, created_at, updated_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(ctx context.Context, cred *Credentials) (*Repository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.PingContext(ctx); e2 != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &Repository{db: db}, nil
}

// NewWithDB wraps an already opened database.
func NewWithDB(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "orders_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

// CreateOrder inserts order with version 1. A second order with the same
// idempotency key fails with ErrDuplicateOrder.
func (r *Repository) CreateOrder(ctx context.Context, order *domain.Order) error {
	docs, err := marshalDocuments(order)
	if err != nil {
		return err
	}

	query := `INSERT INTO orders (id, idempotency_key, checkout_id, shopper_id, guest, status, payment_status,
	          items, pricing, totals, contact, shipping, payment, gateway_ref, cancel_reason, version, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1, NOW(), NOW())
	          RETURNING version, created_at, updated_at`

	insertErr := r.db.QueryRowContext(ctx, query,
		order.ID,
		order.IdempotencyKey,
		order.CheckoutID,
		order.ShopperID,
		order.Guest,
		order.Status,
		order.PaymentStatus,
		docs[0], docs[1], docs[2], docs[3], docs[4], docs[5],
		order.GatewayRef,
		order.CancelReason,
	).Scan(&order.Version, &order.CreatedAt, &order.UpdatedAt)

	if insertErr != nil {
		var pqErr *pq.Error
		if errors.As(insertErr, &pqErr) && pqErr.Code == uniqueViolation {
			return apperr.Wrap(ErrDuplicateOrder, "idempotency key %s", order.IdempotencyKey)
		}
		return apperr.Wrap(ErrPersistence, "insert order: %v", insertErr)
	}
	return nil
}

func (r *Repository) GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Wrap(ErrOrderNotFound, "order %s", id)
	}
	if err != nil {
		return nil, apperr.Wrap(ErrPersistence, "query order by id: %v", err)
	}
	return order, nil
}

func (r *Repository) GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE idempotency_key = $1`
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Wrap(ErrOrderNotFound, "no order for idempotency key %s", key)
	}
	if err != nil {
		return nil, apperr.Wrap(ErrPersistence, "query order by idempotency key: %v", err)
	}
	return order, nil
}

func (r *Repository) ListOrdersByShopper(ctx context.Context, shopperID string, guest bool) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE shopper_id = $1 AND guest = $2 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, shopperID, guest)
	if err != nil {
		return nil, apperr.Wrap(ErrPersistence, "query orders by shopper: %v", err)
	}
	defer rows.Close()

	orders := []*domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, apperr.Wrap(ErrPersistence, "scan order row: %v", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(ErrPersistence, "row iteration error: %v", err)
	}

	return orders, nil
}

func (r *Repository) UpdateStatus(ctx context.Context, order *domain.Order) error {
	query := `UPDATE orders
	          SET status = $1, payment_status = $2, cancel_reason = $3, version = version + 1, updated_at = NOW()
	          WHERE id = $4 AND version = $5
	          RETURNING version, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		order.Status,
		order.PaymentStatus,
		order.CancelReason,
		order.ID,
		order.Version,
	).Scan(&order.Version, &order.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.Wrap(ErrVersionConflict, "order %s at version %d", order.ID, order.Version)
	}
	if err != nil {
		return apperr.Wrap(ErrPersistence, "update order status: %v", err)
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var order domain.Order
	var items, pricingCtx, totals, contact, shipping, payment []byte
	if err := row.Scan(
		&order.ID,
		&order.IdempotencyKey,
		&order.CheckoutID,
		&order.ShopperID,
		&order.Guest,
		&order.Status,
		&order.PaymentStatus,
		&items,
		&pricingCtx,
		&totals,
		&contact,
		&shipping,
		&payment,
		&order.GatewayRef,
		&order.CancelReason,
		&order.Version,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		return nil, err
	}

	docs := []struct {
		raw  []byte
		into any
	}{
		{items, &order.Items},
		{pricingCtx, &order.Pricing},
		{totals, &order.Totals},
		{contact, &order.Contact},
		{shipping, &order.Shipping},
		{payment, &order.Payment},
	}
	for _, d := range docs {
		if err := json.Unmarshal(d.raw, d.into); err != nil {
			return nil, fmt.Errorf("unmarshal order document: %w", err)
		}
	}
	return &order, nil
}

// marshalDocuments encodes the JSONB columns in insert order.
func marshalDocuments(order *domain.Order) ([6][]byte, error) {
	var out [6][]byte
	for i, v := range []any{order.Items, order.Pricing, order.Totals, order.Contact.WithoutSecrets(), order.Shipping, order.Payment} {
		b, err := json.Marshal(v)
		if err != nil {
			return out, fmt.Errorf("failed to marshal order document: %w", err)
		}
		out[i] = b
	}
	return out, nil
}
