//go:build integration

package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fjod/storefront/orders-service/internal/domain"
	"github.com/fjod/storefront/pkg/orderapi"
	"github.com/fjod/storefront/pkg/pricing"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) (*Repository, func()) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)

	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	creds := &Credentials{
		Host:              host,
		Port:              port.Int(),
		User:              "testuser",
		Password:          "testpass",
		DBName:            "testdb",
		MigrationsDirPath: "./migrations",
	}

	repo, err := NewRepository(ctx, creds)
	require.NoError(t, err)

	err = repo.RunMigrations(creds)
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return repo, cleanup
}

func newTestOrder(shopperID string) *domain.Order {
	return &domain.Order{
		ID:             uuid.New(),
		IdempotencyKey: uuid.NewString(),
		CheckoutID:     uuid.NewString(),
		ShopperID:      shopperID,
		Status:         domain.OrderStatusConfirmed,
		PaymentStatus:  domain.PaymentStatusAuthorized,
		Items:          []pricing.LineItem{{ProductID: "whey", Name: "Whey 1kg", UnitPrice: 4599, Quantity: 2}},
		Pricing:        pricing.Context{ShippingMethod: pricing.ShippingStandard, Locale: "es-MX"},
		Totals:         pricing.Breakdown{Currency: "MXN", Subtotal: 9198, Shipping: 9900, Tax: 1472, Total: 20570},
		Contact:        orderapi.ContactInfo{Email: "ana@example.com", FullName: "Ana Perez", Password: "secret-pass"},
		Payment:        orderapi.PaymentSummary{Method: orderapi.PaymentCard, CardLast4: "1111"},
		GatewayRef:     "auth-1",
	}
}

func TestCreateOrder_RoundTrip(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	order := newTestOrder("user-123")

	require.NoError(t, repo.CreateOrder(ctx, order))
	assert.Equal(t, 1, order.Version)

	fetched, err := repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.IdempotencyKey, fetched.IdempotencyKey)
	assert.Equal(t, order.Totals, fetched.Totals)
	assert.Equal(t, order.Items, fetched.Items)
	assert.Equal(t, "1111", fetched.Payment.CardLast4)
	assert.Empty(t, fetched.Contact.Password)

	byKey, err := repo.GetOrderByIdempotencyKey(ctx, order.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, order.ID, byKey.ID)
}

func TestCreateOrder_DuplicateIdempotencyKey(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	first := newTestOrder("user-123")
	require.NoError(t, repo.CreateOrder(ctx, first))

	second := newTestOrder("user-123")
	second.IdempotencyKey = first.IdempotencyKey
	assert.ErrorIs(t, repo.CreateOrder(ctx, second), ErrDuplicateOrder)
}

func TestCreateOrder_ConcurrentSameKeyCreatesOne(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	key := uuid.NewString()

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o := newTestOrder("user-123")
			o.IdempotencyKey = key
			errs <- repo.CreateOrder(ctx, o)
		}()
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, ErrDuplicateOrder)
	}
	assert.Equal(t, 1, created)
}

func TestGetOrderByID_NotFound(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := repo.GetOrderByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestListOrdersByShopper(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	shopperID := "user-list-test"

	order1 := newTestOrder(shopperID)
	require.NoError(t, repo.CreateOrder(ctx, order1))

	// Small sleep to ensure different created_at timestamps
	time.Sleep(10 * time.Millisecond)

	order2 := newTestOrder(shopperID)
	require.NoError(t, repo.CreateOrder(ctx, order2))
	require.NoError(t, repo.CreateOrder(ctx, newTestOrder("someone-else")))
	sameIDGuest := newTestOrder(shopperID)
	sameIDGuest.Guest = true
	require.NoError(t, repo.CreateOrder(ctx, sameIDGuest))

	orders, err := repo.ListOrdersByShopper(ctx, shopperID, false)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, order2.ID, orders[0].ID)
	assert.Equal(t, order1.ID, orders[1].ID)

	guestOrders, err := repo.ListOrdersByShopper(ctx, shopperID, true)
	require.NoError(t, err)
	require.Len(t, guestOrders, 1)
	assert.Equal(t, sameIDGuest.ID, guestOrders[0].ID)
}

func TestUpdateStatus_OptimisticVersion(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	order := newTestOrder("user-123")
	require.NoError(t, repo.CreateOrder(ctx, order))

	stale, err := repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)

	order.Status = domain.OrderStatusProcessing
	require.NoError(t, repo.UpdateStatus(ctx, order))
	assert.Equal(t, 2, order.Version)

	stale.Status = domain.OrderStatusCancelled
	stale.CancelReason = "too late"
	assert.ErrorIs(t, repo.UpdateStatus(ctx, stale), ErrVersionConflict)

	fetched, err := repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusProcessing, fetched.Status)
	assert.Empty(t, fetched.CancelReason)
}
