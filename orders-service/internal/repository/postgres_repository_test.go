package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/fjod/storefront/orders-service/internal/domain"
	"github.com/fjod/storefront/pkg/apperr"
	"github.com/fjod/storefront/pkg/pricing"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var created = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func orderRow(id uuid.UUID, status string, version int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "idempotency_key", "checkout_id", "shopper_id", "guest", "status", "payment_status",
		"items", "pricing", "totals", "contact", "shipping", "payment", "gateway_ref", "cancel_reason",
		"version", "created_at", "updated_at",
	}).AddRow(
		id.String(), "key-1", "chk-1", "user-1", false, status, "AUTHORIZED",
		[]byte(`[{"product_id":"whey","name":"Whey 1kg","sku":"WH-1","unit_price":4599,"quantity":2}]`),
		[]byte(`{"shipping_method":"standard","locale":"es-MX"}`),
		[]byte(`{"currency":"MXN","subtotal":9198,"shipping":9900,"tax":1472,"discount":0,"total":20570}`),
		[]byte(`{"email":"ana@example.com","full_name":"Ana Perez","create_account":false}`),
		[]byte(`{"address":{"line1":"Av. Reforma 1","city":"CDMX","region":"CDMX","postal_code":"06600","country":"MX"},"method":"standard"}`),
		[]byte(`{"method":"card","card_last4":"1111"}`),
		"auth-1", "", version, created, created,
	)
}

func TestCreateOrder_ReturnsVersion(t *testing.T) {
	repo, mock := newMockRepo(t)
	order := &domain.Order{
		ID:             uuid.New(),
		IdempotencyKey: "key-1",
		ShopperID:      "user-1",
		Status:         domain.OrderStatusConfirmed,
		PaymentStatus:  domain.PaymentStatusAuthorized,
		Items:          []pricing.LineItem{{ProductID: "whey", UnitPrice: 4599, Quantity: 2}},
	}

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO orders (id, idempotency_key`)).
		WithArgs(order.ID, "key-1", "", "user-1", false, domain.OrderStatusConfirmed, domain.PaymentStatusAuthorized,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			"", "").
		WillReturnRows(sqlmock.NewRows([]string{"version", "created_at", "updated_at"}).AddRow(1, created, created))

	require.NoError(t, repo.CreateOrder(context.Background(), order))
	assert.Equal(t, 1, order.Version)
	assert.Equal(t, created, order.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrder_UniqueViolationIsDuplicate(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO orders`)).
		WillReturnError(&pq.Error{Code: uniqueViolation})

	err := repo.CreateOrder(context.Background(), &domain.Order{ID: uuid.New(), IdempotencyKey: "key-1"})

	assert.ErrorIs(t, err, ErrDuplicateOrder)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrder_OtherFailureIsPersistence(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO orders`)).
		WillReturnError(errors.New("connection refused"))

	err := repo.CreateOrder(context.Background(), &domain.Order{ID: uuid.New()})

	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, apperr.KindPersistence, apperr.KindOf(err))
}

func TestGetOrderByID_DecodesDocuments(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM orders WHERE id = $1`)).
		WithArgs(id).
		WillReturnRows(orderRow(id, "CONFIRMED", 3))

	order, err := repo.GetOrderByID(context.Background(), id)

	require.NoError(t, err)
	assert.Equal(t, id, order.ID)
	assert.Equal(t, domain.OrderStatusConfirmed, order.Status)
	assert.Equal(t, domain.PaymentStatusAuthorized, order.PaymentStatus)
	assert.Equal(t, 3, order.Version)
	require.Len(t, order.Items, 1)
	assert.Equal(t, int64(4599), order.Items[0].UnitPrice)
	assert.Equal(t, int64(20570), order.Totals.Total)
	assert.Equal(t, "06600", order.Shipping.Address.PostalCode)
	assert.Equal(t, "1111", order.Payment.CardLast4)
}

func TestGetOrderByIdempotencyKey_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM orders WHERE idempotency_key = $1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetOrderByIdempotencyKey(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.Equal(t, "order_not_found", apperr.CodeOf(err))
}

func TestListOrdersByShopper_EmptyIsNotNil(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM orders WHERE shopper_id = $1 AND guest = $2 ORDER BY created_at DESC`)).
		WithArgs("user-1", false).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	orders, err := repo.ListOrdersByShopper(context.Background(), "user-1", false)

	require.NoError(t, err)
	assert.NotNil(t, orders)
	assert.Empty(t, orders)
}

func TestUpdateStatus_BumpsVersion(t *testing.T) {
	repo, mock := newMockRepo(t)
	order := &domain.Order{ID: uuid.New(), Status: domain.OrderStatusProcessing, PaymentStatus: domain.PaymentStatusCaptured, Version: 2}

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE orders`)).
		WithArgs(domain.OrderStatusProcessing, domain.PaymentStatusCaptured, "", order.ID, 2).
		WillReturnRows(sqlmock.NewRows([]string{"version", "updated_at"}).AddRow(3, created))

	require.NoError(t, repo.UpdateStatus(context.Background(), order))
	assert.Equal(t, 3, order.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_StaleVersionConflicts(t *testing.T) {
	repo, mock := newMockRepo(t)
	order := &domain.Order{ID: uuid.New(), Status: domain.OrderStatusCancelled, Version: 1}

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE orders`)).
		WillReturnRows(sqlmock.NewRows([]string{"version", "updated_at"}))

	err := repo.UpdateStatus(context.Background(), order)

	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, 1, order.Version)
}
