package service

import (
	"context"
	"time"

	d "github.com/fjod/storefront/checkout-service/domain"
	"github.com/fjod/storefront/pkg/orderapi"
	"github.com/fjod/storefront/pkg/pricing"
)

type CartClient interface {
	Snapshot(ctx context.Context) (d.CartSnapshot, error)
}

// OrderClient is implemented by *orderapi.Client.
type OrderClient interface {
	ComputeTotals(ctx context.Context, req orderapi.TotalsRequest) (pricing.Breakdown, error)
	SubmitOrder(ctx context.Context, req orderapi.SubmitRequest) (*orderapi.Order, error)
	OrderByIdempotencyKey(ctx context.Context, key string) (*orderapi.Order, error)
}

type CartHandler struct {
	cartClient CartClient
	timeout    time.Duration
}

func NewCartHandler(cartClient CartClient, timeout time.Duration) *CartHandler {
	return &CartHandler{
		cartClient: cartClient,
		timeout:    timeout,
	}
}

func (h *CartHandler) snapshot(ctx context.Context) (d.CartSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.cartClient.Snapshot(ctx)
}

// PricingHandler requests authoritative totals. Its timeout bounds one
// reconciliation.
type PricingHandler struct {
	orderClient OrderClient
	timeout     time.Duration
}

func NewPricingHandler(orderClient OrderClient, timeout time.Duration) *PricingHandler {
	return &PricingHandler{
		orderClient: orderClient,
		timeout:     timeout,
	}
}

type OrderHandler struct {
	orderClient OrderClient
	timeout     time.Duration
}

func NewOrderHandler(orderClient OrderClient, timeout time.Duration) *OrderHandler {
	return &OrderHandler{
		orderClient: orderClient,
		timeout:     timeout,
	}
}

func (h *OrderHandler) submit(ctx context.Context, req orderapi.SubmitRequest) (*orderapi.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.orderClient.SubmitOrder(ctx, req)
}

func (h *OrderHandler) lookup(ctx context.Context, idempotencyKey string) (*orderapi.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.orderClient.OrderByIdempotencyKey(ctx, idempotencyKey)
}

func (h *PricingHandler) totals(ctx context.Context, rec d.Reconciliation) (pricing.Breakdown, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.orderClient.ComputeTotals(ctx, orderapi.TotalsRequest{Items: rec.Items, Pricing: rec.Pricing})
}
