package orderapi

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/fjod/storefront/pkg/httpapi"
	"github.com/fjod/storefront/pkg/pricing"
	"go.uber.org/zap"
)

// Client talks to the orders service on behalf of the shopper in the context.
type Client struct {
	http *httpapi.Client
}

func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{http: httpapi.NewClient("orders", baseURL, timeout, log)}
}

func (c *Client) ComputeTotals(ctx context.Context, req TotalsRequest) (pricing.Breakdown, error) {
	var b pricing.Breakdown
	err := c.http.Do(ctx, http.MethodPost, "/totals", req, &b)
	return b, err
}

func (c *Client) SubmitOrder(ctx context.Context, req SubmitRequest) (*Order, error) {
	var o Order
	if err := c.http.Do(ctx, http.MethodPost, "/orders", req, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *Client) OrderByIdempotencyKey(ctx context.Context, key string) (*Order, error) {
	var o Order
	if err := c.http.Do(ctx, http.MethodGet, "/orders/lookup?idempotency_key="+url.QueryEscape(key), nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *Client) OrderStatus(ctx context.Context, orderID string) (*StatusResponse, error) {
	var s StatusResponse
	if err := c.http.Do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID)+"/status", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID, reason string) (*Order, error) {
	var o Order
	if err := c.http.Do(ctx, http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/cancel", CancelRequest{Reason: reason}, &o); err != nil {
		return nil, err
	}
	return &o, nil
}
