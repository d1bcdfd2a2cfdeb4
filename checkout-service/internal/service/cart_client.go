package service

import (
	"context"
	"net/http"
	"time"

	d "github.com/fjod/storefront/checkout-service/domain"
	"github.com/fjod/storefront/pkg/httpapi"
	"github.com/fjod/storefront/pkg/pricing"
	"go.uber.org/zap"
)

// cartView is the subset of the cart service response checkout needs.
type cartView struct {
	Items    []pricing.LineItem `json:"items"`
	Pricing  pricing.Context    `json:"pricing"`
	Totals   pricing.Breakdown  `json:"totals"`
	Degraded bool               `json:"degraded"`
}

// HTTPCartClient reads the shopper's cart from the cart service. The shopper
// identity travels in the context.
type HTTPCartClient struct {
	http  *httpapi.Client
	clock func() time.Time
}

func NewHTTPCartClient(baseURL string, timeout time.Duration, log *zap.Logger) *HTTPCartClient {
	return &HTTPCartClient{http: httpapi.NewClient("cart", baseURL, timeout, log), clock: time.Now}
}

// Snapshot asks the cart service to persist pending edits and return the cart.
func (c *HTTPCartClient) Snapshot(ctx context.Context) (d.CartSnapshot, error) {
	var v cartView
	if err := c.http.Do(ctx, http.MethodPost, "/cart/snapshot", nil, &v); err != nil {
		return d.CartSnapshot{}, err
	}
	return d.CartSnapshot{
		Items:      v.Items,
		Pricing:    v.Pricing,
		Estimate:   v.Totals,
		Degraded:   v.Degraded,
		CapturedAt: c.clock(),
	}, nil
}
