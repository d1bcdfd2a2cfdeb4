// Package gateway is the client of the external payment gateway. Payment
// payloads are passed through after the format checks done at submission.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/storefront/pkg/apperr"
	"github.com/fjod/storefront/pkg/httpapi"
	"github.com/fjod/storefront/pkg/orderapi"
	"go.uber.org/zap"
)

const (
	DecisionAuthorized = "authorized"
	DecisionDeclined   = "declined"
)

type AuthorizeRequest struct {
	// IdempotencyKey lets the gateway deduplicate repeated authorizations.
	IdempotencyKey string               `json:"idempotency_key"`
	Amount         int64                `json:"amount"`
	Currency       string               `json:"currency"`
	Payment        orderapi.PaymentInfo `json:"payment"`
}

type Authorization struct {
	Decision  string `json:"decision"`
	Reference string `json:"reference"`
	Reason    string `json:"reason,omitempty"`
}

type Authorizer interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error)
}

type Client struct {
	http *httpapi.Client
}

func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{http: httpapi.NewClient("payment-gateway", baseURL, timeout, log)}
}

// Authorize returns orderapi.ErrPaymentDeclined when the gateway refuses the payment.
func (c *Client) Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error) {
	var a Authorization
	if err := c.http.Do(ctx, http.MethodPost, "/authorizations", req, &a); err != nil {
		return Authorization{}, err
	}
	switch a.Decision {
	case DecisionAuthorized:
		return a, nil
	case DecisionDeclined:
		return a, apperr.Wrap(orderapi.ErrPaymentDeclined, "payment declined: %s", a.Reason)
	default:
		return a, apperr.Wrap(apperr.ErrUnavailable, "unexpected gateway decision %q", a.Decision)
	}
}

// Synchronous reports whether method is authorized while the order is placed.
// Bank transfers settle later and arrive as payment status updates.
func Synchronous(method orderapi.PaymentMethod) bool {
	return method == orderapi.PaymentCard || method == orderapi.PaymentRedirect
}
