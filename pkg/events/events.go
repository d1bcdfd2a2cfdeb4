// Package events holds the payloads exchanged over Kafka between services.
package events

import (
	"time"

	"github.com/fjod/storefront/pkg/pricing"
)

const (
	TopicCheckoutOutbox = "checkout-outbox"
	TopicOrderLifecycle = "order-lifecycle"

	// HeaderEventType carries the event type on every message.
	HeaderEventType = "event_type"
)

const (
	TypeCheckoutCompleted = "CheckoutCompleted"
	TypeCheckoutAbandoned = "CheckoutAbandoned"
	TypeOrderConfirmed    = "OrderConfirmed"

	TypeOrderStatusChanged   = "OrderStatusChanged"
	TypePaymentStatusChanged = "PaymentStatusChanged"
)

// CheckoutCompleted is published once an order was created for a session.
type CheckoutCompleted struct {
	CheckoutID  string            `json:"checkout_id"`
	OrderID     string            `json:"order_id"`
	ShopperID   string            `json:"shopper_id"`
	Guest       bool              `json:"guest"`
	Totals      pricing.Breakdown `json:"totals"`
	CompletedAt time.Time         `json:"completed_at"`
}

// CheckoutAbandoned feeds the reminder notifications.
type CheckoutAbandoned struct {
	CheckoutID  string    `json:"checkout_id"`
	ShopperID   string    `json:"shopper_id"`
	Guest       bool      `json:"guest"`
	Email       string    `json:"email,omitempty"`
	Reason      string    `json:"reason"`
	Remind      bool      `json:"remind"`
	AbandonedAt time.Time `json:"abandoned_at"`
}

type OrderConfirmed struct {
	OrderID   string            `json:"order_id"`
	ShopperID string            `json:"shopper_id"`
	Email     string            `json:"email"`
	Totals    pricing.Breakdown `json:"totals"`
}

// OrderLifecycle is a fulfilment or payment update for an existing order.
// Exactly one of Status and PaymentStatus is set.
type OrderLifecycle struct {
	OrderID       string `json:"order_id"`
	Status        string `json:"status,omitempty"`
	PaymentStatus string `json:"payment_status,omitempty"`
	Reason        string `json:"reason,omitempty"`
}
