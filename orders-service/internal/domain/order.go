package domain

import (
	"slices"
	"time"

	"github.com/fjod/storefront/pkg/apperr"
	"github.com/fjod/storefront/pkg/orderapi"
	"github.com/fjod/storefront/pkg/pricing"
	"github.com/google/uuid"
)

// ReasonPaymentFailed is the cancel reason recorded when the payment fails.
const ReasonPaymentFailed = "payment failed"

// Order is immutable after creation apart from its statuses, the cancel
// reason and the version used for optimistic updates.
type Order struct {
	ID             uuid.UUID
	IdempotencyKey string
	CheckoutID     string
	ShopperID      string
	Guest          bool
	Status         OrderStatus
	PaymentStatus  PaymentStatus
	Items          []pricing.LineItem
	Pricing        pricing.Context
	Totals         pricing.Breakdown
	Contact        orderapi.ContactInfo
	Shipping       orderapi.ShippingInfo
	Payment        orderapi.PaymentSummary
	// GatewayRef is the payment gateway's authorization reference.
	GatewayRef   string
	CancelReason string
	Version      int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AdvanceStatus moves the fulfilment status forward. Cancelling goes through Cancel.
func (o *Order) AdvanceStatus(to OrderStatus, now time.Time) error {
	if to == OrderStatusCancelled {
		return apperr.Wrap(orderapi.ErrIllegalTransition, "orders are cancelled with a reason")
	}
	if !o.Status.CanTransitionTo(to) {
		return apperr.Wrap(orderapi.ErrIllegalTransition, "order %s cannot move from %s to %s", o.ID, o.Status, to)
	}
	if !o.PaymentStatus.covers(to) {
		return apperr.Wrap(ErrPaymentNotSettled, "order %s cannot be %s while payment is %s", o.ID, to, o.PaymentStatus)
	}
	o.Status = to
	o.UpdatedAt = now
	return nil
}

func (o *Order) Cancel(reason string, now time.Time) error {
	if !o.Status.Cancellable() {
		return apperr.Wrap(orderapi.ErrNotCancellable, "order %s is %s", o.ID, o.Status)
	}
	if reason == "" {
		return ErrCancelReasonRequired
	}
	o.Status = OrderStatusCancelled
	o.CancelReason = reason
	o.UpdatedAt = now
	return nil
}

// ApplyPayment records a payment update. An authorization confirms a pending
// order; a failure cancels the order while that is still possible.
func (o *Order) ApplyPayment(to PaymentStatus, now time.Time) error {
	if !o.PaymentStatus.CanTransitionTo(to) {
		return apperr.Wrap(orderapi.ErrIllegalTransition, "payment of order %s cannot move from %s to %s", o.ID, o.PaymentStatus, to)
	}
	o.PaymentStatus = to
	o.UpdatedAt = now

	switch {
	case to == PaymentStatusAuthorized && o.Status == OrderStatusPending:
		o.Status = OrderStatusConfirmed
	case to == PaymentStatusFailed && o.Status.Cancellable():
		o.Status = OrderStatusCancelled
		o.CancelReason = ReasonPaymentFailed
	}
	return nil
}

func (o *Order) Wire() orderapi.Order {
	return orderapi.Order{
		ID:             o.ID.String(),
		IdempotencyKey: o.IdempotencyKey,
		CheckoutID:     o.CheckoutID,
		ShopperID:      o.ShopperID,
		Guest:          o.Guest,
		Status:         string(o.Status),
		PaymentStatus:  string(o.PaymentStatus),
		Items:          slices.Clone(o.Items),
		Totals:         o.Totals,
		Pricing:        o.Pricing,
		Contact:        o.Contact,
		Shipping:       o.Shipping,
		Payment:        o.Payment,
		CancelReason:   o.CancelReason,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

func (o *Order) StatusView() orderapi.StatusResponse {
	return orderapi.StatusResponse{
		OrderID:       o.ID.String(),
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
	}
}
