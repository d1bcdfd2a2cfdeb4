package domain

import (
	"fmt"
	"slices"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
}

func ParseOrderStatus(v string) (OrderStatus, error) {
	s := OrderStatus(v)
	if _, ok := orderTransitions[s]; !ok {
		return "", fmt.Errorf("unknown order status %q", v)
	}
	return s, nil
}

func (s OrderStatus) CanTransitionTo(to OrderStatus) bool {
	return slices.Contains(orderTransitions[s], to)
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

func (s OrderStatus) Cancellable() bool {
	return s == OrderStatusPending || s == OrderStatusConfirmed
}

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "PENDING"
	PaymentStatusAuthorized PaymentStatus = "AUTHORIZED"
	PaymentStatusCaptured   PaymentStatus = "CAPTURED"
	PaymentStatusFailed     PaymentStatus = "FAILED"
	PaymentStatusRefunded   PaymentStatus = "REFUNDED"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusAuthorized, PaymentStatusFailed},
	PaymentStatusAuthorized: {PaymentStatusCaptured, PaymentStatusFailed},
	PaymentStatusCaptured:   {PaymentStatusRefunded},
	PaymentStatusFailed:     {},
	PaymentStatusRefunded:   {},
}

func ParsePaymentStatus(v string) (PaymentStatus, error) {
	s := PaymentStatus(v)
	if _, ok := paymentTransitions[s]; !ok {
		return "", fmt.Errorf("unknown payment status %q", v)
	}
	return s, nil
}

func (s PaymentStatus) CanTransitionTo(to PaymentStatus) bool {
	return slices.Contains(paymentTransitions[s], to)
}

func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusFailed || s == PaymentStatusRefunded
}

// Settled reports whether the funds were taken.
func (s PaymentStatus) Settled() bool {
	return s == PaymentStatusCaptured
}

func (s PaymentStatus) covers(to OrderStatus) bool {
	switch to {
	case OrderStatusProcessing:
		return s == PaymentStatusAuthorized || s == PaymentStatusCaptured
	case OrderStatusShipped:
		return s == PaymentStatusCaptured
	default:
		return true
	}
}
