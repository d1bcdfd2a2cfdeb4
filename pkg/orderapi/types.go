// Package orderapi is the contract of the pricing/order backend: wire types,
// shared field validation, error codes and an HTTP client.
package orderapi

import (
	"time"

	"github.com/fjod/storefront/pkg/pricing"
)

type ContactInfo struct {
	Email         string `json:"email" validate:"required,email"`
	FullName      string `json:"full_name" validate:"required"`
	Phone         string `json:"phone,omitempty" validate:"omitempty,e164"`
	CreateAccount bool   `json:"create_account"`
	Password      string `json:"password,omitempty"`
}

// WithoutSecrets drops the account password.
func (c ContactInfo) WithoutSecrets() ContactInfo {
	c.Password = ""
	return c
}

type Address struct {
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	Region     string `json:"region" validate:"required"`
	PostalCode string `json:"postal_code" validate:"required,postal_code"`
	Country    string `json:"country" validate:"required,iso3166_1_alpha2"`
}

type ShippingInfo struct {
	Address Address                `json:"address"`
	Method  pricing.ShippingMethod `json:"method" validate:"required,oneof=standard express pickup"`
}

type PaymentMethod string

const (
	PaymentCard         PaymentMethod = "card"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentRedirect     PaymentMethod = "redirect"
)

type CardDetails struct {
	Number string `json:"number" validate:"required,credit_card"`
	Holder string `json:"holder" validate:"required"`
	Expiry string `json:"expiry" validate:"required,card_expiry"`
	CVV    string `json:"cvv" validate:"required,numeric,min=3,max=4"`
}

// PaymentInfo is the method-specific payload handed to the payment gateway.
type PaymentInfo struct {
	Method        PaymentMethod `json:"method" validate:"required,oneof=card bank_transfer redirect"`
	Card          *CardDetails  `json:"card,omitempty"`
	RedirectToken string        `json:"redirect_token,omitempty"`
	BankReference string        `json:"bank_reference,omitempty"`
}

type PaymentSummary struct {
	Method     PaymentMethod `json:"method"`
	CardLast4  string        `json:"card_last4,omitempty"`
	CardHolder string        `json:"card_holder,omitempty"`
	Reference  string        `json:"reference,omitempty"`
}

// Summary is a display-safe view of the payment payload.
func (p PaymentInfo) Summary() PaymentSummary {
	s := PaymentSummary{Method: p.Method, Reference: p.BankReference}
	if p.Card != nil {
		digits := digitsOnly(p.Card.Number)
		if len(digits) >= 4 {
			s.CardLast4 = digits[len(digits)-4:]
		}
		s.CardHolder = p.Card.Holder
	}
	return s
}

type TotalsRequest struct {
	Items   []pricing.LineItem `json:"items"`
	Pricing pricing.Context    `json:"pricing"`
}

type SubmitRequest struct {
	IdempotencyKey string             `json:"idempotency_key"`
	CheckoutID     string             `json:"checkout_id"`
	Items          []pricing.LineItem `json:"items"`
	Pricing        pricing.Context    `json:"pricing"`
	ExpectedTotals pricing.Breakdown  `json:"expected_totals"`
	Contact        ContactInfo        `json:"contact"`
	Shipping       ShippingInfo       `json:"shipping"`
	Payment        PaymentInfo        `json:"payment"`
}

type Order struct {
	ID             string             `json:"id"`
	IdempotencyKey string             `json:"idempotency_key"`
	CheckoutID     string             `json:"checkout_id,omitempty"`
	ShopperID      string             `json:"shopper_id"`
	Guest          bool               `json:"guest"`
	Status         string             `json:"status"`
	PaymentStatus  string             `json:"payment_status"`
	Items          []pricing.LineItem `json:"items"`
	Totals         pricing.Breakdown  `json:"totals"`
	Pricing        pricing.Context    `json:"pricing"`
	Contact        ContactInfo        `json:"contact"`
	Shipping       ShippingInfo       `json:"shipping"`
	Payment        PaymentSummary     `json:"payment"`
	CancelReason   string             `json:"cancel_reason,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

type StatusResponse struct {
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

// StatusUpdate is sent on the internal routes. Reason is required when the
// order is cancelled.
type StatusUpdate struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}
