package domain

import (
	"time"

	"github.com/fjod/storefront/pkg/orderapi"
	"github.com/fjod/storefront/pkg/pricing"
)

type StepView struct {
	Step   Step                 `json:"step"`
	Valid  bool                 `json:"valid"`
	Errors orderapi.FieldErrors `json:"errors,omitempty"`
}

// View is the shopper facing state of a session. Totals stays nil until the
// orders service confirmed them; Estimate is the placeholder meanwhile.
type View struct {
	ID              string                  `json:"id"`
	Step            Step                    `json:"step"`
	Steps           []StepView              `json:"steps"`
	Items           []pricing.LineItem      `json:"items"`
	Pricing         pricing.Context         `json:"pricing"`
	Contact         orderapi.ContactInfo    `json:"contact"`
	Shipping        orderapi.ShippingInfo   `json:"shipping"`
	Payment         orderapi.PaymentSummary `json:"payment"`
	Consents        Consents                `json:"consents"`
	Estimate        pricing.Breakdown       `json:"estimate"`
	Totals          *pricing.Breakdown      `json:"totals"`
	Calculating     bool                    `json:"calculating"`
	PricingError    *Notice                 `json:"pricing_error,omitempty"`
	Submitting      bool                    `json:"submitting"`
	SubmissionError *Notice                 `json:"submission_error,omitempty"`
	Order           *orderapi.Order         `json:"order,omitempty"`
	AbandonReason   string                  `json:"abandon_reason,omitempty"`
	Warnings        []string                `json:"warnings,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
}
