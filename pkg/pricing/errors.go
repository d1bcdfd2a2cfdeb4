package pricing

import "github.com/fjod/storefront/pkg/apperr"

var (
	ErrInvalidDiscount       = apperr.Define(apperr.KindPricing, "invalid_discount", "invalid discount code")
	ErrInvalidShippingMethod = apperr.Define(apperr.KindValidation, "invalid_shipping_method", "unknown shipping method")
	ErrInvalidLineItem       = apperr.Define(apperr.KindValidation, "invalid_line_item", "invalid line item")
)
