package orderapi

import "github.com/fjod/storefront/pkg/apperr"

var (
	ErrOrderNotFound      = apperr.Define(apperr.KindNotFound, "order_not_found", "order not found")
	ErrNotCancellable     = apperr.Define(apperr.KindLifecycle, "not_cancellable", "order can no longer be cancelled")
	ErrIllegalTransition  = apperr.Define(apperr.KindLifecycle, "illegal_order_transition", "illegal order status transition")
	ErrPaymentDeclined    = apperr.Define(apperr.KindSubmission, "payment_declined", "payment was declined")
	ErrTotalsChanged      = apperr.Define(apperr.KindPricing, "totals_changed", "order totals changed, please review them again")
	ErrStockChanged       = apperr.Define(apperr.KindStock, "stock_changed", "stock changed since the totals were computed")
	ErrValidationRejected = apperr.Define(apperr.KindValidation, "validation_rejected", "order details were rejected")
	ErrEmptyOrder         = apperr.Define(apperr.KindValidation, "empty_order", "an order needs at least one item")
)
