package domain

import "github.com/fjod/storefront/pkg/apperr"

var (
	ErrCancelReasonRequired = apperr.Define(apperr.KindValidation, "cancel_reason_required", "a cancel reason is required")
	ErrPaymentNotSettled    = apperr.Define(apperr.KindLifecycle, "payment_not_settled", "payment status does not allow this order status")
)
