package domain

import "github.com/fjod/storefront/pkg/apperr"

var (
	ErrEmptyCart            = apperr.Define(apperr.KindValidation, "empty_cart", "cart is empty, nothing to checkout")
	ErrIllegalTransition    = apperr.Define(apperr.KindLifecycle, "illegal_step_transition", "illegal transition of checkout step")
	ErrStepInvalid          = apperr.Define(apperr.KindValidation, "step_invalid", "complete the current step first")
	ErrSessionClosed        = apperr.Define(apperr.KindLifecycle, "checkout_closed", "checkout session is already closed")
	ErrSubmissionInProgress = apperr.Define(apperr.KindSubmission, "submission_in_progress", "order submission is already in progress")
	ErrTotalsPending        = apperr.Define(apperr.KindPricing, "totals_not_confirmed", "order totals have not been confirmed yet")
	ErrConsentRequired      = apperr.Define(apperr.KindValidation, "consent_required", "terms and privacy policy must be accepted")
)
