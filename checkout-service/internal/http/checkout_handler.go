package http

import (
	"context"
	"net/http"
	"time"

	d "github.com/fjod/storefront/checkout-service/domain"
	"github.com/fjod/storefront/pkg/apperr"
	"github.com/fjod/storefront/pkg/httpapi"
	"github.com/fjod/storefront/pkg/orderapi"
	"github.com/fjod/storefront/pkg/shopper"
	"github.com/go-chi/chi/v5"
)

type CheckoutService interface {
	Begin(ctx context.Context, owner shopper.Identity) (d.View, error)
	Active(ctx context.Context, owner shopper.Identity) (d.View, error)
	Get(ctx context.Context, owner shopper.Identity, checkoutID string) (d.View, error)
	UpdateContact(ctx context.Context, owner shopper.Identity, checkoutID string, c orderapi.ContactInfo) (d.View, error)
	UpdateShipping(ctx context.Context, owner shopper.Identity, checkoutID string, info orderapi.ShippingInfo) (d.View, error)
	UpdatePayment(ctx context.Context, owner shopper.Identity, checkoutID string, p orderapi.PaymentInfo) (d.View, error)
	SetConsents(ctx context.Context, owner shopper.Identity, checkoutID string, c d.Consents) (d.View, error)
	Advance(ctx context.Context, owner shopper.Identity, checkoutID string) (d.View, error)
	Back(ctx context.Context, owner shopper.Identity, checkoutID string) (d.View, error)
	GoTo(ctx context.Context, owner shopper.Identity, checkoutID string, step d.Step) (d.View, error)
	Recalculate(ctx context.Context, owner shopper.Identity, checkoutID string) (d.View, error)
	Submit(ctx context.Context, owner shopper.Identity, checkoutID string) (d.View, error)
	Abandon(ctx context.Context, owner shopper.Identity, checkoutID, reason string) (d.View, error)
}

type CheckoutHandler struct {
	service CheckoutService
	timeout time.Duration
}

func NewCheckoutHandler(svc CheckoutService, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		service: svc,
		timeout: timeout,
	}
}

type GoToRequestDTO struct {
	Step d.Step `json:"step"`
}

type AbandonRequestDTO struct {
	// Reason is navigated_away or cancelled; cancelled when empty.
	Reason string `json:"reason"`
}

type sessionCall func(ctx context.Context, owner shopper.Identity, checkoutID string) (d.View, error)

// Routes mounts the checkout API. Every route requires a shopper identity.
func (h *CheckoutHandler) Routes(r chi.Router) {
	r.Route("/checkout", func(r chi.Router) {
		r.Use(httpapi.ShopperMiddleware)
		r.Post("/", h.Begin)
		r.Get("/active", h.Active)
		r.Route("/{checkout_id}", func(r chi.Router) {
			r.Get("/", h.session(http.StatusOK, h.service.Get))
			r.Put("/contact", h.UpdateContact)
			r.Put("/shipping", h.UpdateShipping)
			r.Put("/payment", h.UpdatePayment)
			r.Put("/consents", h.SetConsents)
			r.Post("/advance", h.session(http.StatusOK, h.service.Advance))
			r.Post("/back", h.session(http.StatusOK, h.service.Back))
			r.Post("/goto", h.GoTo)
			r.Post("/recalculate", h.session(http.StatusAccepted, h.service.Recalculate))
			r.Post("/submit", h.session(http.StatusCreated, h.service.Submit))
			r.Post("/abandon", h.Abandon)
		})
	})
}

func (h *CheckoutHandler) Begin(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, http.StatusCreated, func(ctx context.Context, owner shopper.Identity) (d.View, error) {
		return h.service.Begin(ctx, owner)
	})
}

func (h *CheckoutHandler) Active(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, http.StatusOK, func(ctx context.Context, owner shopper.Identity) (d.View, error) {
		return h.service.Active(ctx, owner)
	})
}

func (h *CheckoutHandler) UpdateContact(w http.ResponseWriter, r *http.Request) {
	var req orderapi.ContactInfo
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.RespondError(w, err)
		return
	}
	h.session(http.StatusOK, func(ctx context.Context, owner shopper.Identity, id string) (d.View, error) {
		return h.service.UpdateContact(ctx, owner, id, req)
	})(w, r)
}

func (h *CheckoutHandler) UpdateShipping(w http.ResponseWriter, r *http.Request) {
	var req orderapi.ShippingInfo
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.RespondError(w, err)
		return
	}
	h.session(http.StatusOK, func(ctx context.Context, owner shopper.Identity, id string) (d.View, error) {
		return h.service.UpdateShipping(ctx, owner, id, req)
	})(w, r)
}

func (h *CheckoutHandler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	var req orderapi.PaymentInfo
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.RespondError(w, err)
		return
	}
	h.session(http.StatusOK, func(ctx context.Context, owner shopper.Identity, id string) (d.View, error) {
		return h.service.UpdatePayment(ctx, owner, id, req)
	})(w, r)
}

func (h *CheckoutHandler) SetConsents(w http.ResponseWriter, r *http.Request) {
	var req d.Consents
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.RespondError(w, err)
		return
	}
	h.session(http.StatusOK, func(ctx context.Context, owner shopper.Identity, id string) (d.View, error) {
		return h.service.SetConsents(ctx, owner, id, req)
	})(w, r)
}

func (h *CheckoutHandler) GoTo(w http.ResponseWriter, r *http.Request) {
	var req GoToRequestDTO
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.RespondError(w, err)
		return
	}
	h.session(http.StatusOK, func(ctx context.Context, owner shopper.Identity, id string) (d.View, error) {
		return h.service.GoTo(ctx, owner, id, req.Step)
	})(w, r)
}

// Abandon accepts an empty body as an explicit cancel.
func (h *CheckoutHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	var req AbandonRequestDTO
	if r.ContentLength > 0 {
		if err := httpapi.DecodeJSON(r, &req); err != nil {
			httpapi.RespondError(w, err)
			return
		}
	}
	switch req.Reason {
	case "":
		req.Reason = d.ReasonCancelled
	case d.ReasonCancelled, d.ReasonNavigatedAway:
	default:
		httpapi.RespondError(w, apperr.WithDetails(apperr.ErrInvalidRequest,
			map[string]string{"reason": "must be cancelled or navigated_away"}, "unknown abandon reason %q", req.Reason))
		return
	}
	h.session(http.StatusOK, func(ctx context.Context, owner shopper.Identity, id string) (d.View, error) {
		return h.service.Abandon(ctx, owner, id, req.Reason)
	})(w, r)
}

func (h *CheckoutHandler) session(status int, call sessionCall) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checkoutID := chi.URLParam(r, "checkout_id")
		h.handle(w, r, status, func(ctx context.Context, owner shopper.Identity) (d.View, error) {
			return call(ctx, owner, checkoutID)
		})
	}
}

func (h *CheckoutHandler) handle(w http.ResponseWriter, r *http.Request, status int,
	call func(context.Context, shopper.Identity) (d.View, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	owner, err := httpapi.Shopper(r)
	if err != nil {
		httpapi.RespondError(w, err)
		return
	}
	view, err := call(ctx, owner)
	if err != nil {
		httpapi.RespondError(w, err)
		return
	}
	httpapi.RespondJSON(w, status, view)
}
