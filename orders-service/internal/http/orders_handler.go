package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/storefront/orders-service/internal/domain"
	"github.com/fjod/storefront/pkg/apperr"
	"github.com/fjod/storefront/pkg/httpapi"
	"github.com/fjod/storefront/pkg/orderapi"
	"github.com/fjod/storefront/pkg/pricing"
	"github.com/fjod/storefront/pkg/shopper"
	"github.com/go-chi/chi/v5"
)

type OrderService interface {
	ComputeTotals(ctx context.Context, req orderapi.TotalsRequest) (pricing.Breakdown, error)
	Submit(ctx context.Context, owner shopper.Identity, req orderapi.SubmitRequest) (*domain.Order, error)
	Get(ctx context.Context, owner shopper.Identity, orderID string) (*domain.Order, error)
	GetByIdempotencyKey(ctx context.Context, owner shopper.Identity, key string) (*domain.Order, error)
	List(ctx context.Context, owner shopper.Identity) ([]*domain.Order, error)
	Cancel(ctx context.Context, owner shopper.Identity, orderID, reason string) (*domain.Order, error)
	AdvanceStatus(ctx context.Context, orderID string, update orderapi.StatusUpdate) (*domain.Order, error)
	ApplyPaymentStatus(ctx context.Context, orderID string, update orderapi.StatusUpdate) (*domain.Order, error)
}

type OrdersHandler struct {
	service OrderService
	timeout time.Duration
}

func NewOrdersHandler(svc OrderService, timeout time.Duration) *OrdersHandler {
	return &OrdersHandler{
		service: svc,
		timeout: timeout,
	}
}

type ListOrdersResponseDTO struct {
	Orders []orderapi.Order `json:"orders"`
}

// Routes mounts the orders API. The /internal routes are reached by the
// warehouse and payment integrations only and carry no shopper identity.
func (h *OrdersHandler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(httpapi.ShopperMiddleware)
		r.Post("/totals", h.ComputeTotals)
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.Submit)
			r.Get("/", h.List)
			r.Get("/lookup", h.Lookup)
			r.Get("/{order_id}", h.Get)
			r.Get("/{order_id}/status", h.Status)
			r.Post("/{order_id}/cancel", h.Cancel)
		})
	})
	r.Route("/internal/orders/{order_id}", func(r chi.Router) {
		r.Post("/status", h.internalUpdate(h.service.AdvanceStatus))
		r.Post("/payment", h.internalUpdate(h.service.ApplyPaymentStatus))
	})
}

type updateCall func(ctx context.Context, orderID string, update orderapi.StatusUpdate) (*domain.Order, error)

func (h *OrdersHandler) ComputeTotals(w http.ResponseWriter, r *http.Request) {
	var req orderapi.TotalsRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.RespondError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	totals, err := h.service.ComputeTotals(ctx, req)
	if err != nil {
		httpapi.RespondError(w, err)
		return
	}
	httpapi.RespondJSON(w, http.StatusOK, totals)
}

func (h *OrdersHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req orderapi.SubmitRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.RespondError(w, err)
		return
	}
	h.handle(w, r, http.StatusCreated, func(ctx context.Context, owner shopper.Identity) (*domain.Order, error) {
		return h.service.Submit(ctx, owner, req)
	})
}

func (h *OrdersHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	owner, err := httpapi.Shopper(r)
	if err != nil {
		httpapi.RespondError(w, err)
		return
	}
	orders, err := h.service.List(ctx, owner)
	if err != nil {
		httpapi.RespondError(w, err)
		return
	}
	resp := ListOrdersResponseDTO{Orders: make([]orderapi.Order, 0, len(orders))}
	for _, o := range orders {
		resp.Orders = append(resp.Orders, o.Wire())
	}
	httpapi.RespondJSON(w, http.StatusOK, resp)
}

func (h *OrdersHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("idempotency_key"))
	if key == "" {
		httpapi.RespondError(w, apperr.WithDetails(apperr.ErrInvalidRequest,
			map[string]string{"idempotency_key": "is required"}, "idempotency_key is required"))
		return
	}
	h.handle(w, r, http.StatusOK, func(ctx context.Context, owner shopper.Identity) (*domain.Order, error) {
		return h.service.GetByIdempotencyKey(ctx, owner, key)
	})
}

func (h *OrdersHandler) Get(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")
	h.handle(w, r, http.StatusOK, func(ctx context.Context, owner shopper.Identity) (*domain.Order, error) {
		return h.service.Get(ctx, owner, orderID)
	})
}

func (h *OrdersHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	owner, err := httpapi.Shopper(r)
	if err != nil {
		httpapi.RespondError(w, err)
		return
	}
	order, err := h.service.Get(ctx, owner, chi.URLParam(r, "order_id"))
	if err != nil {
		httpapi.RespondError(w, err)
		return
	}
	httpapi.RespondJSON(w, http.StatusOK, order.StatusView())
}

func (h *OrdersHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")
	var req orderapi.CancelRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.RespondError(w, err)
		return
	}
	h.handle(w, r, http.StatusOK, func(ctx context.Context, owner shopper.Identity) (*domain.Order, error) {
		return h.service.Cancel(ctx, owner, orderID, strings.TrimSpace(req.Reason))
	})
}

func (h *OrdersHandler) internalUpdate(call updateCall) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req orderapi.StatusUpdate
		if err := httpapi.DecodeJSON(r, &req); err != nil {
			httpapi.RespondError(w, err)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		order, err := call(ctx, chi.URLParam(r, "order_id"), req)
		if err != nil {
			httpapi.RespondError(w, err)
			return
		}
		httpapi.RespondJSON(w, http.StatusOK, order.StatusView())
	}
}

func (h *OrdersHandler) handle(w http.ResponseWriter, r *http.Request, status int,
	call func(context.Context, shopper.Identity) (*domain.Order, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	owner, err := httpapi.Shopper(r)
	if err != nil {
		httpapi.RespondError(w, err)
		return
	}
	order, err := call(ctx, owner)
	if err != nil {
		httpapi.RespondError(w, err)
		return
	}
	httpapi.RespondJSON(w, status, order.Wire())
}
