package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/storefront/cart-service/internal/service"
	"github.com/fjod/storefront/pkg/apperr"
	"github.com/fjod/storefront/pkg/httpapi"
	"github.com/fjod/storefront/pkg/pricing"
	"github.com/fjod/storefront/pkg/shopper"
	"github.com/go-chi/chi/v5"
)

const maxQuantity = 99

type CartService interface {
	GetCart(ctx context.Context, id shopper.Identity) (service.View, error)
	Snapshot(ctx context.Context, id shopper.Identity) (service.View, error)
	AddItem(ctx context.Context, id shopper.Identity, productID string, quantity int) (service.View, error)
	UpdateQuantity(ctx context.Context, id shopper.Identity, productID string, quantity int) (service.View, error)
	RemoveItem(ctx context.Context, id shopper.Identity, productID string) (service.View, error)
	ClearCart(ctx context.Context, id shopper.Identity) (service.View, error)
	ApplyDiscount(ctx context.Context, id shopper.Identity, code string) (service.View, error)
	RemoveDiscount(ctx context.Context, id shopper.Identity) (service.View, error)
	SetShippingMethod(ctx context.Context, id shopper.Identity, method pricing.ShippingMethod) (service.View, error)
	SetLocale(ctx context.Context, id shopper.Identity, locale string) (service.View, error)
}

type CartHandler struct {
	service CartService
	timeout time.Duration
}

func NewCartHandler(svc CartService, timeout time.Duration) *CartHandler {
	return &CartHandler{
		service: svc,
		timeout: timeout,
	}
}

type AddItemRequestDTO struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type DiscountRequestDTO struct {
	Code string `json:"code"`
}

type ShippingRequestDTO struct {
	Method pricing.ShippingMethod `json:"method"`
}

type LocaleRequestDTO struct {
	Locale string `json:"locale"`
}

// Routes mounts the cart API. Every route requires a shopper identity.
func (h *CartHandler) Routes(r chi.Router) {
	r.Route("/cart", func(r chi.Router) {
		r.Use(httpapi.ShopperMiddleware)
		r.Get("/", h.GetCart)
		r.Delete("/", h.ClearCart)
		r.Post("/snapshot", h.Snapshot)
		r.Post("/items", h.AddItem)
		r.Patch("/items/{product_id}", h.UpdateQuantity)
		r.Delete("/items/{product_id}", h.RemoveItem)
		r.Put("/discount", h.ApplyDiscount)
		r.Delete("/discount", h.RemoveDiscount)
		r.Put("/shipping", h.SetShippingMethod)
		r.Put("/locale", h.SetLocale)
	})
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, http.StatusOK, h.service.GetCart)
}

// Snapshot is called by checkout; pending edits are persisted first.
func (h *CartHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, http.StatusOK, h.service.Snapshot)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, http.StatusOK, h.service.ClearCart)
}

func (h *CartHandler) RemoveDiscount(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, http.StatusOK, h.service.RemoveDiscount)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequestDTO
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.RespondError(w, err)
		return
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" {
		httpapi.RespondError(w, apperr.WithDetails(apperr.ErrInvalidRequest,
			map[string]string{"product_id": "is required"}, "product_id is required"))
		return
	}
	if err := validQuantity(req.Quantity, 1); err != nil {
		httpapi.RespondError(w, err)
		return
	}
	h.handle(w, r, http.StatusCreated, func(ctx context.Context, id shopper.Identity) (service.View, error) {
		return h.service.AddItem(ctx, id, req.ProductID, req.Quantity)
	})
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")
	var req UpdateQuantityRequestDTO
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.RespondError(w, err)
		return
	}
	if err := validQuantity(req.Quantity, 0); err != nil {
		httpapi.RespondError(w, err)
		return
	}
	h.handle(w, r, http.StatusOK, func(ctx context.Context, id shopper.Identity) (service.View, error) {
		return h.service.UpdateQuantity(ctx, id, productID, req.Quantity)
	})
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")
	h.handle(w, r, http.StatusOK, func(ctx context.Context, id shopper.Identity) (service.View, error) {
		return h.service.RemoveItem(ctx, id, productID)
	})
}

func (h *CartHandler) ApplyDiscount(w http.ResponseWriter, r *http.Request) {
	var req DiscountRequestDTO
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.RespondError(w, err)
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		httpapi.RespondError(w, apperr.WithDetails(apperr.ErrInvalidRequest,
			map[string]string{"code": "is required"}, "discount code is required"))
		return
	}
	h.handle(w, r, http.StatusOK, func(ctx context.Context, id shopper.Identity) (service.View, error) {
		return h.service.ApplyDiscount(ctx, id, req.Code)
	})
}

func (h *CartHandler) SetShippingMethod(w http.ResponseWriter, r *http.Request) {
	var req ShippingRequestDTO
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.RespondError(w, err)
		return
	}
	h.handle(w, r, http.StatusOK, func(ctx context.Context, id shopper.Identity) (service.View, error) {
		return h.service.SetShippingMethod(ctx, id, req.Method)
	})
}

func (h *CartHandler) SetLocale(w http.ResponseWriter, r *http.Request) {
	var req LocaleRequestDTO
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.RespondError(w, err)
		return
	}
	h.handle(w, r, http.StatusOK, func(ctx context.Context, id shopper.Identity) (service.View, error) {
		return h.service.SetLocale(ctx, id, strings.TrimSpace(req.Locale))
	})
}

func (h *CartHandler) handle(w http.ResponseWriter, r *http.Request, status int,
	call func(context.Context, shopper.Identity) (service.View, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, err := httpapi.Shopper(r)
	if err != nil {
		httpapi.RespondError(w, err)
		return
	}
	view, err := call(ctx, id)
	if err != nil {
		httpapi.RespondError(w, err)
		return
	}
	httpapi.RespondJSON(w, status, view)
}

func validQuantity(q, lowest int) error {
	if q < lowest || q > maxQuantity {
		msg := fmt.Sprintf("must be between %d and %d", lowest, maxQuantity)
		return apperr.WithDetails(apperr.ErrInvalidRequest, map[string]string{"quantity": msg}, "quantity %s", msg)
	}
	return nil
}
