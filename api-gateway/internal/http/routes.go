package http

import (
	"net/http"

	"github.com/fjod/storefront/pkg/httpapi"
	"github.com/go-chi/chi/v5"
)

const APIPrefix = "/api/v1"

type Upstreams struct {
	Cart     http.Handler
	Checkout http.Handler
	Orders   http.Handler
}

type SessionResponseDTO struct {
	ShopperID string `json:"shopper_id"`
	Kind      string `json:"kind"`
}

// Routes mounts the public API. Only the shopper facing routes of each service
// are exposed; the orders service's /internal routes and /totals are not.
func Routes(r chi.Router, auth *Authenticator, up Upstreams) {
	r.Route(APIPrefix, func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Get("/session", Session)
		r.Handle("/cart", up.Cart)
		r.Handle("/cart/*", up.Cart)
		r.Handle("/checkout", up.Checkout)
		r.Handle("/checkout/*", up.Checkout)
		r.Handle("/orders", up.Orders)
		r.Handle("/orders/*", up.Orders)
	})
}

// Session tells the client who it is, which matters for guests whose id
// lives in a cookie.
func Session(w http.ResponseWriter, r *http.Request) {
	id, err := httpapi.Shopper(r)
	if err != nil {
		httpapi.RespondError(w, err)
		return
	}
	httpapi.RespondJSON(w, http.StatusOK, SessionResponseDTO{ShopperID: id.ID, Kind: id.Kind()})
}
