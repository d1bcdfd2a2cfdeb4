// Package shopper carries the identity of the shopper a request acts for.
// The gateway authenticates; downstream services trust these headers.
package shopper

import (
	"context"
	"net/http"
	"strings"

	"github.com/fjod/storefront/pkg/apperr"
)

const (
	HeaderID   = "X-Shopper-ID"
	HeaderKind = "X-Shopper-Kind"

	KindGuest      = "guest"
	KindRegistered = "registered"
)

type Identity struct {
	ID    string `json:"id"`
	Guest bool   `json:"guest"`
}

func (id Identity) Kind() string {
	if id.Guest {
		return KindGuest
	}
	return KindRegistered
}

// Key is unique across guests and registered shoppers.
func (id Identity) Key() string {
	return id.Kind() + ":" + id.ID
}

func (id Identity) SetHeaders(h http.Header) {
	h.Set(HeaderID, id.ID)
	h.Set(HeaderKind, id.Kind())
}

func FromHeaders(h http.Header) (Identity, error) {
	id := strings.TrimSpace(h.Get(HeaderID))
	if id == "" {
		return Identity{}, apperr.ErrUnauthenticated
	}
	switch h.Get(HeaderKind) {
	case KindGuest:
		return Identity{ID: id, Guest: true}, nil
	case KindRegistered:
		return Identity{ID: id}, nil
	default:
		return Identity{}, apperr.Wrap(apperr.ErrUnauthenticated, "unknown shopper kind %q", h.Get(HeaderKind))
	}
}

type ctxKey struct{}

func NewContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
