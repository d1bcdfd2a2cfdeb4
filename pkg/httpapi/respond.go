// Package httpapi holds the JSON request/response helpers shared by the
// services and the client used for service to service calls.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/fjod/storefront/pkg/apperr"
	"github.com/fjod/storefront/pkg/shopper"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Kind    string            `json:"kind,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

// RespondError writes err as an ErrorResponse. Errors outside the apperr
// taxonomy are logged and reported as internal errors without their text.
func RespondError(w http.ResponseWriter, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		zap.L().Error("unhandled error", zap.Error(err))
		RespondJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: apperr.ErrInternal.Reason,
			Code:  apperr.ErrInternal.Code,
			Kind:  string(apperr.KindInternal),
		})
		return
	}
	RespondJSON(w, StatusFor(ae.Kind), ErrorResponse{
		Error:   ae.Error(),
		Code:    ae.Code,
		Kind:    string(ae.Kind),
		Details: ae.Details,
	})
}

func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindStock, apperr.KindSubmission, apperr.KindLifecycle, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindPricing:
		return http.StatusUnprocessableEntity
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindUnavailable, apperr.KindPersistence:
		return http.StatusServiceUnavailable
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSON decodes a size limited request body into v.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.ErrInvalidRequest, "invalid JSON body: %v", err)
	}
	return nil
}

// ShopperMiddleware rejects requests without a shopper identity and stores it
// in the request context.
func ShopperMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := shopper.FromHeaders(r.Header)
		if err != nil {
			RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(shopper.NewContext(r.Context(), id)))
	})
}

// Shopper returns the identity stored by ShopperMiddleware.
func Shopper(r *http.Request) (shopper.Identity, error) {
	id, ok := shopper.FromContext(r.Context())
	if !ok {
		return shopper.Identity{}, apperr.ErrUnauthenticated
	}
	return id, nil
}
