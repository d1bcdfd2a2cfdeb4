package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fjod/storefront/pkg/apperr"
	"github.com/fjod/storefront/pkg/shopper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errOutOfStock = apperr.Define(apperr.KindStock, "test_out_of_stock", "out of stock")

func TestRespondError_AppError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, apperr.WithDetails(errOutOfStock, map[string]string{"product_id": "p1"}, "only 2 left"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "only 2 left", body.Error)
	assert.Equal(t, "test_out_of_stock", body.Code)
	assert.Equal(t, "stock", body.Kind)
	assert.Equal(t, "p1", body.Details["product_id"])
}

func TestRespondError_HidesPlainErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pq:")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(apperr.KindValidation))
	assert.Equal(t, http.StatusNotFound, StatusFor(apperr.KindNotFound))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(apperr.KindPricing))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(apperr.KindUnavailable))
	assert.Equal(t, http.StatusUnauthorized, StatusFor(apperr.KindUnauthenticated))
	assert.Equal(t, http.StatusConflict, StatusFor(apperr.KindLifecycle))
}

func TestDecodeJSON_Invalid(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))
	var v map[string]any
	err := DecodeJSON(req, &v)
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
}

func TestShopperMiddleware(t *testing.T) {
	var got shopper.Identity
	h := ShopperMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := Shopper(r)
		require.NoError(t, err)
		got = id
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	shopper.Identity{ID: "g-1", Guest: true}.SetHeaders(req.Header)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, shopper.Identity{ID: "g-1", Guest: true}, got)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
