package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fjod/storefront/pkg/httpapi"
	"github.com/fjod/storefront/pkg/shopper"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newAuth() *Authenticator {
	return NewAuthenticator(AuthConfig{
		Secret: []byte("test-secret"),
		Issuer: "storefront",
		Clock:  func() time.Time { return now },
	})
}

// echoIdentity answers with the identity the middleware resolved and the
// shopper headers it left on the request.
func echoIdentity(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := shopper.FromContext(r.Context())
		require.True(t, ok)
		w.Header().Set("X-Seen-Shopper", r.Header.Get(shopper.HeaderID))
		httpapi.RespondJSON(w, http.StatusOK, SessionResponseDTO{ShopperID: id.ID, Kind: id.Kind()})
	})
}

func serve(h http.Handler, req *http.Request) (*httptest.ResponseRecorder, SessionResponseDTO) {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var resp SessionResponseDTO
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	return rec, resp
}

func TestMiddleware_BearerTokenIsRegistered(t *testing.T) {
	auth := newAuth()
	token, err := auth.IssueToken("user-42", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec, resp := serve(auth.Middleware(echoIdentity(t)), req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, SessionResponseDTO{ShopperID: "user-42", Kind: shopper.KindRegistered}, resp)
	assert.Empty(t, rec.Result().Cookies())
}

func TestMiddleware_RejectsBadTokens(t *testing.T) {
	auth := newAuth()
	expired, err := auth.IssueToken("user-42", -time.Minute)
	require.NoError(t, err)
	foreign, err := NewAuthenticator(AuthConfig{Secret: []byte("other"), Issuer: "storefront"}).IssueToken("user-42", time.Hour)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "user-42"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, header := range map[string]string{
		"expired":   "Bearer " + expired,
		"signature": "Bearer " + foreign,
		"alg none":  "Bearer " + none,
		"scheme":    "Basic dXNlcjpwYXNz",
		"garbage":   "Bearer not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", header)

			rec := httptest.NewRecorder()
			auth.Middleware(echoIdentity(t)).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestMiddleware_IssuesGuestCookie(t *testing.T) {
	auth := newAuth()

	rec, resp := serve(auth.Middleware(echoIdentity(t)), httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, shopper.KindGuest, resp.Kind)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, GuestCookie, cookies[0].Name)
	assert.Equal(t, resp.ShopperID, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	_, err := uuid.Parse(cookies[0].Value)
	assert.NoError(t, err)
}

func TestMiddleware_ReusesGuestCookie(t *testing.T) {
	auth := newAuth()
	guestID := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: GuestCookie, Value: guestID})

	rec, resp := serve(auth.Middleware(echoIdentity(t)), req)

	assert.Equal(t, guestID, resp.ShopperID)
	assert.Empty(t, rec.Result().Cookies())
}

func TestMiddleware_ReplacesMalformedGuestCookie(t *testing.T) {
	auth := newAuth()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: GuestCookie, Value: "user-1"})

	rec, resp := serve(auth.Middleware(echoIdentity(t)), req)

	assert.NotEqual(t, "user-1", resp.ShopperID)
	assert.Len(t, rec.Result().Cookies(), 1)
}

func TestMiddleware_StripsSpoofedHeaders(t *testing.T) {
	auth := newAuth()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(shopper.HeaderID, "user-1")
	req.Header.Set(shopper.HeaderKind, shopper.KindRegistered)

	rec, resp := serve(auth.Middleware(echoIdentity(t)), req)

	assert.Empty(t, rec.Header().Get("X-Seen-Shopper"))
	assert.Equal(t, shopper.KindGuest, resp.Kind)
	assert.NotEqual(t, "user-1", resp.ShopperID)
}
