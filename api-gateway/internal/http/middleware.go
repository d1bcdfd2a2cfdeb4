package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/storefront/pkg/apperr"
	"github.com/fjod/storefront/pkg/httpapi"
	"github.com/fjod/storefront/pkg/shopper"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const GuestCookie = "guest_id"

type AuthConfig struct {
	Secret []byte
	Issuer string
	// GuestTTL is the lifetime of the guest cookie.
	GuestTTL     time.Duration
	SecureCookie bool
	Clock        func() time.Time
}

// Authenticator resolves the shopper of a request. A bearer token identifies a
// registered shopper; anyone else is a guest identified by a cookie that is
// issued on the first request.
type Authenticator struct {
	cfg AuthConfig
}

func NewAuthenticator(cfg AuthConfig) *Authenticator {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.GuestTTL <= 0 {
		cfg.GuestTTL = 30 * 24 * time.Hour
	}
	return &Authenticator{cfg: cfg}
}

// IssueToken signs a token for a registered shopper.
func (a *Authenticator) IssueToken(shopperID string, ttl time.Duration) (string, error) {
	now := a.cfg.Clock()
	claims := jwt.RegisteredClaims{
		Subject:   shopperID,
		Issuer:    a.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.cfg.Secret)
}

// Middleware drops client supplied shopper headers and stores the resolved
// identity in the request context. An invalid token is rejected rather than
// downgraded to a guest.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Del(shopper.HeaderID)
		r.Header.Del(shopper.HeaderKind)

		id, err := a.identify(w, r)
		if err != nil {
			httpapi.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(shopper.NewContext(r.Context(), id)))
	})
}

func (a *Authenticator) identify(w http.ResponseWriter, r *http.Request) (shopper.Identity, error) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok {
			return shopper.Identity{}, apperr.Wrap(apperr.ErrUnauthenticated, "unsupported authorization scheme")
		}
		sub, err := a.parse(token)
		if err != nil {
			return shopper.Identity{}, apperr.Wrap(apperr.ErrUnauthenticated, "invalid token: %v", err)
		}
		return shopper.Identity{ID: sub}, nil
	}

	if c, err := r.Cookie(GuestCookie); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return shopper.Identity{ID: c.Value, Guest: true}, nil
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     GuestCookie,
		Value:    id,
		Path:     "/",
		Expires:  a.cfg.Clock().Add(a.cfg.GuestTTL),
		HttpOnly: true,
		Secure:   a.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return shopper.Identity{ID: id, Guest: true}, nil
}

func (a *Authenticator) parse(token string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.cfg.Clock),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.cfg.Secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("token is not valid")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return claims.Subject, nil
}
