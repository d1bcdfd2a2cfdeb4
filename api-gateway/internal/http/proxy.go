package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/fjod/storefront/pkg/apperr"
	"github.com/fjod/storefront/pkg/circuitbreaker"
	"github.com/fjod/storefront/pkg/httpapi"
	"github.com/fjod/storefront/pkg/logger"
	"github.com/fjod/storefront/pkg/shopper"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// NewProxy forwards requests to the service at target with prefix removed from
// the path. The shopper resolved by Authenticator travels as headers.
func NewProxy(name string, target *url.URL, prefix string, log *zap.Logger) http.Handler {
	settings := circuitbreaker.DefaultSettings()
	settings.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, context.Canceled)
	}
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.URL.Path = singleSlash(target.Path, strings.TrimPrefix(pr.In.URL.Path, prefix))
			pr.Out.URL.RawPath = ""
			pr.SetXForwarded()
			if id, ok := shopper.FromContext(pr.In.Context()); ok {
				id.SetHeaders(pr.Out.Header)
			}
			if reqID := middleware.GetReqID(pr.In.Context()); reqID != "" {
				pr.Out.Header.Set(middleware.RequestIDHeader, reqID)
			}
		},
		Transport: &breakerTransport{
			next:    otelhttp.NewTransport(http.DefaultTransport),
			breaker: circuitbreaker.New[*http.Response](name, settings, log),
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.WithTrace(r.Context(), log).Warn("upstream request failed",
				zap.String("upstream", name), zap.String("path", r.URL.Path), zap.Error(err))
			if errors.Is(err, circuitbreaker.ErrOpen) {
				httpapi.RespondError(w, apperr.Wrap(apperr.ErrUnavailable, "%s is temporarily unavailable", name))
				return
			}
			httpapi.RespondError(w, apperr.Wrap(apperr.ErrUnavailable, "%s request failed", name))
		},
	}
}

// breakerTransport stops sending to an upstream that keeps failing at the
// transport level. Error responses from the upstream are passed through.
type breakerTransport struct {
	next    http.RoundTripper
	breaker *circuitbreaker.Breaker[*http.Response]
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.breaker.Execute(func() (*http.Response, error) {
		return t.next.RoundTrip(req)
	})
}

func singleSlash(a, b string) string {
	a = strings.TrimSuffix(a, "/")
	if !strings.HasPrefix(b, "/") {
		b = "/" + b
	}
	return a + b
}
