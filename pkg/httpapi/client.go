package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/storefront/pkg/apperr"
	"github.com/fjod/storefront/pkg/circuitbreaker"
	"github.com/fjod/storefront/pkg/shopper"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type response struct {
	status int
	body   []byte
}

type upstreamStatusError struct {
	status int
}

func (e upstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned %d", e.status)
}

// Client calls another service's JSON API through a circuit breaker. The
// shopper identity and request id found in the context are forwarded.
type Client struct {
	name    string
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.Breaker[response]
}

func NewClient(name, baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	settings := circuitbreaker.DefaultSettings()
	settings.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, context.Canceled)
	}
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: circuitbreaker.New[response](name, settings, log),
	}
}

// Do sends in as JSON (when non-nil) and decodes a 2xx body into out (when non-nil).
// Non-2xx responses are decoded back into apperr errors.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal %s request: %w", c.name, err)
		}
	}

	res, err := c.breaker.Execute(func() (response, error) {
		return c.send(ctx, method, path, payload)
	})
	if err != nil {
		var us upstreamStatusError
		switch {
		case errors.As(err, &us):
			return decodeError(res)
		case errors.Is(err, context.Canceled):
			return fmt.Errorf("%s %s: %w", method, path, err)
		case errors.Is(err, circuitbreaker.ErrOpen):
			return apperr.Wrap(apperr.ErrUnavailable, "%s is temporarily unavailable", c.name)
		case isTimeout(err):
			return apperr.Wrap(apperr.ErrTimeout, "%s did not answer in time", c.name)
		default:
			return apperr.Wrap(apperr.ErrUnavailable, "%s request failed: %v", c.name, err)
		}
	}

	if res.status >= 400 {
		return decodeError(res)
	}
	if out != nil && len(res.body) > 0 {
		if err := json.Unmarshal(res.body, out); err != nil {
			return fmt.Errorf("decode %s response: %w", c.name, err)
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte) (response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return response{}, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id, ok := shopper.FromContext(ctx); ok {
		id.SetHeaders(req.Header)
	}
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		req.Header.Set(middleware.RequestIDHeader, reqID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return response{}, err
	}
	r := response{status: resp.StatusCode, body: data}
	if resp.StatusCode >= 500 {
		return r, upstreamStatusError{status: resp.StatusCode}
	}
	return r, nil
}

func decodeError(res response) error {
	var er ErrorResponse
	if err := json.Unmarshal(res.body, &er); err != nil || (er.Code == "" && er.Error == "") {
		if res.status >= 500 {
			return apperr.Wrap(apperr.ErrUnavailable, "upstream returned %d", res.status)
		}
		return apperr.Wrap(apperr.ErrInternal, "upstream returned %d", res.status)
	}
	return apperr.FromWire(er.Kind, er.Code, er.Error, er.Details)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
