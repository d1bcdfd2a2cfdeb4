package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	h "github.com/fjod/storefront/api-gateway/internal/http"
	"github.com/fjod/storefront/pkg/config"
	"github.com/fjod/storefront/pkg/httpapi"
	"github.com/fjod/storefront/pkg/logger"
	"github.com/fjod/storefront/pkg/observability"
	"github.com/fjod/storefront/pkg/shutdown"
	"go.uber.org/zap"
)

type Config struct {
	config.Base
	CartURL         string
	CheckoutURL     string
	OrdersURL       string
	JWTSecret       string
	JWTIssuer       string
	GuestTTL        time.Duration
	SecureCookies   bool
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

func loadConfig() Config {
	return Config{
		Base:            config.LoadBase("8080"),
		CartURL:         config.GetEnv("CART_URL", "http://localhost:8082"),
		CheckoutURL:     config.GetEnv("CHECKOUT_URL", "http://localhost:8083"),
		OrdersURL:       config.GetEnv("ORDERS_URL", "http://localhost:8084"),
		JWTSecret:       config.GetEnv("JWT_SECRET", ""),
		JWTIssuer:       config.GetEnv("JWT_ISSUER", "storefront"),
		GuestTTL:        config.GetDuration("GUEST_COOKIE_TTL", 30*24*time.Hour),
		SecureCookies:   config.GetBool("SECURE_COOKIES", false),
		RequestTimeout:  config.GetDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout: config.GetDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func main() {
	cfg := loadConfig()
	log, err := logger.New(logger.Options{Service: "api-gateway", Env: cfg.Env, Level: cfg.LogLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if err := run(cfg, log); err != nil {
		log.Fatal("api gateway failed", zap.Error(err))
	}
	log.Info("api gateway stopped")
}

func run(cfg Config, log *zap.Logger) error {
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	ctx, stop := shutdown.WithSignals(context.Background())
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, log, observability.TracingFromEnv("api-gateway", cfg.Env))
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	upstreams := h.Upstreams{}
	for _, u := range []struct {
		name, raw string
		into      *http.Handler
	}{
		{"cart", cfg.CartURL, &upstreams.Cart},
		{"checkout", cfg.CheckoutURL, &upstreams.Checkout},
		{"orders", cfg.OrdersURL, &upstreams.Orders},
	} {
		target, err := url.Parse(u.raw)
		if err != nil {
			return fmt.Errorf("invalid %s url: %w", u.name, err)
		}
		*u.into = h.NewProxy(u.name, target, h.APIPrefix, log)
	}

	auth := h.NewAuthenticator(h.AuthConfig{
		Secret:       []byte(cfg.JWTSecret),
		Issuer:       cfg.JWTIssuer,
		GuestTTL:     cfg.GuestTTL,
		SecureCookie: cfg.SecureCookies,
	})

	router := httpapi.NewRouter(log, cfg.RequestTimeout)
	h.Routes(router, auth, upstreams)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return httpapi.Serve(ctx, srv, cfg.ShutdownTimeout, log)
}
