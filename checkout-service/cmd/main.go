package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	checkouthttp "github.com/fjod/storefront/checkout-service/internal/http"
	"github.com/fjod/storefront/checkout-service/internal/publisher"
	"github.com/fjod/storefront/checkout-service/internal/repository"
	"github.com/fjod/storefront/checkout-service/internal/service"
	"github.com/fjod/storefront/checkout-service/internal/store"
	"github.com/fjod/storefront/pkg/config"
	"github.com/fjod/storefront/pkg/httpapi"
	"github.com/fjod/storefront/pkg/logger"
	"github.com/fjod/storefront/pkg/observability"
	"github.com/fjod/storefront/pkg/orderapi"
	"github.com/fjod/storefront/pkg/pricing"
	"github.com/fjod/storefront/pkg/shutdown"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	config.Base
	DBHost           string
	DBPort           int
	DBUser           string
	DBPassword       string
	DBName           string
	MigrationsPath   string
	KafkaBrokers     []string
	CartURL          string
	OrdersURL        string
	PricingConfig    string
	AbandonAfter     time.Duration
	SessionRetention time.Duration
	OutboxRetention  time.Duration
	PricingTimeout   time.Duration
	SubmitTimeout    time.Duration
	SubmitAttempts   int
	RequestTimeout   time.Duration
	ShutdownTimeout  time.Duration
}

func loadConfig() Config {
	return Config{
		Base:             config.LoadBase("8083"),
		DBHost:           config.GetEnv("DB_HOST", "localhost"),
		DBPort:           config.GetInt("DB_PORT", 5432),
		DBUser:           config.GetEnv("DB_USER", "postgres"),
		DBPassword:       config.GetEnv("DB_PASSWORD", "postgres"),
		DBName:           config.GetEnv("DB_NAME", "checkout"),
		MigrationsPath:   config.GetEnv("MIGRATIONS_PATH", "./internal/repository/migrations"),
		KafkaBrokers:     config.GetList("KAFKA_BROKERS", "localhost:9092"),
		CartURL:          config.GetEnv("CART_URL", "http://localhost:8082"),
		OrdersURL:        config.GetEnv("ORDERS_URL", "http://localhost:8084"),
		PricingConfig:    config.GetEnv("PRICING_CONFIG", ""),
		AbandonAfter:     config.GetDuration("CHECKOUT_ABANDON_AFTER", 30*time.Minute),
		SessionRetention: config.GetDuration("CHECKOUT_SESSION_RETENTION", store.DefaultRetention),
		OutboxRetention:  config.GetDuration("OUTBOX_RETENTION", 7*24*time.Hour),
		PricingTimeout:   config.GetDuration("PRICING_TIMEOUT", 3*time.Second),
		SubmitTimeout:    config.GetDuration("SUBMIT_TIMEOUT", 10*time.Second),
		SubmitAttempts:   config.GetInt("SUBMIT_ATTEMPTS", 2),
		RequestTimeout:   config.GetDuration("REQUEST_TIMEOUT", 5*time.Second),
		ShutdownTimeout:  config.GetDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func main() {
	cfg := loadConfig()
	log, err := logger.New(logger.Options{Service: "checkout-service", Env: cfg.Env, Level: cfg.LogLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if err := run(cfg, log); err != nil {
		log.Fatal("checkout service failed", zap.Error(err))
	}
	log.Info("checkout service stopped")
}

func run(cfg Config, log *zap.Logger) error {
	ctx, stop := shutdown.WithSignals(context.Background())
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, log, observability.TracingFromEnv("checkout-service", cfg.Env))
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	pricingCfg, err := pricing.LoadConfig(cfg.PricingConfig)
	if err != nil {
		return err
	}

	creds := &repository.Credentials{
		Host:              cfg.DBHost,
		Port:              cfg.DBPort,
		User:              cfg.DBUser,
		Password:          cfg.DBPassword,
		DBName:            cfg.DBName,
		MigrationsDirPath: cfg.MigrationsPath,
	}
	repo, err := repository.NewRepository(ctx, creds)
	if err != nil {
		return err
	}
	defer repo.Close()
	if err := repo.RunMigrations(creds); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database migrations completed")

	orders := orderapi.NewClient(cfg.OrdersURL, cfg.SubmitTimeout, log)
	sessions := store.NewMemoryStore(cfg.SessionRetention, time.Now)
	defer sessions.Close()

	checkout := service.NewCheckoutService(
		sessions,
		service.NewCartHandler(service.NewHTTPCartClient(cfg.CartURL, cfg.RequestTimeout, log), cfg.RequestTimeout),
		service.NewPricingHandler(orders, cfg.PricingTimeout),
		service.NewOrderHandler(orders, cfg.SubmitTimeout),
		pricing.NewEngine(pricingCfg, nil),
		repo,
		log,
		service.Config{AbandonAfter: cfg.AbandonAfter, SubmitAttempts: cfg.SubmitAttempts},
	)
	defer checkout.Close()

	outbox := publisher.NewOutboxPoller(repo, publisher.NewKafkaWriter(cfg.KafkaBrokers...), cfg.OutboxRetention, log)
	defer outbox.Close()

	router := httpapi.NewRouter(log, cfg.SubmitTimeout)
	checkouthttp.NewCheckoutHandler(checkout, cfg.SubmitTimeout).Routes(router)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		checkout.RunSweeper(gctx)
		return nil
	})
	g.Go(func() error {
		outbox.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return httpapi.Serve(gctx, srv, cfg.ShutdownTimeout, log)
	})
	return g.Wait()
}
