package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fjod/storefront/orders-service/internal/consumer"
	"github.com/fjod/storefront/orders-service/internal/gateway"
	ordershttp "github.com/fjod/storefront/orders-service/internal/http"
	"github.com/fjod/storefront/orders-service/internal/repository"
	"github.com/fjod/storefront/orders-service/internal/service"
	"github.com/fjod/storefront/pkg/catalog"
	"github.com/fjod/storefront/pkg/config"
	"github.com/fjod/storefront/pkg/httpapi"
	"github.com/fjod/storefront/pkg/logger"
	"github.com/fjod/storefront/pkg/observability"
	"github.com/fjod/storefront/pkg/pricing"
	"github.com/fjod/storefront/pkg/shutdown"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	config.Base
	DBHost             string
	DBPort             int
	DBUser             string
	DBPassword         string
	DBName             string
	MigrationsPath     string
	KafkaBrokers       []string
	CatalogURL         string
	GatewayURL         string
	PricingConfig      string
	CatalogTimeout     time.Duration
	GatewayTimeout     time.Duration
	CatalogConcurrency int
	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration
}

func loadConfig() Config {
	return Config{
		Base:               config.LoadBase("8084"),
		DBHost:             config.GetEnv("DB_HOST", "localhost"),
		DBPort:             config.GetInt("DB_PORT", 5432),
		DBUser:             config.GetEnv("DB_USER", "postgres"),
		DBPassword:         config.GetEnv("DB_PASSWORD", "postgres"),
		DBName:             config.GetEnv("DB_NAME", "orders"),
		MigrationsPath:     config.GetEnv("MIGRATIONS_PATH", "./internal/repository/migrations"),
		KafkaBrokers:       config.GetList("KAFKA_BROKERS", "localhost:9092"),
		CatalogURL:         config.GetEnv("CATALOG_URL", "http://localhost:8081"),
		GatewayURL:         config.GetEnv("PAYMENT_GATEWAY_URL", "http://localhost:8090"),
		PricingConfig:      config.GetEnv("PRICING_CONFIG", ""),
		CatalogTimeout:     config.GetDuration("CATALOG_TIMEOUT", 2*time.Second),
		GatewayTimeout:     config.GetDuration("PAYMENT_GATEWAY_TIMEOUT", 8*time.Second),
		CatalogConcurrency: config.GetInt("CATALOG_CONCURRENCY", 8),
		RequestTimeout:     config.GetDuration("REQUEST_TIMEOUT", 10*time.Second),
		ShutdownTimeout:    config.GetDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func main() {
	cfg := loadConfig()
	log, err := logger.New(logger.Options{Service: "orders-service", Env: cfg.Env, Level: cfg.LogLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if err := run(cfg, log); err != nil {
		log.Fatal("orders service failed", zap.Error(err))
	}
	log.Info("orders service stopped")
}

func run(cfg Config, log *zap.Logger) error {
	ctx, stop := shutdown.WithSignals(context.Background())
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, log, observability.TracingFromEnv("orders-service", cfg.Env))
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

	orders := service.NewOrderService(
		repo,
		catalog.NewHTTPReader(cfg.CatalogURL, cfg.CatalogTimeout, log),
		pricing.NewEngine(pricingCfg, nil),
		gateway.NewClient(cfg.GatewayURL, cfg.GatewayTimeout, log),
		log,
		service.Config{CatalogConcurrency: cfg.CatalogConcurrency},
	)

	lifecycle := consumer.NewConsumer(orders, consumer.NewKafkaReader(cfg.KafkaBrokers...), log)
	defer lifecycle.Close()

	router := httpapi.NewRouter(log, cfg.RequestTimeout)
	ordershttp.NewOrdersHandler(orders, cfg.RequestTimeout).Routes(router)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lifecycle.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return httpapi.Serve(gctx, srv, cfg.ShutdownTimeout, log)
	})
	return g.Wait()
}
