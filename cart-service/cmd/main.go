package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fjod/storefront/cart-service/internal/cache"
	carthttp "github.com/fjod/storefront/cart-service/internal/http"
	"github.com/fjod/storefront/cart-service/internal/poller"
	"github.com/fjod/storefront/cart-service/internal/repository"
	"github.com/fjod/storefront/cart-service/internal/service"
	"github.com/fjod/storefront/pkg/catalog"
	"github.com/fjod/storefront/pkg/config"
	"github.com/fjod/storefront/pkg/httpapi"
	"github.com/fjod/storefront/pkg/logger"
	"github.com/fjod/storefront/pkg/observability"
	"github.com/fjod/storefront/pkg/pricing"
	"github.com/fjod/storefront/pkg/shutdown"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	config.Base
	MongoURI        string
	MongoDBName     string
	RedisAddr       string
	RedisPassword   string
	KafkaBrokers    []string
	CatalogURL      string
	PricingConfig   string
	GuestCartTTL    time.Duration
	DebounceWait    time.Duration
	IdleTTL         time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

func loadConfig() Config {
	return Config{
		Base:            config.LoadBase("8082"),
		MongoURI:        config.GetEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:     config.GetEnv("MONGO_DB_NAME", "cartdb"),
		RedisAddr:       config.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   config.GetEnv("REDIS_PASSWORD", ""),
		KafkaBrokers:    config.GetList("KAFKA_BROKERS", "localhost:9092"),
		CatalogURL:      config.GetEnv("CATALOG_URL", "http://localhost:8081"),
		PricingConfig:   config.GetEnv("PRICING_CONFIG", ""),
		GuestCartTTL:    config.GetDuration("GUEST_CART_TTL", 7*24*time.Hour),
		DebounceWait:    config.GetDuration("CART_DEBOUNCE_WAIT", 500*time.Millisecond),
		IdleTTL:         config.GetDuration("CART_IDLE_TTL", 30*time.Minute),
		RequestTimeout:  config.GetDuration("REQUEST_TIMEOUT", 5*time.Second),
		ShutdownTimeout: config.GetDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func main() {
	cfg := loadConfig()
	log, err := logger.New(logger.Options{Service: "cart-service", Env: cfg.Env, Level: cfg.LogLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if err := run(cfg, log); err != nil {
		log.Fatal("cart service failed", zap.Error(err))
	}
	log.Info("cart service stopped")
}

func run(cfg Config, log *zap.Logger) error {
	ctx, stop := shutdown.WithSignals(context.Background())
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, log, observability.TracingFromEnv("cart-service", cfg.Env))
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	pricingCfg, err := pricing.LoadConfig(cfg.PricingConfig)
	if err != nil {
		return err
	}
	engine := pricing.NewEngine(pricingCfg, nil)

	mongoDB, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		return err
	}
	defer func() { _ = mongoDB.Client().Disconnect(context.Background()) }()
	repo := repository.NewMongoRepository(mongoDB)
	if err := repo.CreateIndexes(ctx); err != nil {
		return err
	}
	log.Info("connected to MongoDB", zap.String("database", cfg.MongoDBName))

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	log.Info("redis ping succeeded")

	carts := service.NewCartService(
		repo,
		cache.NewRedisCache(redisClient, cache.RegisteredCacheOptions()),
		cache.NewRedisCache(redisClient, cache.GuestOptions(cfg.GuestCartTTL)),
		catalog.NewHTTPReader(cfg.CatalogURL, cfg.RequestTimeout, log),
		engine,
		log,
		service.Config{
			DebounceWait:   cfg.DebounceWait,
			IdleTTL:        cfg.IdleTTL,
			DefaultPricing: pricing.Context{ShippingMethod: pricing.ShippingStandard, Locale: pricingCfg.DefaultLocale},
		},
	)
	defer carts.Close()

	cleaner := poller.NewPoller(carts, poller.NewKafkaReader(cfg.KafkaBrokers...), log)
	defer cleaner.Close()

	router := httpapi.NewRouter(log, cfg.RequestTimeout)
	carthttp.NewCartHandler(carts, cfg.RequestTimeout).Routes(router)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		carts.Run(gctx)
		return nil
	})
	g.Go(func() error {
		cleaner.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return httpapi.Serve(gctx, srv, cfg.ShutdownTimeout, log)
	})
	return g.Wait()
}
