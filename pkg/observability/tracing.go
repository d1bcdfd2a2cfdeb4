// Package observability configures OpenTelemetry tracing for a service.
package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/fjod/storefront/pkg/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.uber.org/zap"
)

type TracingConfig struct {
	ServiceName string
	Environment string
	Enabled     bool
	// Endpoint of an OTLP/HTTP collector. Empty falls back to stdout.
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// InitTracing installs the global tracer provider and propagator. The returned
// function flushes and stops the provider. Disabled tracing returns a no-op.
func InitTracing(ctx context.Context, log *zap.Logger, cfg TracingConfig) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		log.Warn("otel resource init failed, continuing", zap.Error(err))
	}

	exporter, err := buildExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(clampRatio(cfg.SampleRatio)))),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	log.Info("otel tracing initialized", zap.String("endpoint", cfg.Endpoint))
	return tp.Shutdown, nil
}

func buildExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	if cfg.Endpoint == "" {
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.New(ctx, opts...)
}

func clampRatio(r float64) float64 {
	switch {
	case r <= 0:
		return 0.1
	case r > 1:
		return 1
	default:
		return r
	}
}

// TracingFromEnv reads OTEL_ENABLED, OTEL_EXPORTER_OTLP_ENDPOINT,
// OTEL_EXPORTER_OTLP_INSECURE and OTEL_SAMPLER_RATIO.
func TracingFromEnv(service, env string) TracingConfig {
	ratio, err := strconv.ParseFloat(config.GetEnv("OTEL_SAMPLER_RATIO", "0.1"), 64)
	if err != nil {
		ratio = 0.1
	}
	return TracingConfig{
		ServiceName: service,
		Environment: env,
		Enabled:     config.GetBool("OTEL_ENABLED", false),
		Endpoint:    config.GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Insecure:    config.GetBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		SampleRatio: ratio,
	}
}
