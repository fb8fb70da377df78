// Package tracing installs the global OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace/noop"
)

const ServiceName = "event-board"

// Config selects the exporter. An empty Exporter leaves tracing off.
type Config struct {
	Exporter   string // "", "otlp" or "zipkin"
	Endpoint   string
	SampleRate float64
	Version    string
}

// ShutdownFunc flushes and stops the provider.
type ShutdownFunc func(context.Context) error

// Setup installs a tracer provider for cfg and returns its shutdown hook.
func Setup(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	if cfg.Exporter == "" {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	rate := cfg.SampleRate
	if rate <= 0 || rate > 1.0 {
		rate = 1.0
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch cfg.Exporter {
	case "otlp":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4318"
		}
		exporter, err = otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
	case "zipkin":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "http://localhost:9411/api/v2/spans"
		}
		exporter, err = zipkin.New(endpoint)
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", cfg.Exporter, err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return provider.Shutdown, nil
}
