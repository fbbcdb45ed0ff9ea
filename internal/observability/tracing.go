// Package observability wires OpenTelemetry trace export for kaiwa.
//
// Spans are exported over OTLP/HTTP to a local collector (an OpenTelemetry
// Collector, a Datadog Agent with OTLP ingest enabled, or anything else that
// speaks OTLP on port 4318). The storage layer starts one client span per
// store call; with no collector running those spans are dropped silently and
// the process is otherwise unaffected.
//
// Setup degrades gracefully: if the exporter cannot be constructed, tracing
// is disabled with a warning and a no-op shutdown is returned, never an
// error that would block startup.
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// DefaultAgentHost is the default OTLP/HTTP collector endpoint.
const DefaultAgentHost = "localhost:4318"

// Config holds tracing setup parameters.
type Config struct {
	// AgentHost is the collector's OTLP/HTTP host:port (default: localhost:4318)
	AgentHost string
	// Environment tags exported spans (default: dev)
	Environment string
	// ServiceName is the service name on exported spans (default: kaiwa)
	ServiceName string
}

// SetupTracing configures the global tracer provider and returns a shutdown
// function that flushes pending spans. Call the shutdown function before the
// process exits:
//
//	shutdown, err := observability.SetupTracing(ctx, cfg)
//	if err != nil { ... }
//	defer shutdown(context.Background())
func SetupTracing(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.AgentHost == "" {
		cfg.AgentHost = DefaultAgentHost
	}
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "kaiwa"
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.AgentHost),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		// Tracing is optional: run without it rather than failing startup.
		slog.Warn("failed to create OTLP trace exporter, tracing disabled",
			"error", err,
			"agent_host", cfg.AgentHost)
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("building trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	slog.Debug("tracing configured",
		"agent_host", cfg.AgentHost,
		"service_name", cfg.ServiceName,
		"environment", cfg.Environment)

	return tp.Shutdown, nil
}
