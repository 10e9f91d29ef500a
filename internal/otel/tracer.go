// Package otel configures OpenTelemetry trace export for load runs.
package otel

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// ServiceName is reported as service.name.
const ServiceName = "rangeload"

// Config holds the exporter settings.
type Config struct {
	Enabled  bool
	Endpoint string
	Headers  map[string]string
	Insecure bool
	Timeout  time.Duration
	// Resource adds attributes to the trace resource. String values are
	// expanded against the environment.
	Resource map[string]string
}

// Tracer owns the SDK provider installed as the global tracer provider.
// The loader and the range scheduler create spans through the global
// provider, so a disabled Tracer leaves them as no-ops.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer installs an OTLP exporter when cfg is enabled.
func NewTracer(ctx context.Context, cfg *Config, version string) (*Tracer, error) {
	if cfg == nil || !cfg.Enabled {
		return &Tracer{tracer: otel.Tracer(ServiceName)}, nil
	}

	exporter, err := createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTel exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(createResource(cfg, version)),
	)
	otel.SetTracerProvider(provider)

	return &Tracer{
		provider: provider,
		tracer:   otel.Tracer(ServiceName),
	}, nil
}

// IsHTTPEndpoint reports whether endpoint addresses the OTLP/HTTP traces path.
// Anything else is dialed with gRPC.
func IsHTTPEndpoint(endpoint string) bool {
	return strings.HasSuffix(endpoint, "/v1/traces")
}

func createExporter(ctx context.Context, cfg *Config) (sdktrace.SpanExporter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("OTel endpoint is required")
	}
	if IsHTTPEndpoint(cfg.Endpoint) {
		return createHTTPExporter(ctx, cfg)
	}
	return createGRPCExporter(ctx, cfg)
}

func createHTTPExporter(ctx context.Context, cfg *Config) (sdktrace.SpanExporter, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpointURL(cfg.Endpoint),
		otlptracehttp.WithHeaders(cfg.Headers),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, otlptracehttp.WithTimeout(cfg.Timeout))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	} else {
		opts = append(opts, otlptracehttp.WithTLSClientConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		}))
	}
	return otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
}

func createGRPCExporter(ctx context.Context, cfg *Config) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithHeaders(cfg.Headers),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(cfg.Timeout))
	}
	if cfg.Insecure {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	} else {
		opts = append(opts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
			MinVersion: tls.VersionTLS12,
		}))))
	}
	return otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
}

func createResource(cfg *Config, version string) *resource.Resource {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(ServiceName),
	}
	if version != "" {
		attrs = append(attrs, semconv.ServiceVersion(version))
	}
	for key, val := range cfg.Resource {
		attrs = append(attrs, attribute.String(key, os.ExpandEnv(val)))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

// Start starts a span on the installed provider.
func (t *Tracer) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, spanName, opts...)
}

// Shutdown flushes and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider != nil {
		return t.provider.Shutdown(ctx)
	}
	return nil
}

// IsEnabled reports whether spans are exported.
func (t *Tracer) IsEnabled() bool {
	return t.provider != nil
}
