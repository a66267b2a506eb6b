// Package telemetry sets up OpenTelemetry tracing with OTLP gRPC export and
// keeps in-process counters for export runs.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Config configures the OTLP gRPC trace exporter.
type Config struct {
	// Enabled turns on export; when false a no-op tracer is used.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC endpoint (e.g., "localhost:4317")
	Endpoint string `yaml:"endpoint"`

	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`

	// Insecure disables TLS for the gRPC connection (use for local dev)
	Insecure bool `yaml:"insecure"`

	// Headers are sent with each request (e.g., auth tokens)
	Headers map[string]string `yaml:"headers"`

	BatchTimeout  time.Duration `yaml:"batch_timeout"`
	ExportTimeout time.Duration `yaml:"export_timeout"`

	// SamplingRatio is the fraction of traces to sample (0.0 to 1.0)
	SamplingRatio float64 `yaml:"sampling_ratio"`
}

// DefaultConfig returns a disabled configuration with local defaults.
func DefaultConfig() Config {
	return Config{
		Endpoint:       "localhost:4317",
		ServiceName:    "docexport",
		ServiceVersion: "dev",
		Environment:    "development",
		Insecure:       true,
		BatchTimeout:   5 * time.Second,
		ExportTimeout:  30 * time.Second,
		SamplingRatio:  1.0,
	}
}

// Provider owns the tracer provider for the lifetime of the process.
type Provider struct {
	mu       sync.Mutex
	cfg      Config
	sdk      *sdktrace.TracerProvider
	tracer   trace.Tracer
	shutdown bool
}

// Setup builds the tracer provider for cfg and installs it globally. With
// export disabled it returns a Provider whose tracer records nothing.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{cfg: cfg}
	if !cfg.Enabled {
		p.tracer = noop.NewTracerProvider().Tracer(cfg.ServiceName)
		return p, nil
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithTimeout(cfg.ExportTimeout),
	}
	if cfg.Insecure {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	p.sdk = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(cfg.BatchTimeout),
			sdktrace.WithExportTimeout(cfg.ExportTimeout),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SamplingRatio)),
	)
	otel.SetTracerProvider(p.sdk)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	p.tracer = p.sdk.Tracer(cfg.ServiceName)
	return p, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1.0:
		return sdktrace.AlwaysSample()
	case ratio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

// Tracer returns the tracer spans should be started on.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool {
	return p.sdk != nil
}

// Shutdown flushes pending spans. It is safe to call more than once.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sdk == nil || p.shutdown {
		return nil
	}
	p.shutdown = true
	return p.sdk.Shutdown(ctx)
}

// RecordError marks the span in ctx as failed.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets attributes on the span in ctx.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
