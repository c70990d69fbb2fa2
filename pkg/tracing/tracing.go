// Package tracing sets up OpenTelemetry for lkmap and offers the span
// helpers the overlay, tile and HTTP layers share.
package tracing

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// ServiceName is the name of the service in traces
	ServiceName = "lkmap"
	// TracerName is the name of the tracer
	TracerName = "github.com/NERVsystems/lkmap"

	// AttrBoundarySource is the resource attribute naming where boundary files come from
	AttrBoundarySource = "lkmap.boundary.source"
)

// Tracer is the global tracer instance
var Tracer trace.Tracer = noop.NewTracerProvider().Tracer(TracerName)

// Config controls trace export
type Config struct {
	// Endpoint is the OTLP gRPC collector address. Empty disables export.
	Endpoint    string
	Insecure    bool
	Environment string

	// SampleRatio is the share of new root traces kept, in [0, 1].
	// Sampling decisions of a remote parent are always honored.
	SampleRatio float64

	// BoundarySource is the data directory or base URL boundary files are read from
	BoundarySource string
}

// ConfigFromEnv reads OTLP_ENDPOINT, OTLP_INSECURE, ENVIRONMENT and
// LKMAP_TRACE_SAMPLE_RATIO
func ConfigFromEnv() Config {
	cfg := Config{
		Endpoint:    os.Getenv("OTLP_ENDPOINT"),
		Insecure:    os.Getenv("OTLP_INSECURE") != "false",
		Environment: os.Getenv("ENVIRONMENT"),
		SampleRatio: 1,
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if v := os.Getenv("LKMAP_TRACE_SAMPLE_RATIO"); v != "" {
		if ratio, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SampleRatio = ratio
		}
	}
	return cfg
}

// Enabled reports whether spans are exported
func (c Config) Enabled() bool {
	return c.Endpoint != ""
}

func (c Config) sampler() sdktrace.Sampler {
	ratio := c.SampleRatio
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// Setup installs the tracer provider described by cfg. Without an endpoint
// a no-op tracer is installed and the returned shutdown does nothing.
func Setup(ctx context.Context, cfg Config, version string) (shutdown func(context.Context) error, err error) {
	if !cfg.Enabled() {
		Tracer = noop.NewTracerProvider().Tracer(TracerName)
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(version),
			attribute.String("deployment.environment", cfg.Environment),
			attribute.String(AttrBoundarySource, cfg.BoundarySource),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.sampler()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	Tracer = tp.Tracer(TracerName)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	}, nil
}

// StartSpan starts a span on the lkmap tracer
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer.Start(ctx, name, opts...)
}

// Finish sets the span status from err. It does not end the span.
func Finish(span trace.Span, err error) {
	if !span.IsRecording() {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// RecordError records err on the span in ctx
func RecordError(ctx context.Context, err error, opts ...trace.EventOption) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(err, opts...)
	}
}

// AddEvent adds an event to the span in ctx
func AddEvent(ctx context.Context, name string, opts ...trace.EventOption) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(name, opts...)
	}
}
