// Package telemetry wires OpenTelemetry tracing and Pyroscope profiling for a
// metadata node. Spans are tagged with the node and buddy group so traces
// from a mirrored pair can be told apart.
package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	defaultServiceName = "dittometa"
	shutdownTimeout    = 5 * time.Second
)

// tracer holds the active trace.Tracer. It is a no-op tracer until Init
// enables tracing.
var tracer atomic.Pointer[tracerHolder]

type tracerHolder struct {
	trace.Tracer
	enabled bool
}

func init() {
	tracer.Store(&tracerHolder{Tracer: noop.NewTracerProvider().Tracer(defaultServiceName)})
}

// Init installs the tracer described by cfg and returns a function that
// flushes and closes the exporter.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if !cfg.Enabled {
		tracer.Store(&tracerHolder{Tracer: noop.NewTracerProvider().Tracer(defaultServiceName)})
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	tracer.Store(&tracerHolder{Tracer: tp.Tracer(cfg.ServiceName), enabled: true})

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		return tp.Shutdown(ctx)
	}, nil
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.ServiceInstanceID(fmt.Sprintf("node-%d", cfg.Node.NodeID)),
		attribute.Int64(AttrNodeID, int64(cfg.Node.NodeID)),
	}
	if cfg.Node.GroupID != 0 {
		attrs = append(attrs, attribute.Int64(AttrGroupID, int64(cfg.Node.GroupID)))
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// newSampler samples root spans at rate and lets children follow their
// parent, so a sampled admin request keeps all of its engine spans.
func newSampler(rate float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case rate >= 1:
		root = sdktrace.AlwaysSample()
	case rate <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root)
}

// Tracer returns the active tracer.
func Tracer() trace.Tracer {
	return tracer.Load().Tracer
}

// IsEnabled reports whether spans are exported.
func IsEnabled() bool {
	return tracer.Load().enabled
}

// StartSpan starts a span on the active tracer. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// EndSpan records err on span, if any, and ends it. Advisory errors are
// recorded as events without failing the span.
func EndSpan(span trace.Span, err error, advisory func(error) bool) {
	switch {
	case err == nil:
	case advisory != nil && advisory(err):
		span.AddEvent("advisory", trace.WithAttributes(attribute.String("error", err.Error())))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
