// Package tracing ships controller spans to an OTLP collector over gRPC.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Options selects the collector and sampling. An empty Endpoint turns
// export off.
type Options struct {
	ServiceName string
	DeviceID    string
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// Init installs the global tracer provider and returns its shutdown func,
// which flushes buffered spans.
func Init(ctx context.Context, opts Options) (func(context.Context) error, error) {
	if opts.Endpoint == "" {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx, exporterOptions(opts)...)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter for %s: %w", opts.Endpoint, err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(resourceAttributes(opts)...))
	if err != nil {
		return nil, fmt.Errorf("create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(opts.SampleRatio)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func exporterOptions(opts Options) []otlptracegrpc.Option {
	out := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.Endpoint)}
	if opts.Insecure {
		out = append(out, otlptracegrpc.WithInsecure())
	}
	return out
}

// resourceAttributes tags every span with the service and, when known, the
// intersection device it controls.
func resourceAttributes(opts Options) []attribute.KeyValue {
	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(opts.ServiceName)}
	if opts.DeviceID != "" {
		attrs = append(attrs, attribute.String("device.id", opts.DeviceID))
	}
	return attrs
}

// sampler keeps every trace unless ratio is strictly inside (0,1). Remote
// sampling decisions win over the ratio.
func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
