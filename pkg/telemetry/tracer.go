package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// namespace groups the gateway, admin and pipeline services under one
	// service.namespace in the collector.
	namespace = "mlaas-platform"

	defaultMetricInterval = 15 * time.Second
)

// Config selects what a service exports and where.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	CollectorAddr  string
	MetricInterval time.Duration
	SampleRatio    float64
}

// Telemetry owns the providers behind the package-level helpers. Each
// binary calls Init once at startup; when disabled the helpers degrade to
// no-ops so request paths never check a flag.
type Telemetry struct {
	tracer   trace.Tracer
	meter    metric.Meter
	shutdown []func(context.Context) error
}

var active *Telemetry

// Init wires OTLP trace and metric export for one service. A nil or
// disabled config installs no-op instruments instead of failing, so the
// same call sites work in tests and in environments without a collector.
func Init(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if cfg == nil || !cfg.Enabled {
		name := namespace
		if cfg != nil && cfg.ServiceName != "" {
			name = cfg.ServiceName
		}
		active = &Telemetry{tracer: otel.Tracer(name), meter: otel.Meter(name)}
		return active, nil
	}

	interval := cfg.MetricInterval
	if interval <= 0 {
		interval = defaultMetricInterval
	}
	ratio := cfg.SampleRatio
	if ratio == 0 {
		ratio = 1.0
	}

	res, err := buildResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	traces, err := buildTracerProvider(ctx, cfg.CollectorAddr, ratio, res)
	if err != nil {
		return nil, err
	}
	meters, err := buildMeterProvider(ctx, cfg.CollectorAddr, interval, res)
	if err != nil {
		_ = traces.Shutdown(ctx)
		return nil, err
	}

	otel.SetTracerProvider(traces)
	otel.SetMeterProvider(meters)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	active = &Telemetry{
		tracer:   traces.Tracer(cfg.ServiceName),
		meter:    meters.Meter(cfg.ServiceName),
		shutdown: []func(context.Context) error{traces.Shutdown, meters.Shutdown},
	}
	return active, nil
}

// buildResource describes the service to the collector. The resource is
// built standalone rather than merged with resource.Default(): the default
// carries a newer schema URL that conflicts with the pinned semconv.
func buildResource(cfg *Config) (*resource.Resource, error) {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentNameKey.String(cfg.Environment),
		attribute.String("service.namespace", namespace),
	), nil
}

func buildTracerProvider(ctx context.Context, addr string, ratio float64, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	// The collector runs on the internal network, hence insecure transport.
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(addr),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(ratio)),
	), nil
}

func buildMeterProvider(ctx context.Context, addr string, interval time.Duration, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(addr),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval)),
		),
	), nil
}

func samplerFor(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1.0:
		return sdktrace.AlwaysSample()
	case ratio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(ratio)
	}
}

// Shutdown flushes and stops the exporters. Safe to call when Init was
// never called or ran disabled.
func Shutdown(ctx context.Context) error {
	if active == nil {
		return nil
	}
	var errs []error
	for _, stop := range active.shutdown {
		if err := stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Get returns the telemetry instance installed by Init.
func Get() *Telemetry {
	return active
}

// Tracer returns the service's tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// Meter returns the service's meter.
func (t *Telemetry) Meter() metric.Meter {
	return t.meter
}

// GetMeter returns the installed meter, or a no-op one before Init. Metric
// constructors call this so they work in any order relative to Init.
func GetMeter() metric.Meter {
	if active == nil || active.meter == nil {
		return otel.Meter(namespace)
	}
	return active.meter
}

// StartSpan opens a span on the installed tracer. Before Init it returns
// the context unchanged with its current (possibly no-op) span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if active == nil || active.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return active.tracer.Start(ctx, name, opts...)
}

// SetSpanError records err on the span carried by ctx.
func SetSpanError(ctx context.Context, err error) {
	trace.SpanFromContext(ctx).RecordError(err)
}

// GetTraceID returns the trace id of the span carried by ctx, or "" when
// there is none.
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
