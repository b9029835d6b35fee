package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricOpts holds options for creating metrics
type MetricOpts struct {
	Name        string
	Description string
	Unit        string
}

// Counter wraps an OTel counter for easier use
type Counter struct {
	counter metric.Int64Counter
}

// NewCounter creates a new counter metric
func NewCounter(opts MetricOpts) (*Counter, error) {
	meter := GetMeter()
	counter, err := meter.Int64Counter(
		opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	)
	if err != nil {
		return nil, err
	}
	return &Counter{counter: counter}, nil
}

// Add increments the counter by the given value
func (c *Counter) Add(ctx context.Context, value int64, attrs ...attribute.KeyValue) {
	c.counter.Add(ctx, value, metric.WithAttributes(attrs...))
}

// Inc increments the counter by 1
func (c *Counter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// Histogram wraps an OTel histogram for easier use
type Histogram struct {
	histogram metric.Float64Histogram
}

// NewHistogram creates a new histogram metric
func NewHistogram(opts MetricOpts) (*Histogram, error) {
	meter := GetMeter()
	histogram, err := meter.Float64Histogram(
		opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	)
	if err != nil {
		return nil, err
	}
	return &Histogram{histogram: histogram}, nil
}

// Record records a value in the histogram
func (h *Histogram) Record(ctx context.Context, value float64, attrs ...attribute.KeyValue) {
	h.histogram.Record(ctx, value, metric.WithAttributes(attrs...))
}

// NewHistogramWithBuckets creates a new histogram with custom bucket boundaries
func NewHistogramWithBuckets(opts MetricOpts, boundaries []float64) (*Histogram, error) {
	meter := GetMeter()
	histogram, err := meter.Float64Histogram(
		opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
		metric.WithExplicitBucketBoundaries(boundaries...),
	)
	if err != nil {
		return nil, err
	}
	return &Histogram{histogram: histogram}, nil
}

// UpDownCounter wraps an OTel up-down counter for values that can increase and decrease
type UpDownCounter struct {
	counter metric.Int64UpDownCounter
}

// NewUpDownCounter creates a new up-down counter metric
func NewUpDownCounter(opts MetricOpts) (*UpDownCounter, error) {
	meter := GetMeter()
	counter, err := meter.Int64UpDownCounter(
		opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	)
	if err != nil {
		return nil, err
	}
	return &UpDownCounter{counter: counter}, nil
}

// Add adds the given value to the counter (can be negative)
func (c *UpDownCounter) Add(ctx context.Context, value int64, attrs ...attribute.KeyValue) {
	c.counter.Add(ctx, value, metric.WithAttributes(attrs...))
}

// Inc increments the counter by 1
func (c *UpDownCounter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// Dec decrements the counter by 1
func (c *UpDownCounter) Dec(ctx context.Context, attrs ...attribute.KeyValue) {
	c.counter.Add(ctx, -1, metric.WithAttributes(attrs...))
}

// Common metric attribute keys
const (
	AttrServiceName  = "service.name"
	AttrEnvironment  = "environment"
	AttrMethod       = "http.method"
	AttrPath         = "http.path"
	AttrStatusCode   = "http.status_code"
	AttrErrorType    = "error.type"
	AttrTenantID     = "tenant.id"
	AttrTenantTier   = "tenant.tier"
	AttrModelVersion = "model.version"
	AttrEndpoint     = "serving.endpoint"
	AttrRunState     = "pipeline.run_state"
	AttrRunOutcome   = "pipeline.outcome"
)

// Helper functions for common attributes
func ServiceAttr(name string) attribute.KeyValue {
	return attribute.String(AttrServiceName, name)
}

func EnvironmentAttr(env string) attribute.KeyValue {
	return attribute.String(AttrEnvironment, env)
}

func MethodAttr(method string) attribute.KeyValue {
	return attribute.String(AttrMethod, method)
}

func PathAttr(path string) attribute.KeyValue {
	return attribute.String(AttrPath, path)
}

func StatusCodeAttr(code int) attribute.KeyValue {
	return attribute.Int(AttrStatusCode, code)
}

func ErrorTypeAttr(errType string) attribute.KeyValue {
	return attribute.String(AttrErrorType, errType)
}

func TenantIDAttr(tenantID string) attribute.KeyValue {
	return attribute.String(AttrTenantID, tenantID)
}

func TierAttr(tier string) attribute.KeyValue {
	return attribute.String(AttrTenantTier, tier)
}

func ModelVersionAttr(version int64) attribute.KeyValue {
	return attribute.Int64(AttrModelVersion, version)
}

func EndpointAttr(endpoint string) attribute.KeyValue {
	return attribute.String(AttrEndpoint, endpoint)
}

func RunStateAttr(state string) attribute.KeyValue {
	return attribute.String(AttrRunState, state)
}

func RunOutcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(AttrRunOutcome, outcome)
}

// InferenceMetrics is the instrument set recorded by the gateway router.
type InferenceMetrics struct {
	Requests *Counter
	Failures *Counter
	Latency  *Histogram
}

// NewInferenceMetrics creates the gateway instrument set
func NewInferenceMetrics() (*InferenceMetrics, error) {
	requests, err := NewCounter(MetricOpts{
		Name:        "inference.requests",
		Description: "Inference requests routed, by tenant tier",
		Unit:        "{request}",
	})
	if err != nil {
		return nil, err
	}
	failures, err := NewCounter(MetricOpts{
		Name:        "inference.failures",
		Description: "Inference requests that returned an error envelope",
		Unit:        "{request}",
	})
	if err != nil {
		return nil, err
	}
	latency, err := NewHistogramWithBuckets(MetricOpts{
		Name:        "inference.latency",
		Description: "End-to-end inference latency",
		Unit:        "ms",
	}, []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000})
	if err != nil {
		return nil, err
	}
	return &InferenceMetrics{Requests: requests, Failures: failures, Latency: latency}, nil
}

// PipelineMetrics is the instrument set recorded by the training worker.
type PipelineMetrics struct {
	RunsStarted   *Counter
	RunsCompleted *Counter
	Promotions    *Counter
	RunDuration   *Histogram
}

// NewPipelineMetrics creates the training-worker instrument set
func NewPipelineMetrics() (*PipelineMetrics, error) {
	started, err := NewCounter(MetricOpts{
		Name:        "pipeline.runs_started",
		Description: "Training pipeline runs started",
		Unit:        "{run}",
	})
	if err != nil {
		return nil, err
	}
	completed, err := NewCounter(MetricOpts{
		Name:        "pipeline.runs_finished",
		Description: "Training pipeline runs finished, by terminal state",
		Unit:        "{run}",
	})
	if err != nil {
		return nil, err
	}
	promotions, err := NewCounter(MetricOpts{
		Name:        "pipeline.promotions",
		Description: "Model versions promoted to serving",
		Unit:        "{promotion}",
	})
	if err != nil {
		return nil, err
	}
	duration, err := NewHistogram(MetricOpts{
		Name:        "pipeline.run_duration",
		Description: "Wall-clock duration of a pipeline run",
		Unit:        "s",
	})
	if err != nil {
		return nil, err
	}
	return &PipelineMetrics{
		RunsStarted:   started,
		RunsCompleted: completed,
		Promotions:    promotions,
		RunDuration:   duration,
	}, nil
}
