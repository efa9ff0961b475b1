// Package observability wires OpenTelemetry tracing and metrics around
// the Guardian's operations. Export goes over OTLP gRPC; when no
// endpoint is configured the provider is a no-op and every hook stays
// callable.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
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
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "lifeos.core"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	SampleRate     float64
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// FromEnv builds a Config from LIFEOS_OTLP_ENDPOINT and
// LIFEOS_ENVIRONMENT. Telemetry is off unless an endpoint is set.
func FromEnv() *Config {
	endpoint := os.Getenv("LIFEOS_OTLP_ENDPOINT")
	env := os.Getenv("LIFEOS_ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	return &Config{
		ServiceName:    "lifeos-core",
		ServiceVersion: "1.0.0",
		Environment:    env,
		OTLPEndpoint:   endpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        endpoint != "",
		Insecure:       env == "development",
	}
}

// Provider owns the trace and metric providers plus the Guardian's
// operation metrics.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	operationCounter metric.Int64Counter
	errorCounter     metric.Int64Counter
	durationHist     metric.Float64Histogram
	eventCounter     metric.Int64Counter
}

// New builds a provider. A disabled config returns a provider whose
// hooks are all safe no-ops.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = FromEnv()
	}
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}
	if !config.Enabled {
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, err
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, err
	}

	p.tracer = otel.Tracer(scopeName, trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter(scopeName, metric.WithInstrumentationVersion(config.ServiceVersion))
	if err := p.initMetrics(); err != nil {
		return nil, fmt.Errorf("observability metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initMetrics() error {
	var err error
	p.operationCounter, err = p.meter.Int64Counter("lifeos.operations.total",
		metric.WithDescription("Guardian operations executed"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return err
	}
	p.errorCounter, err = p.meter.Int64Counter("lifeos.errors.total",
		metric.WithDescription("Guardian operations that failed"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}
	p.durationHist, err = p.meter.Float64Histogram("lifeos.operation.duration",
		metric.WithDescription("Operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0),
	)
	if err != nil {
		return err
	}
	p.eventCounter, err = p.meter.Int64Counter("lifeos.events.appended",
		metric.WithDescription("Events appended to the log"),
		metric.WithUnit("{event}"),
	)
	return err
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "meter provider shutdown failed", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(scopeName)
	}
	return p.tracer
}

// RecordEventAppended bumps the append counter for one event type.
func (p *Provider) RecordEventAppended(ctx context.Context, eventType string) {
	if p.eventCounter != nil {
		p.eventCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("event.type", eventType)))
	}
}

// TrackOperation opens a span and returns a completion hook that
// records duration and, when non-nil, the error.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.Tracer().Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	if p.operationCounter != nil {
		p.operationCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	return ctx, func(err error) {
		if p.durationHist != nil {
			p.durationHist.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
		}
		if err != nil {
			span.RecordError(err)
			if p.errorCounter != nil {
				p.errorCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
			}
		}
		span.End()
	}
}
