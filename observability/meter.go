package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/brokersec/logger"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string
	Insecure bool
	// Interval is the metric export interval.
	Interval time.Duration
}

// DefaultMeterConfig returns sensible defaults for development.
func DefaultMeterConfig(serviceName string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Endpoint:       "localhost:4318",
		Insecure:       true,
		Interval:       15 * time.Second,
	}
}

// InitMeter installs a global meter provider exporting over OTLP/HTTP.
// The returned provider must be shut down on exit.
func InitMeter(ctx context.Context, config MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
		"interval", config.Interval.String(),
	))

	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Outcome labels shared by the recorders.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds the instruments for context builds, negotiations and
// listener connections. A nil *Metrics records nothing.
type Metrics struct {
	contextBuilds        metric.Int64Counter
	contextBuildDuration metric.Float64Histogram
	contextCacheHits     metric.Int64Counter
	contextInvalidations metric.Int64Counter
	negotiations         metric.Int64Counter
	negotiationDuration  metric.Float64Histogram
	negotiationActive    metric.Int64UpDownCounter
	connectionsActive    metric.Int64UpDownCounter
	connectionsTotal     metric.Int64Counter
}

// NewMetrics creates metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	if m.contextBuilds, err = meter.Int64Counter("security.context.builds",
		metric.WithDescription("Transport-security context builds by provider and status"),
	); err != nil {
		return nil, fmt.Errorf("creating security.context.builds counter: %w", err)
	}
	if m.contextBuildDuration, err = meter.Float64Histogram("security.context.build.duration",
		metric.WithDescription("Duration of transport-security context builds in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating security.context.build.duration histogram: %w", err)
	}
	if m.contextCacheHits, err = meter.Int64Counter("security.context.cache_hits",
		metric.WithDescription("Resolutions answered from the context cache"),
	); err != nil {
		return nil, fmt.Errorf("creating security.context.cache_hits counter: %w", err)
	}
	if m.contextInvalidations, err = meter.Int64Counter("security.context.invalidations",
		metric.WithDescription("Context cache invalidations by scope"),
	); err != nil {
		return nil, fmt.Errorf("creating security.context.invalidations counter: %w", err)
	}
	if m.negotiations, err = meter.Int64Counter("negotiation.total",
		metric.WithDescription("Completed negotiations by listener, mechanism and outcome"),
	); err != nil {
		return nil, fmt.Errorf("creating negotiation.total counter: %w", err)
	}
	if m.negotiationDuration, err = meter.Float64Histogram("negotiation.duration",
		metric.WithDescription("Duration of negotiations in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating negotiation.duration histogram: %w", err)
	}
	if m.negotiationActive, err = meter.Int64UpDownCounter("negotiation.active",
		metric.WithDescription("Negotiations in progress"),
	); err != nil {
		return nil, fmt.Errorf("creating negotiation.active gauge: %w", err)
	}
	if m.connectionsActive, err = meter.Int64UpDownCounter("listener.connections.active",
		metric.WithDescription("Open connections per listener"),
	); err != nil {
		return nil, fmt.Errorf("creating listener.connections.active gauge: %w", err)
	}
	if m.connectionsTotal, err = meter.Int64Counter("listener.connections.total",
		metric.WithDescription("Accepted connections per listener"),
	); err != nil {
		return nil, fmt.Errorf("creating listener.connections.total counter: %w", err)
	}

	return &m, nil
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// DefaultMetrics returns instruments created on the global meter provider.
// Instruments created before InitMeter are forwarded once it runs.
func DefaultMetrics() *Metrics {
	defaultOnce.Do(func() {
		m, err := NewMetrics(Meter(instrumentationName))
		if err != nil {
			logger.Warn("metrics disabled", logger.Fields(logger.FieldError, err.Error()))
			return
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordContextBuild records a context build attempt.
func (m *Metrics) RecordContextBuild(ctx context.Context, provider, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.contextBuilds.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	))
	m.contextBuildDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("provider", provider),
	))
}

// RecordContextCacheHit records a resolution served from cache.
func (m *Metrics) RecordContextCacheHit(ctx context.Context) {
	if m == nil {
		return
	}
	m.contextCacheHits.Add(ctx, 1)
}

// RecordContextInvalidation records an invalidation; scope is "one" or "all".
func (m *Metrics) RecordContextInvalidation(ctx context.Context, scope string) {
	if m == nil {
		return
	}
	m.contextInvalidations.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope)))
}

// RecordNegotiationStart increments the in-progress negotiation count.
func (m *Metrics) RecordNegotiationStart(ctx context.Context, listener string) {
	if m == nil {
		return
	}
	m.negotiationActive.Add(ctx, 1, metric.WithAttributes(attribute.String("listener", listener)))
}

// RecordNegotiationEnd decrements the in-progress count and records the outcome.
func (m *Metrics) RecordNegotiationEnd(ctx context.Context, listener, mechanism, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.negotiationActive.Add(ctx, -1, metric.WithAttributes(attribute.String("listener", listener)))
	m.negotiations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("listener", listener),
		attribute.String("mechanism", mechanism),
		attribute.String("outcome", outcome),
	))
	m.negotiationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("listener", listener),
		attribute.String("mechanism", mechanism),
	))
}

// RecordConnectionOpen records an accepted connection.
func (m *Metrics) RecordConnectionOpen(ctx context.Context, listener string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("listener", listener))
	m.connectionsTotal.Add(ctx, 1, attrs)
	m.connectionsActive.Add(ctx, 1, attrs)
}

// RecordConnectionClose records a closed connection.
func (m *Metrics) RecordConnectionClose(ctx context.Context, listener string) {
	if m == nil {
		return
	}
	m.connectionsActive.Add(ctx, -1, metric.WithAttributes(attribute.String("listener", listener)))
}
