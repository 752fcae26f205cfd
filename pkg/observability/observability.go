// Package observability registers the gateway's OpenTelemetry metrics:
// order submissions and fills, reconciliation discrepancies, alert
// deliveries, and cache effectiveness. Metrics accumulate in-process
// behind a manual reader; nothing leaves the process unless the
// embedding deployment drains Collect into its own pipeline.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// Metric attribute keys.
var (
	AttrSymbol    = attribute.Key("tradegate.symbol")
	AttrResult    = attribute.Key("tradegate.result")
	AttrAccountID = attribute.Key("tradegate.account_id")
	AttrAlertType = attribute.Key("tradegate.alert.type")
	AttrSeverity  = attribute.Key("tradegate.alert.severity")
	AttrCache     = attribute.Key("tradegate.cache")
)

// Submission outcomes recorded on the submissions counter.
const (
	ResultSubmitted = "submitted"
	ResultRefused   = "refused"
	ResultFailed    = "failed"
)

// Config configures the metrics provider.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Enabled        bool
}

// DefaultConfig returns the provider defaults. Metrics are opt-in.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "tradegate",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Enabled:        false,
	}
}

// CacheStatsFunc reports a cache's cumulative hit and miss counts.
type CacheStatsFunc func() (hits, misses int64)

// Provider owns the meter provider and the gateway's instruments. A
// disabled provider keeps every record call a no-op, so callers never
// branch on whether metrics are on.
type Provider struct {
	config *Config
	logger *slog.Logger

	reader        *sdkmetric.ManualReader
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter

	submissions    metric.Int64Counter
	fills          metric.Int64Counter
	discrepancies  metric.Int64Counter
	alerts         metric.Int64Counter
	cacheHits      metric.Int64ObservableCounter
	cacheMisses    metric.Int64ObservableCounter
	submitDuration metric.Float64Histogram
}

// New builds the provider. A nil config uses DefaultConfig.
func New(config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}
	if !config.Enabled {
		p.logger.Info("metrics disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironmentName(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	p.reader = sdkmetric.NewManualReader()
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(p.reader),
	)
	p.meter = p.meterProvider.Meter("tradegate",
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)

	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("init instruments: %w", err)
	}

	p.logger.Info("metrics initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
	)
	return p, nil
}

func (p *Provider) initInstruments() error {
	var err error

	p.submissions, err = p.meter.Int64Counter("tradegate.submissions.total",
		metric.WithDescription("Order submissions by outcome"),
		metric.WithUnit("{submission}"),
	)
	if err != nil {
		return err
	}

	p.fills, err = p.meter.Int64Counter("tradegate.fills.total",
		metric.WithDescription("Orders that reached a terminal fill"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return err
	}

	p.discrepancies, err = p.meter.Int64Counter("tradegate.reconcile.discrepancies.total",
		metric.WithDescription("Discrepancies found by reconciliation runs"),
		metric.WithUnit("{discrepancy}"),
	)
	if err != nil {
		return err
	}

	p.alerts, err = p.meter.Int64Counter("tradegate.alerts.total",
		metric.WithDescription("Alerts dispatched to delivery channels"),
		metric.WithUnit("{alert}"),
	)
	if err != nil {
		return err
	}

	p.cacheHits, err = p.meter.Int64ObservableCounter("tradegate.cache.hits.total",
		metric.WithDescription("Cache hits by cache"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return err
	}

	p.cacheMisses, err = p.meter.Int64ObservableCounter("tradegate.cache.misses.total",
		metric.WithDescription("Cache misses by cache"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return err
	}

	p.submitDuration, err = p.meter.Float64Histogram("tradegate.submit.duration",
		metric.WithDescription("Broker submission round-trip in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0),
	)
	return err
}

// Enabled reports whether metrics are being recorded.
func (p *Provider) Enabled() bool {
	return p.meter != nil
}

// RecordSubmission counts one submission outcome: ResultSubmitted,
// ResultRefused, or ResultFailed.
func (p *Provider) RecordSubmission(ctx context.Context, symbol, result string) {
	if p.submissions != nil {
		p.submissions.Add(ctx, 1, metric.WithAttributes(
			AttrSymbol.String(symbol),
			AttrResult.String(result),
		))
	}
}

// RecordSubmissionLatency records the broker round-trip for one
// submission attempt.
func (p *Provider) RecordSubmissionLatency(ctx context.Context, d time.Duration) {
	if p.submitDuration != nil {
		p.submitDuration.Record(ctx, d.Seconds())
	}
}

// RecordFill counts a terminal fill.
func (p *Provider) RecordFill(ctx context.Context, symbol string) {
	if p.fills != nil {
		p.fills.Add(ctx, 1, metric.WithAttributes(AttrSymbol.String(symbol)))
	}
}

// RecordDiscrepancies counts the findings of one reconciliation run.
func (p *Provider) RecordDiscrepancies(ctx context.Context, accountID string, count int) {
	if p.discrepancies != nil && count > 0 {
		p.discrepancies.Add(ctx, int64(count),
			metric.WithAttributes(AttrAccountID.String(accountID)))
	}
}

// RecordAlert counts one dispatched alert. delivered false means every
// channel failed.
func (p *Provider) RecordAlert(ctx context.Context, alertType, severity string, delivered bool) {
	if p.alerts == nil {
		return
	}
	result := "delivered"
	if !delivered {
		result = "failed"
	}
	p.alerts.Add(ctx, 1, metric.WithAttributes(
		AttrAlertType.String(alertType),
		AttrSeverity.String(severity),
		AttrResult.String(result),
	))
}

// ObserveCache registers a cache under name. Its cumulative counts are
// pulled from stats on every collection.
func (p *Provider) ObserveCache(name string, stats CacheStatsFunc) error {
	if p.meter == nil {
		return nil
	}
	attrs := metric.WithAttributes(AttrCache.String(name))
	_, err := p.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		hits, misses := stats()
		o.ObserveInt64(p.cacheHits, hits, attrs)
		o.ObserveInt64(p.cacheMisses, misses, attrs)
		return nil
	}, p.cacheHits, p.cacheMisses)
	return err
}

// Collect drains the accumulated metrics. A disabled provider returns an
// empty set.
func (p *Provider) Collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	if p.reader == nil {
		return rm, nil
	}
	err := p.reader.Collect(ctx, &rm)
	return rm, err
}

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.Shutdown(ctx)
}
