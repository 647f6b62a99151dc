package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records measurements for the sync toolkit.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordSync records one synchronization attempt with duration and outcome.
	RecordSync(ctx context.Context, op OpMeta, duration time.Duration, err error)

	// RecordCacheLookup records a cache lookup with its tier and hit/miss outcome.
	RecordCacheLookup(ctx context.Context, tier string, hit bool)

	// RecordReconnect records a push-transport reconnect attempt.
	RecordReconnect(ctx context.Context, transport string, err error)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	meter          metric.Meter
	syncTotal      metric.Int64Counter
	syncErrors     metric.Int64Counter
	syncDuration   metric.Float64Histogram
	cacheLookups   metric.Int64Counter
	reconnectTotal metric.Int64Counter
}

// NewMetrics creates a Metrics instance recording through the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	syncTotal, err := meter.Int64Counter(
		"sync.attempts.total",
		metric.WithDescription("Total number of synchronization attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	syncErrors, err := meter.Int64Counter(
		"sync.attempts.errors",
		metric.WithDescription("Total number of failed synchronization attempts"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	syncDuration, err := meter.Float64Histogram(
		"sync.duration_ms",
		metric.WithDescription("Synchronization duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	cacheLookups, err := meter.Int64Counter(
		"cache.lookups.total",
		metric.WithDescription("Total number of cache lookups by tier and outcome"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	reconnectTotal, err := meter.Int64Counter(
		"broadcast.reconnects.total",
		metric.WithDescription("Total number of push-transport reconnect attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		meter:          meter,
		syncTotal:      syncTotal,
		syncErrors:     syncErrors,
		syncDuration:   syncDuration,
		cacheLookups:   cacheLookups,
		reconnectTotal: reconnectTotal,
	}, nil
}

// RecordSync records metrics for one synchronization attempt.
func (m *metricsImpl) RecordSync(ctx context.Context, op OpMeta, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("sync.component", op.Component),
		attribute.String("sync.op", op.Name),
	}
	opt := metric.WithAttributes(attrs...)

	m.syncTotal.Add(ctx, 1, opt)
	if err != nil {
		m.syncErrors.Add(ctx, 1, opt)
	}
	m.syncDuration.Record(ctx, float64(duration.Milliseconds()), opt)
}

// RecordCacheLookup records one cache lookup.
func (m *metricsImpl) RecordCacheLookup(ctx context.Context, tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache.tier", tier),
		attribute.String("cache.result", result),
	))
}

// RecordReconnect records one push-transport reconnect attempt.
func (m *metricsImpl) RecordReconnect(ctx context.Context, transport string, err error) {
	m.reconnectTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("broadcast.transport", transport),
		attribute.Bool("broadcast.error", err != nil),
	))
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

func (m *noopMetrics) RecordSync(ctx context.Context, op OpMeta, duration time.Duration, err error) {
}

func (m *noopMetrics) RecordCacheLookup(ctx context.Context, tier string, hit bool) {}
func (m *noopMetrics) RecordReconnect(ctx context.Context, transport string, err error) {}

// NopMetrics returns a Metrics that records nothing.
func NopMetrics() Metrics {
	return &noopMetrics{}
}

// Ensure implementations satisfy Metrics
var (
	_ Metrics = (*metricsImpl)(nil)
	_ Metrics = (*noopMetrics)(nil)
)
