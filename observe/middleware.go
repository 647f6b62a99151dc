package observe

import (
	"context"
	"time"
)

// SyncFunc is the signature for background synchronization operations.
type SyncFunc func(ctx context.Context) error

// Middleware wraps background sync operations with tracing, metrics, and logging.
//
// Contract:
//   - Concurrency: Wrap() returns a thread-safe SyncFunc.
//   - Context: propagates context through tracing spans.
//   - Errors: errors from the wrapped function are recorded and propagated unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a new Middleware with the given observability components.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// Wrap wraps a SyncFunc so each invocation emits one span, one metrics
// record, and one log line.
func (m *Middleware) Wrap(op OpMeta, fn SyncFunc) SyncFunc {
	return func(ctx context.Context) error {
		ctx, span := m.tracer.StartSpan(ctx, op)
		start := time.Now()

		err := fn(ctx)

		duration := time.Since(start)
		m.tracer.EndSpan(span, err)
		m.metrics.RecordSync(ctx, op, duration, err)

		logger := m.logger.WithComponent(op.Component)
		fields := []Field{
			{Key: "op", Value: op.Name},
			{Key: "duration_ms", Value: float64(duration.Milliseconds())},
		}
		if err != nil {
			fields = append(fields, Field{Key: "error", Value: err.Error()})
			logger.Warn(ctx, "sync operation failed", fields...)
		} else {
			logger.Debug(ctx, "sync operation completed", fields...)
		}

		return err
	}
}
