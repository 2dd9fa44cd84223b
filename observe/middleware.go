package observe

import (
	"context"
	"time"
)

// AttemptFunc is one provider attempt.
type AttemptFunc func(ctx context.Context, meta ProviderMeta) error

// Middleware wraps provider attempts with a span, attempt metrics and a log
// line. Errors pass through unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a Middleware. Nil arguments fall back to no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NopTracer()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{tracer: tracer, metrics: metrics, logger: logger}
}

// MiddlewareFromObserver builds a Middleware and its Metrics from obs.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	m, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return NewMiddleware(NewTracer(obs.Tracer()), m, obs.Logger()), nil
}

// Metrics returns the metrics the middleware records into.
func (m *Middleware) Metrics() Metrics { return m.metrics }

// Logger returns the middleware logger.
func (m *Middleware) Logger() Logger { return m.logger }

// Wrap instruments fn.
func (m *Middleware) Wrap(fn AttemptFunc) AttemptFunc {
	return func(ctx context.Context, meta ProviderMeta) error {
		ctx, span := m.tracer.StartSpan(ctx, meta)
		start := time.Now()

		err := fn(ctx, meta)

		d := time.Since(start)
		m.tracer.EndSpan(span, err)
		m.metrics.RecordAttempt(ctx, meta, d, err)

		log := m.logger.WithProvider(meta)
		fields := []Field{F("duration_ms", float64(d.Microseconds())/1000)}
		if meta.RequestID != "" {
			fields = append(fields, F("request_id", meta.RequestID))
		}
		if err != nil {
			log.Warn(ctx, "provider attempt failed", append(fields, Err(err))...)
		} else {
			log.Debug(ctx, "provider attempt completed", fields...)
		}
		return err
	}
}
