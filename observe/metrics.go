package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Outcome labels for RecordOutcome.
const (
	OutcomeSuccess  = "success"
	OutcomeCached   = "cached"
	OutcomeFallback = "fallback"
	OutcomeQueued   = "queued"
	OutcomeFailed   = "failed"
)

// Metrics records provmux metrics. Implementations are safe for concurrent
// use and never panic.
type Metrics interface {
	// RecordAttempt records one attempt against one provider.
	RecordAttempt(ctx context.Context, meta ProviderMeta, duration time.Duration, err error)

	// RecordOutcome records how a facade request was finally answered.
	RecordOutcome(ctx context.Context, outcome string)

	// RecordCircuitTransition records a circuit breaker state change.
	RecordCircuitTransition(ctx context.Context, providerID, from, to string)

	// ObserveQueueDepth reports depth() as the retry queue gauge until the
	// returned function is called.
	ObserveQueueDepth(depth func() int64) (unregister func() error, err error)
}

type metricsImpl struct {
	meter       metric.Meter
	attempts    metric.Int64Counter
	errors      metric.Int64Counter
	duration    metric.Float64Histogram
	outcomes    metric.Int64Counter
	transitions metric.Int64Counter
	queueDepth  metric.Int64ObservableGauge
}

// NewMetrics creates the provmux instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	m := &metricsImpl{meter: meter}
	var err error

	if m.attempts, err = meter.Int64Counter("provmux.attempt.total",
		metric.WithDescription("Provider attempts"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, err
	}
	if m.errors, err = meter.Int64Counter("provmux.attempt.errors",
		metric.WithDescription("Failed provider attempts"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("provmux.attempt.duration_ms",
		metric.WithDescription("Provider attempt duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.outcomes, err = meter.Int64Counter("provmux.request.outcomes",
		metric.WithDescription("Facade requests by outcome"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.transitions, err = meter.Int64Counter("provmux.circuit.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	); err != nil {
		return nil, err
	}
	if m.queueDepth, err = meter.Int64ObservableGauge("provmux.retry_queue.depth",
		metric.WithDescription("Requests waiting in the retry queue"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *metricsImpl) RecordAttempt(ctx context.Context, meta ProviderMeta, duration time.Duration, err error) {
	opt := metric.WithAttributes(meta.attributes()...)
	m.attempts.Add(ctx, 1, opt)
	if err != nil {
		m.errors.Add(ctx, 1, opt)
	}
	m.duration.Record(ctx, float64(duration.Microseconds())/1000, opt)
}

func (m *metricsImpl) RecordOutcome(ctx context.Context, outcome string) {
	m.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *metricsImpl) RecordCircuitTransition(ctx context.Context, providerID, from, to string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider.id", providerID),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m *metricsImpl) ObserveQueueDepth(depth func() int64) (func() error, error) {
	reg, err := m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.queueDepth, depth())
		return nil
	}, m.queueDepth)
	if err != nil {
		return nil, err
	}
	return reg.Unregister, nil
}

// NopMetrics returns Metrics backed by the no-op meter.
func NopMetrics() Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter("noop"))
	return m
}
