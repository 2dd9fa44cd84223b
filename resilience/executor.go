package resilience

import (
	"context"
	"time"
)

// Limiter admits calls at a bounded rate. Both *RateLimiter and
// *golang.org/x/time/rate.Limiter satisfy it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Executor composes the primitives around one operation.
type Executor struct {
	limiter        Limiter
	bulkhead       *Bulkhead
	circuitBreaker *CircuitBreaker
	retry          *Retry
	timeout        *Timeout
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates an Executor. With no options it runs op directly.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithLimiter waits on l before every call.
func WithLimiter(l Limiter) ExecutorOption {
	return func(e *Executor) { e.limiter = l }
}

// WithRateLimiter waits on the token bucket rl before every call.
func WithRateLimiter(rl *RateLimiter) ExecutorOption {
	return func(e *Executor) { e.limiter = rl }
}

// WithBulkhead caps concurrent calls.
func WithBulkhead(b *Bulkhead) ExecutorOption {
	return func(e *Executor) { e.bulkhead = b }
}

// WithCircuitBreaker guards calls with cb.
func WithCircuitBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) { e.circuitBreaker = cb }
}

// WithRetry retries failed calls.
func WithRetry(r *Retry) ExecutorOption {
	return func(e *Executor) { e.retry = r }
}

// WithTimeout bounds every individual attempt.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = NewTimeout(TimeoutConfig{Timeout: d})
		}
	}
}

// Execute runs op through the configured primitives, outermost first:
// limiter, bulkhead, circuit breaker, retry, timeout.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	run := op

	if e.timeout != nil {
		next := run
		run = func(ctx context.Context) error { return e.timeout.Execute(ctx, next) }
	}
	if e.retry != nil {
		next := run
		run = func(ctx context.Context) error { return e.retry.Execute(ctx, next) }
	}
	if e.circuitBreaker != nil {
		next := run
		run = func(ctx context.Context) error { return e.circuitBreaker.Execute(ctx, next) }
	}
	if e.bulkhead != nil {
		next := run
		run = func(ctx context.Context) error { return e.bulkhead.Execute(ctx, next) }
	}
	if e.limiter != nil {
		next := run
		run = func(ctx context.Context) error {
			if err := e.limiter.Wait(ctx); err != nil {
				return err
			}
			return next(ctx)
		}
	}

	return run(ctx)
}
