// Package resilience provides the failure-handling primitives used around
// every provider call.
//
// Each primitive wraps a func(context.Context) error and can be used on its
// own or composed with an Executor:
//
//   - RateLimiter: a token bucket refilled at a fixed requests-per-minute rate.
//     Acquire suspends the caller until a token is free.
//
//   - CircuitBreaker: stops sending load to a provider after consecutive
//     failures (or a high failure ratio) and lets a trial request through
//     once the cooldown has elapsed.
//
//   - Retry: retries retryable failures with exponential, linear or constant
//     backoff plus jitter.
//
//   - Bulkhead: caps concurrent calls.
//
//   - Timeout: bounds the duration of a single call.
//
// # Composition
//
//	exec := resilience.NewExecutor(
//	    resilience.WithLimiter(rate.NewLimiter(5, 5)),
//	    resilience.WithBulkhead(resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: 8})),
//	    resilience.WithCircuitBreaker(cb),
//	    resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{MaxAttempts: 3, Jitter: true})),
//	    resilience.WithTimeout(10*time.Second),
//	)
//
//	err := exec.Execute(ctx, func(ctx context.Context) error {
//	    return callProvider(ctx)
//	})
//
// The limiter is outermost and the timeout innermost, so every retry gets a
// fresh deadline and the breaker sees the outcome of the whole retry loop.
package resilience
