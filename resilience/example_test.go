package resilience_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonwraymond/provmux/resilience"
)

func ExampleNewCircuitBreaker() {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		Cooldown:         time.Minute,
	})
	ctx := context.Background()
	unavailable := errors.New("provider unavailable")

	fmt.Println("initial:", cb.State())
	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, func(context.Context) error { return unavailable })
	}
	fmt.Println("after failures:", cb.State())

	err := cb.Execute(ctx, func(context.Context) error { return nil })
	fmt.Println("rejected:", errors.Is(err, resilience.ErrCircuitOpen))

	cb.Reset()
	fmt.Println("after reset:", cb.State())
	// Output:
	// initial: closed
	// after failures: open
	// rejected: true
	// after reset: closed
}

func ExampleRateLimiter() {
	rl := resilience.NewRateLimiter(resilience.RateLimiterConfig{
		RequestsPerMinute: 60,
		Burst:             2,
	})
	defer rl.Close()

	fmt.Println(rl.TryAcquire(), rl.TryAcquire(), rl.TryAcquire())
	// Output:
	// true true false
}

func ExampleNewExecutor() {
	exec := resilience.NewExecutor(
		resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
		})),
		resilience.WithTimeout(time.Second),
	)

	attempts := 0
	err := exec.Execute(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})
	fmt.Println(err, attempts)
	// Output:
	// <nil> 2
}
