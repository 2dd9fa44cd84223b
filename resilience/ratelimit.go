package resilience

import (
	"context"
	"sync"
	"time"
)

// RateLimiterConfig configures the global token bucket.
type RateLimiterConfig struct {
	// RequestsPerMinute is the sustained refill rate.
	// Default: 60
	RequestsPerMinute int

	// Burst is the bucket capacity. The bucket starts full.
	// Default: 10
	Burst int
}

// RateLimiter is a token bucket backed by a buffered channel.
//
// A background goroutine adds one token every minute/RequestsPerMinute and
// drops it when the bucket is full, so the token count never exceeds Burst.
// Acquire blocks on the channel and never spins.
type RateLimiter struct {
	config   RateLimiterConfig
	tokens   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	stopped  sync.WaitGroup
}

// NewRateLimiter creates a full bucket and starts its refill goroutine.
// Close must be called to release the goroutine.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 60
	}
	if config.Burst <= 0 {
		config.Burst = 10
	}

	rl := &RateLimiter{
		config: config,
		tokens: make(chan struct{}, config.Burst),
		done:   make(chan struct{}),
	}
	for i := 0; i < config.Burst; i++ {
		rl.tokens <- struct{}{}
	}

	rl.stopped.Add(1)
	go rl.refill(rl.Interval())
	return rl
}

// Interval is the time between two refills.
func (rl *RateLimiter) Interval() time.Duration {
	return time.Minute / time.Duration(rl.config.RequestsPerMinute)
}

func (rl *RateLimiter) refill(every time.Duration) {
	defer rl.stopped.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			select {
			case rl.tokens <- struct{}{}:
			default:
			}
		}
	}
}

// Acquire takes one token, waiting until one is available, ctx is done, or
// the limiter is closed.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	select {
	case <-rl.done:
		return ErrLimiterClosed
	default:
	}

	select {
	case <-rl.tokens:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-rl.done:
		return ErrLimiterClosed
	}
}

// Wait is Acquire. It lets RateLimiter satisfy Limiter.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.Acquire(ctx)
}

// TryAcquire takes a token without waiting.
func (rl *RateLimiter) TryAcquire() bool {
	select {
	case <-rl.done:
		return false
	default:
	}
	select {
	case <-rl.tokens:
		return true
	default:
		return false
	}
}

// Execute acquires a token and runs op.
func (rl *RateLimiter) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := rl.Acquire(ctx); err != nil {
		return err
	}
	return op(ctx)
}

// Tokens returns the number of tokens currently in the bucket.
func (rl *RateLimiter) Tokens() int {
	return len(rl.tokens)
}

// Config returns the effective configuration.
func (rl *RateLimiter) Config() RateLimiterConfig {
	return rl.config
}

// Close stops the refill goroutine and fails pending and future Acquire
// calls with ErrLimiterClosed. It is safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() {
		close(rl.done)
	})
	rl.stopped.Wait()
}
