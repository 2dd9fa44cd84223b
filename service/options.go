package service

import (
	"time"

	"github.com/jonwraymond/provmux/balancer"
	"github.com/jonwraymond/provmux/cache"
	"github.com/jonwraymond/provmux/failover"
	"github.com/jonwraymond/provmux/observe"
	"github.com/jonwraymond/provmux/provider"
	"github.com/jonwraymond/provmux/resilience"
)

// Options configures a Service.
type Options struct {
	// Execute performs one request against one provider. Required.
	Execute provider.ExecuteFunc

	// Stream performs one streaming request. Stream returns
	// ErrStreamingUnsupported without it.
	Stream provider.StreamFunc

	// Probe checks provider health in the background.
	Probe provider.ProbeFunc

	// Providers are registered by New.
	Providers []provider.Provider

	// Strategy selects providers.
	// Default: balancer.RoundRobin
	Strategy balancer.Strategy

	// MaxRetryAttempts is the number of distinct providers tried per call.
	// Default: 3
	MaxRetryAttempts int

	// FailoverEnabled allows alternates after the first provider fails.
	FailoverEnabled bool

	// FallbackPolicy is applied once every tried provider failed.
	FallbackPolicy failover.FallbackPolicy

	// Local serves failover.FallbackToLocal.
	Local provider.LocalFallback

	// RateLimit configures the global token bucket.
	RateLimit resilience.RateLimiterConfig

	// Executor configures each provider attempt.
	Executor failover.ExecutorConfig

	// Circuit configures every provider's breaker.
	Circuit resilience.CircuitBreakerConfig

	// HealthCheckInterval and HealthCheckTimeout drive the probe loop.
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration

	// RetryQueue configures the queue used by failover.QueueAndRetry.
	RetryQueue failover.RetryQueueConfig

	// ShutdownPolicy decides what happens to queued requests on Shutdown.
	ShutdownPolicy failover.ShutdownPolicy

	// Cache stores responses. Nil disables response caching.
	Cache cache.Cache

	// CachePolicy chooses TTLs by priority.
	// Default: cache.DefaultPolicy()
	CachePolicy *cache.Policy

	// BatchConcurrency bounds concurrent requests within one Batch call.
	// Default: 8
	BatchConcurrency int

	Tracer  observe.Tracer
	Metrics observe.Metrics
	Logger  observe.Logger
}

func (o *Options) applyDefaults() {
	if o.MaxRetryAttempts <= 0 {
		o.MaxRetryAttempts = 3
	}
	if o.BatchConcurrency <= 0 {
		o.BatchConcurrency = 8
	}
	if o.CachePolicy == nil {
		p := cache.DefaultPolicy()
		o.CachePolicy = &p
	}
	if o.Tracer == nil {
		o.Tracer = observe.NopTracer()
	}
	if o.Metrics == nil {
		o.Metrics = observe.NopMetrics()
	}
	if o.Logger == nil {
		o.Logger = observe.NopLogger()
	}
	o.RetryQueue.Logger = o.Logger
}
