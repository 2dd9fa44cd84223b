package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/provmux/balancer"
	"github.com/jonwraymond/provmux/cache"
	"github.com/jonwraymond/provmux/failover"
	"github.com/jonwraymond/provmux/httpprovider"
	"github.com/jonwraymond/provmux/observe"
	"github.com/jonwraymond/provmux/provider"
	"github.com/jonwraymond/provmux/resilience"
)

// Config is the root configuration.
type Config struct {
	Server     ServerConfig        `yaml:"server"`
	Service    ServiceConfig       `yaml:"service"`
	RateLimit  RateLimitConfig     `yaml:"rate_limit"`
	Executor   ExecutorConfig      `yaml:"executor"`
	Circuit    CircuitConfig       `yaml:"circuit"`
	Health     HealthConfig        `yaml:"health"`
	RetryQueue RetryQueueConfig    `yaml:"retry_queue"`
	Cache      CacheConfig         `yaml:"cache"`
	Observe    observe.Config      `yaml:"observe"`
	Transport  httpprovider.Config `yaml:"transport"`
	Providers  []provider.Provider `yaml:"providers"`
}

// ServerConfig configures the daemon HTTP server.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ServiceConfig configures selection, failover and batching.
type ServiceConfig struct {
	Strategy         string `yaml:"strategy"`
	MaxRetryAttempts int    `yaml:"max_retry_attempts"`
	FailoverEnabled  bool   `yaml:"failover_enabled"`
	FallbackPolicy   string `yaml:"fallback_policy"`
	BatchConcurrency int    `yaml:"batch_concurrency"`
	ShutdownPolicy   string `yaml:"shutdown_policy"`
}

// RateLimitConfig configures the global token bucket.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// ExecutorConfig configures a single provider attempt.
type ExecutorConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	BulkheadWait time.Duration `yaml:"bulkhead_wait"`
}

// CircuitConfig configures every provider's circuit breaker.
type CircuitConfig struct {
	FailureThreshold    int           `yaml:"failure_threshold"`
	FailureRatio        float64       `yaml:"failure_ratio"`
	MinRequests         int           `yaml:"min_requests"`
	Window              time.Duration `yaml:"window"`
	Cooldown            time.Duration `yaml:"cooldown"`
	HalfOpenMaxRequests int           `yaml:"half_open_max_requests"`
}

// HealthConfig configures the provider health loop.
type HealthConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RetryQueueConfig configures the retry queue.
type RetryQueueConfig struct {
	Interval    time.Duration `yaml:"interval"`
	BatchSize   int           `yaml:"batch_size"`
	MaxDepth    int           `yaml:"max_depth"`
	MaxAge      time.Duration `yaml:"max_age"`
	MaxRequeues int           `yaml:"max_requeues"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`

	// Backend is memory or redis.
	Backend  string `yaml:"backend"`
	Capacity int    `yaml:"capacity"`

	// TTLByPriority maps low, normal, high and critical to a TTL.
	TTLByPriority map[string]time.Duration `yaml:"ttl_by_priority"`
	DefaultTTL    time.Duration            `yaml:"default_ttl"`
	MaxTTL        time.Duration            `yaml:"max_ttl"`

	Redis cache.RedisConfig `yaml:"redis"`
}

// DefaultConfig returns the configuration used for every omitted field.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    2 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Service: ServiceConfig{
			Strategy:         balancer.RoundRobin.String(),
			MaxRetryAttempts: 3,
			FailoverEnabled:  true,
			FallbackPolicy:   failover.FailFast.String(),
			BatchConcurrency: 8,
			ShutdownPolicy:   failover.Drain.String(),
		},
		RateLimit: RateLimitConfig{RequestsPerMinute: 600, Burst: 20},
		Executor: ExecutorConfig{
			Timeout:      30 * time.Second,
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		},
		Circuit: CircuitConfig{
			FailureThreshold:    5,
			MinRequests:         10,
			Window:              time.Minute,
			Cooldown:            30 * time.Second,
			HalfOpenMaxRequests: 1,
		},
		Health: HealthConfig{Interval: time.Minute, Timeout: 10 * time.Second},
		RetryQueue: RetryQueueConfig{
			Interval:    30 * time.Second,
			BatchSize:   10,
			MaxDepth:    1000,
			MaxRequeues: 5,
		},
		Cache: CacheConfig{
			Enabled:  true,
			Backend:  "memory",
			Capacity: cache.DefaultCapacity,
			TTLByPriority: map[string]time.Duration{
				"critical": time.Minute,
				"high":     5 * time.Minute,
				"normal":   15 * time.Minute,
				"low":      time.Hour,
			},
			DefaultTTL: 15 * time.Minute,
			MaxTTL:     time.Hour,
			Redis:      cache.DefaultRedisConfig(),
		},
		Observe: observe.Config{
			ServiceName: "provmux",
			Logging:     observe.LoggingConfig{Enabled: true, Level: "info"},
		},
	}
}

// LoadFromFile reads, expands and validates the file at path. Omitted
// fields keep their DefaultConfig value.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse expands, decodes and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	expanded, err := ExpandEnvStrict(string(data))
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Server.Addr == "" {
		invalid("server.addr is required")
	}
	if _, err := c.Strategy(); err != nil {
		invalid("service.strategy: %v", err)
	}
	if _, err := c.FallbackPolicy(); err != nil {
		invalid("service.fallback_policy: %v", err)
	}
	if _, err := c.ShutdownPolicy(); err != nil {
		invalid("service.shutdown_policy: %v", err)
	}
	if c.Service.MaxRetryAttempts < 1 {
		invalid("service.max_retry_attempts must be >= 1")
	}
	if c.Service.BatchConcurrency < 1 {
		invalid("service.batch_concurrency must be >= 1")
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		invalid("rate_limit values must be >= 0")
	}
	if c.Circuit.FailureRatio < 0 || c.Circuit.FailureRatio > 1 {
		invalid("circuit.failure_ratio must be within [0, 1]")
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		invalid("cache.backend must be memory or redis, got %q", c.Cache.Backend)
	}
	if _, err := c.CachePolicy(); err != nil {
		invalid("cache.ttl_by_priority: %v", err)
	}
	if err := c.Observe.Validate(); err != nil {
		invalid("observe: %v", err)
	}

	seen := make(map[string]struct{}, len(c.Providers))
	for i, p := range c.Providers {
		if err := p.Validate(); err != nil {
			invalid("providers[%d]: %v", i, err)
			continue
		}
		if _, dup := seen[p.ID]; dup {
			invalid("providers[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = struct{}{}
	}

	return errors.Join(errs...)
}

// Strategy returns the parsed load balancing strategy.
func (c *Config) Strategy() (balancer.Strategy, error) {
	return balancer.ParseStrategy(c.Service.Strategy)
}

// FallbackPolicy returns the parsed fallback policy.
func (c *Config) FallbackPolicy() (failover.FallbackPolicy, error) {
	return failover.ParseFallbackPolicy(c.Service.FallbackPolicy)
}

// ShutdownPolicy returns the parsed retry queue shutdown policy.
func (c *Config) ShutdownPolicy() (failover.ShutdownPolicy, error) {
	return failover.ParseShutdownPolicy(c.Service.ShutdownPolicy)
}

// CachePolicy returns the cache TTL policy. A disabled cache yields
// cache.NoCachePolicy.
func (c *Config) CachePolicy() (cache.Policy, error) {
	if !c.Cache.Enabled {
		return cache.NoCachePolicy(), nil
	}
	p := cache.Policy{
		TTLByPriority: make(map[provider.Priority]time.Duration, len(c.Cache.TTLByPriority)),
		DefaultTTL:    c.Cache.DefaultTTL,
		MaxTTL:        c.Cache.MaxTTL,
	}
	for name, ttl := range c.Cache.TTLByPriority {
		pr, err := provider.ParsePriority(name)
		if err != nil {
			return cache.Policy{}, err
		}
		p.TTLByPriority[pr] = ttl
	}
	return p, nil
}

// CircuitBreaker returns the breaker configuration shared by all providers.
func (c *Config) CircuitBreaker() resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		FailureThreshold:    c.Circuit.FailureThreshold,
		FailureRatio:        c.Circuit.FailureRatio,
		MinRequests:         c.Circuit.MinRequests,
		Window:              c.Circuit.Window,
		Cooldown:            c.Circuit.Cooldown,
		HalfOpenMaxRequests: c.Circuit.HalfOpenMaxRequests,
	}
}

// RateLimiter returns the global token bucket configuration.
func (c *Config) RateLimiter() resilience.RateLimiterConfig {
	return resilience.RateLimiterConfig{
		RequestsPerMinute: c.RateLimit.RequestsPerMinute,
		Burst:             c.RateLimit.Burst,
	}
}

// ResilientExecutor returns the per-attempt configuration.
func (c *Config) ResilientExecutor() failover.ExecutorConfig {
	return failover.ExecutorConfig{
		Timeout: c.Executor.Timeout,
		Retry: resilience.RetryConfig{
			MaxAttempts:  c.Executor.MaxAttempts,
			InitialDelay: c.Executor.InitialDelay,
			MaxDelay:     c.Executor.MaxDelay,
		},
		BulkheadWait: c.Executor.BulkheadWait,
	}
}

// RetryQueueSettings returns the retry queue configuration.
func (c *Config) RetryQueueSettings() failover.RetryQueueConfig {
	return failover.RetryQueueConfig{
		Interval:    c.RetryQueue.Interval,
		BatchSize:   c.RetryQueue.BatchSize,
		MaxDepth:    c.RetryQueue.MaxDepth,
		MaxAge:      c.RetryQueue.MaxAge,
		MaxRequeues: c.RetryQueue.MaxRequeues,
	}
}
