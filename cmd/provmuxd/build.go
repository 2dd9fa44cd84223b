package main

import (
	"context"
	"fmt"

	"github.com/jonwraymond/provmux/cache"
	"github.com/jonwraymond/provmux/config"
	"github.com/jonwraymond/provmux/httpprovider"
	"github.com/jonwraymond/provmux/observe"
	"github.com/jonwraymond/provmux/service"
)

// telemetry bundles what the service reports into.
type telemetry struct {
	tracer  observe.Tracer
	metrics observe.Metrics
	logger  observe.Logger
}

func newTelemetry(obs observe.Observer) (telemetry, error) {
	m, err := observe.NewMetrics(obs.Meter())
	if err != nil {
		return telemetry{}, fmt.Errorf("metrics: %w", err)
	}
	return telemetry{
		tracer:  observe.NewTracer(obs.Tracer()),
		metrics: m,
		logger:  obs.Logger(),
	}, nil
}

// newCache returns the configured cache backend, or nil when caching is
// disabled.
func newCache(ctx context.Context, cfg *config.Config) (cache.Cache, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}
	switch cfg.Cache.Backend {
	case "redis":
		rc, err := cache.NewRedisCache(ctx, cfg.Cache.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		return rc, nil
	default:
		mc, err := cache.NewMemoryCache(cfg.Cache.Capacity)
		if err != nil {
			return nil, fmt.Errorf("memory cache: %w", err)
		}
		return mc, nil
	}
}

// serviceOptions maps cfg onto service.Options. cfg must be valid.
func serviceOptions(cfg *config.Config, client *httpprovider.Client, backend cache.Cache, tel telemetry) (service.Options, error) {
	strategy, err := cfg.Strategy()
	if err != nil {
		return service.Options{}, err
	}
	fallback, err := cfg.FallbackPolicy()
	if err != nil {
		return service.Options{}, err
	}
	shutdown, err := cfg.ShutdownPolicy()
	if err != nil {
		return service.Options{}, err
	}
	policy, err := cfg.CachePolicy()
	if err != nil {
		return service.Options{}, err
	}

	return service.Options{
		Execute:             client.Execute,
		Stream:              client.Stream,
		Probe:               client.Probe,
		Providers:           cfg.Providers,
		Strategy:            strategy,
		MaxRetryAttempts:    cfg.Service.MaxRetryAttempts,
		FailoverEnabled:     cfg.Service.FailoverEnabled,
		FallbackPolicy:      fallback,
		RateLimit:           cfg.RateLimiter(),
		Executor:            cfg.ResilientExecutor(),
		Circuit:             cfg.CircuitBreaker(),
		HealthCheckInterval: cfg.Health.Interval,
		HealthCheckTimeout:  cfg.Health.Timeout,
		RetryQueue:          cfg.RetryQueueSettings(),
		ShutdownPolicy:      shutdown,
		Cache:               backend,
		CachePolicy:         &policy,
		BatchConcurrency:    cfg.Service.BatchConcurrency,
		Tracer:              tel.tracer,
		Metrics:             tel.metrics,
		Logger:              tel.logger,
	}, nil
}
