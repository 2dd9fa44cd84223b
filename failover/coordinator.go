package failover

import (
	"context"
	"fmt"

	"github.com/jonwraymond/provmux/balancer"
	"github.com/jonwraymond/provmux/observe"
	"github.com/jonwraymond/provmux/provider"
	"github.com/jonwraymond/provmux/registry"
)

// Selector picks a provider outside an exclusion set.
type Selector interface {
	Select(exclude balancer.ExclusionSet) (provider.Provider, bool)
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	// MaxRetryAttempts is the number of distinct providers tried per call.
	// Default: 3
	MaxRetryAttempts int

	// FailoverEnabled allows trying alternates. When false a single
	// provider is tried.
	FailoverEnabled bool

	// Policy is applied once every tried provider failed.
	Policy FallbackPolicy

	// Local serves FallbackToLocal. Without it the policy fails fast.
	Local provider.LocalFallback

	// Queue serves QueueAndRetry. Without it the policy fails fast.
	Queue *RetryQueue

	// Metrics receives request outcomes.
	Metrics observe.Metrics

	// Logger receives failover events.
	Logger observe.Logger
}

// Coordinator tries providers one after another until one succeeds.
type Coordinator struct {
	reg     *registry.Registry
	lb      Selector
	exec    *ResilientExecutor
	cfg     CoordinatorConfig
	metrics observe.Metrics
	logger  observe.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(reg *registry.Registry, lb Selector, exec *ResilientExecutor, cfg CoordinatorConfig) *Coordinator {
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 3
	}
	c := &Coordinator{
		reg:     reg,
		lb:      lb,
		exec:    exec,
		cfg:     cfg,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
	if c.metrics == nil {
		c.metrics = observe.NopMetrics()
	}
	if c.logger == nil {
		c.logger = observe.NopLogger()
	}
	return c
}

// Policy returns the configured fallback policy.
func (c *Coordinator) Policy() FallbackPolicy {
	return c.cfg.Policy
}

// ExecuteWithFailover runs fn against up to MaxRetryAttempts distinct
// providers, strictly one after another, and returns the first success.
// When all fail the fallback policy decides the outcome. Cancellation of ctx
// is returned as is without any fallback.
func (c *Coordinator) ExecuteWithFailover(ctx context.Context, req provider.Request, fn provider.ExecuteFunc) (*provider.Response, error) {
	if c.reg.Len() == 0 {
		return nil, ErrNoProviders
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	attempts := c.cfg.MaxRetryAttempts
	if !c.cfg.FailoverEnabled {
		attempts = 1
	}

	excluded := make(balancer.ExclusionSet, attempts)
	attempted := make([]string, 0, attempts)
	var last error

	for range attempts {
		p, ok := c.lb.Select(excluded)
		if !ok {
			break
		}
		excluded.Add(p.ID)
		attempted = append(attempted, p.ID)

		resp, err := c.exec.Execute(ctx, p, req, fn)
		if err == nil {
			c.reg.RecordSuccess(p.ID)
			c.metrics.RecordOutcome(ctx, observe.OutcomeSuccess)
			return resp, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		last = err
		c.reg.RecordFailure(p.ID, err)
		c.logger.Warn(ctx, "provider failed, trying next",
			observe.F("provider.id", p.ID),
			observe.F("request_id", req.ID),
			observe.F("attempt", len(attempted)),
			observe.Err(err),
		)
	}

	return c.exhausted(ctx, req, fn, &ExhaustedError{Attempted: attempted, Last: last})
}

func (c *Coordinator) exhausted(ctx context.Context, req provider.Request, fn provider.ExecuteFunc, exh *ExhaustedError) (*provider.Response, error) {
	switch c.cfg.Policy {
	case FallbackToLocal:
		if c.cfg.Local == nil {
			break
		}
		resp, err := c.cfg.Local.Complete(ctx, req)
		if err == nil && resp == nil {
			err = ErrNilResponse
		}
		if err != nil {
			exh.Fallback = fmt.Errorf("local fallback: %w", err)
			break
		}
		resp.Fallback = true
		if resp.RequestID == "" {
			resp.RequestID = req.ID
		}
		c.logger.Info(ctx, "served by local fallback",
			observe.F("request_id", req.ID),
			observe.F("attempted", exh.Attempted),
		)
		c.metrics.RecordOutcome(ctx, observe.OutcomeFallback)
		return resp, nil

	case QueueAndRetry:
		if c.cfg.Queue == nil {
			break
		}
		t, err := c.cfg.Queue.Enqueue(ctx, req, fn)
		if err != nil {
			exh.Fallback = err
			break
		}
		c.logger.Info(ctx, "request queued for retry",
			observe.F("request_id", req.ID),
			observe.F("attempted", exh.Attempted),
		)
		c.metrics.RecordOutcome(ctx, observe.OutcomeQueued)
		return &provider.Response{
			RequestID: req.ID,
			Model:     req.Model,
			Queued:    true,
			Ticket:    t,
		}, nil
	}

	c.logger.Error(ctx, "all providers failed",
		observe.F("request_id", req.ID),
		observe.F("attempted", exh.Attempted),
		observe.Err(exh),
	)
	c.metrics.RecordOutcome(ctx, observe.OutcomeFailed)
	return nil, exh
}
