package failover

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/jonwraymond/provmux/observe"
	"github.com/jonwraymond/provmux/provider"
	"github.com/jonwraymond/provmux/registry"
	"github.com/jonwraymond/provmux/resilience"
)

// ExecutorConfig configures a ResilientExecutor.
type ExecutorConfig struct {
	// Timeout bounds each individual try.
	// Default: 30 seconds
	Timeout time.Duration

	// Retry configures the per-provider retry. RetryIf is replaced by
	// IsRetryable. Jitter is always on.
	Retry resilience.RetryConfig

	// IsRetryable reports whether a failed try is worth repeating against
	// the same provider.
	// Default: IsRetryable
	IsRetryable func(err error) bool

	// BulkheadWait is how long a request waits for a provider slot when
	// the provider's MaxConcurrent is reached. Zero rejects immediately.
	BulkheadWait time.Duration
}

// IsRetryable reports whether err is transient or a timeout. Permanent
// errors never are.
func IsRetryable(err error) bool {
	if provider.IsPermanent(err) {
		return false
	}
	return provider.IsTransient(err) || errors.Is(err, resilience.ErrTimeout)
}

// ResilientExecutor runs one attempt at one provider, composing in order
// (outermost first) the provider's rate limit hint, its bulkhead, its
// circuit breaker, retry with backoff, and a per-try timeout.
type ResilientExecutor struct {
	reg *registry.Registry
	cfg ExecutorConfig
	mw  *observe.Middleware

	// pipelines caches one *pipeline per provider id.
	pipelines sync.Map
}

type pipeline struct {
	p       provider.Provider
	breaker *resilience.CircuitBreaker
	exec    *resilience.Executor
}

// NewResilientExecutor creates a ResilientExecutor over the providers and
// breakers of reg. A nil middleware records nothing.
func NewResilientExecutor(reg *registry.Registry, cfg ExecutorConfig, mw *observe.Middleware) *ResilientExecutor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.IsRetryable == nil {
		cfg.IsRetryable = IsRetryable
	}
	cfg.Retry.RetryIf = cfg.IsRetryable
	cfg.Retry.Jitter = true
	if mw == nil {
		mw = observe.NewMiddleware(nil, nil, nil)
	}
	return &ResilientExecutor{reg: reg, cfg: cfg, mw: mw}
}

// Execute runs fn against p. The attempt is tracked in the registry from
// start to finish, including when ctx is cancelled.
func (x *ResilientExecutor) Execute(ctx context.Context, p provider.Provider, req provider.Request, fn provider.ExecuteFunc) (resp *provider.Response, err error) {
	pl, err := x.pipeline(p)
	if err != nil {
		return nil, err
	}

	tr := x.reg.Begin(p.ID)
	defer func() { tr.End(err) }()

	// The timeout may abandon a try that still completes later.
	var out atomic.Pointer[provider.Response]
	meta := observe.ProviderMeta{
		ID:        p.ID,
		Vendor:    p.Vendor,
		Address:   p.Address,
		Model:     req.Model,
		RequestID: req.ID,
	}
	attempt := x.mw.Wrap(func(ctx context.Context, _ observe.ProviderMeta) error {
		return pl.exec.Execute(ctx, func(ctx context.Context) error {
			r, err := fn(ctx, p, req)
			if err != nil {
				return err
			}
			if r == nil {
				return provider.Permanent(ErrNilResponse)
			}
			out.Store(r)
			return nil
		})
	})

	if err = attempt(ctx, meta); err != nil {
		return nil, err
	}

	resp = out.Load()
	if resp.ProviderID == "" {
		resp.ProviderID = p.ID
	}
	if resp.RequestID == "" {
		resp.RequestID = req.ID
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}
	if resp.Latency == 0 {
		resp.Latency = tr.Elapsed()
	}
	return resp, nil
}

// pipeline returns the cached pipeline for p, rebuilding it when the
// provider's registration or breaker changed.
func (x *ResilientExecutor) pipeline(p provider.Provider) (*pipeline, error) {
	breaker, ok := x.reg.Breaker(p.ID)
	if !ok {
		return nil, registry.ErrUnknownProvider
	}
	if v, ok := x.pipelines.Load(p.ID); ok {
		pl := v.(*pipeline)
		if pl.p == p && pl.breaker == breaker {
			return pl, nil
		}
	}

	opts := []resilience.ExecutorOption{
		resilience.WithCircuitBreaker(breaker),
		resilience.WithRetry(resilience.NewRetry(x.cfg.Retry)),
		resilience.WithTimeout(x.cfg.Timeout),
	}
	if p.MaxConcurrent > 0 {
		opts = append(opts, resilience.WithBulkhead(resilience.NewBulkhead(resilience.BulkheadConfig{
			MaxConcurrent: p.MaxConcurrent,
			MaxWait:       x.cfg.BulkheadWait,
		})))
	}
	if p.RateLimitHint > 0 {
		burst := int(math.Ceil(p.RateLimitHint))
		opts = append(opts, resilience.WithLimiter(rate.NewLimiter(rate.Limit(p.RateLimitHint), burst)))
	}

	pl := &pipeline{p: p, breaker: breaker, exec: resilience.NewExecutor(opts...)}
	x.pipelines.Store(p.ID, pl)
	return pl, nil
}

// Forget drops the cached pipeline of id.
func (x *ResilientExecutor) Forget(id string) {
	x.pipelines.Delete(id)
}
