package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/provmux/balancer"
	"github.com/jonwraymond/provmux/cache"
	"github.com/jonwraymond/provmux/failover"
	"github.com/jonwraymond/provmux/health"
	"github.com/jonwraymond/provmux/observe"
	"github.com/jonwraymond/provmux/provider"
	"github.com/jonwraymond/provmux/registry"
	"github.com/jonwraymond/provmux/resilience"
)

// State is the lifecycle state of a Service.
type State int32

// Service states. A Service only moves forward through them.
const (
	StateNew State = iota
	StateStarted
	StateShutdown
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStarted:
		return "started"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// BatchResult is the outcome of one request of a Batch.
type BatchResult struct {
	Response *provider.Response
	Err      error
}

// Status is a read-only view of a Service.
type Status struct {
	State             string                              `json:"state"`
	Strategy          string                              `json:"strategy"`
	FallbackPolicy    string                              `json:"fallback_policy"`
	Providers         map[string]registry.ProviderMetrics `json:"providers"`
	QueueDepth        int                                 `json:"queue_depth"`
	RateLimiterTokens int                                 `json:"rate_limiter_tokens"`
	Cache             *cache.Stats                        `json:"cache,omitempty"`
}

// Service is the entry point for completions. It is safe for concurrent use.
type Service struct {
	opts    Options
	reg     *registry.Registry
	lb      *balancer.Balancer
	exec    *failover.ResilientExecutor
	coord   *failover.Coordinator
	queue   *failover.RetryQueue
	limiter *resilience.RateLimiter
	cache   *cache.ResponseCache
	flight  flightGroup
	mw      *observe.Middleware
	metrics observe.Metrics
	logger  observe.Logger

	mu           sync.Mutex
	state        atomic.Int32
	baseCtx      context.Context
	cancel       context.CancelFunc
	loops        sync.WaitGroup
	streams      sync.WaitGroup
	shutdownOnce sync.Once
	shutdownErr  error
	stopGauge    func() error
}

// New builds a Service and registers opts.Providers.
func New(opts Options) (*Service, error) {
	if opts.Execute == nil {
		return nil, ErrMissingExecute
	}
	opts.applyDefaults()

	s := &Service{
		opts:    opts,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}

	s.reg = registry.New(registry.Config{
		Probe:               opts.Probe,
		HealthCheckInterval: opts.HealthCheckInterval,
		HealthCheckTimeout:  opts.HealthCheckTimeout,
		Circuit:             opts.Circuit,
		OnCircuitChange: func(id string, from, to resilience.State) {
			s.metrics.RecordCircuitTransition(context.Background(), id, from.String(), to.String())
		},
		Logger: opts.Logger,
	})
	s.lb = balancer.New(opts.Strategy, s.reg)
	s.mw = observe.NewMiddleware(opts.Tracer, opts.Metrics, opts.Logger)
	s.exec = failover.NewResilientExecutor(s.reg, opts.Executor, s.mw)
	s.queue = failover.NewRetryQueue(s.reg, s.lb, s.exec, opts.RetryQueue)
	s.coord = failover.NewCoordinator(s.reg, s.lb, s.exec, failover.CoordinatorConfig{
		MaxRetryAttempts: opts.MaxRetryAttempts,
		FailoverEnabled:  opts.FailoverEnabled,
		Policy:           opts.FallbackPolicy,
		Local:            opts.Local,
		Queue:            s.queue,
		Metrics:          opts.Metrics,
		Logger:           opts.Logger,
	})

	if opts.Cache != nil {
		rc, err := cache.NewResponseCache(opts.Cache, *opts.CachePolicy, cache.WithLogger(opts.Logger))
		if err != nil {
			return nil, err
		}
		s.cache = rc
	}

	for _, p := range opts.Providers {
		if err := s.reg.Register(p); err != nil {
			return nil, fmt.Errorf("service: register %q: %w", p.ID, err)
		}
	}

	stop, err := s.queue.ObserveDepth(opts.Metrics)
	if err != nil {
		return nil, fmt.Errorf("service: queue depth gauge: %w", err)
	}
	s.stopGauge = stop

	// The limiter starts a goroutine, so it is created last.
	s.limiter = resilience.NewRateLimiter(opts.RateLimit)
	return s, nil
}

// Start launches the health check loop and, under failover.QueueAndRetry,
// the retry queue. The loops run until Shutdown.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch State(s.state.Load()) {
	case StateStarted:
		return nil
	case StateShutdown:
		return ErrShutdown
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.baseCtx, s.cancel = loopCtx, cancel
	s.loops.Go(func() { s.reg.RunHealthChecks(loopCtx) })
	if s.opts.FallbackPolicy == failover.QueueAndRetry {
		s.loops.Go(func() { s.queue.Run(loopCtx) })
	}

	s.state.Store(int32(StateStarted))
	s.logger.Info(ctx, "service started",
		observe.F("providers", s.reg.Len()),
		observe.F("strategy", s.lb.Strategy().String()),
		observe.F("fallback_policy", s.opts.FallbackPolicy.String()),
	)
	return nil
}

func (s *Service) admit() error {
	switch State(s.state.Load()) {
	case StateNew:
		return ErrNotStarted
	case StateShutdown:
		return ErrShutdown
	}
	return nil
}

// Register adds or updates a provider.
func (s *Service) Register(p provider.Provider) error {
	return s.reg.Register(p)
}

// Unregister removes a provider. Requests in flight against it finish
// normally.
func (s *Service) Unregister(id string) bool {
	s.exec.Forget(id)
	return s.reg.Unregister(id)
}

// SyncProviders makes the registered set equal to providers. Providers
// already registered keep their metrics.
func (s *Service) SyncProviders(providers []provider.Provider) error {
	keep := make(map[string]struct{}, len(providers))
	var errs []error
	for _, p := range providers {
		keep[p.ID] = struct{}{}
		if err := s.reg.Register(p); err != nil {
			errs = append(errs, fmt.Errorf("register %q: %w", p.ID, err))
		}
	}
	for _, p := range s.reg.Providers() {
		if _, ok := keep[p.ID]; !ok {
			s.Unregister(p.ID)
		}
	}
	return errors.Join(errs...)
}

// SetAvailable toggles a provider in or out of selection.
func (s *Service) SetAvailable(id string, available bool) error {
	return s.reg.SetAvailable(id, available)
}

// ResetCircuit closes a provider's circuit breaker.
func (s *Service) ResetCircuit(id string) error {
	return s.reg.ResetCircuit(id)
}

// Registry returns the provider registry.
func (s *Service) Registry() *registry.Registry {
	return s.reg
}

func validate(req provider.Request) error {
	if strings.TrimSpace(req.Model) == "" && strings.TrimSpace(req.Prompt) == "" && len(req.Payload) == 0 {
		return fmt.Errorf("%w: model, prompt or payload is required", ErrInvalidRequest)
	}
	return nil
}

// Complete answers req from the cache when possible, otherwise through the
// rate limiter and the failover coordinator. A queued response carries a
// Ticket for the eventual result.
func (s *Service) Complete(ctx context.Context, req provider.Request) (*provider.Response, error) {
	if err := s.admit(); err != nil {
		return nil, err
	}
	if err := validate(req); err != nil {
		return nil, err
	}
	if s.reg.Len() == 0 {
		return nil, ErrNoProviders
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	complete := s.dispatch
	if s.cache != nil {
		complete = s.cache.Wrap(s.dispatch)
	}

	resp, err := complete(ctx, req)
	if err == nil && resp.Cached {
		s.metrics.RecordOutcome(ctx, observe.OutcomeCached)
	}
	return resp, err
}

// dispatch collapses concurrent identical cacheable misses into one
// upstream call. The call is cancelled only once every caller sharing it
// has gone.
func (s *Service) dispatch(ctx context.Context, req provider.Request) (*provider.Response, error) {
	key, ok := "", false
	if s.cache != nil {
		key, ok = s.cache.Key(req)
	}
	if !ok {
		return s.forward(ctx, req)
	}

	v, err := s.flight.do(ctx, key+"|"+req.Priority.String(), func(fctx context.Context) (any, error) {
		return s.forward(fctx, req)
	}, func(v any) bool {
		resp, _ := v.(*provider.Response)
		return resp != nil && resp.Queued
	})
	if err != nil {
		return nil, err
	}
	shared, _ := v.(*provider.Response)
	if shared == nil {
		return nil, failover.ErrNilResponse
	}
	resp := *shared
	resp.RequestID = req.ID
	return &resp, nil
}

func (s *Service) forward(ctx context.Context, req provider.Request) (*provider.Response, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		if errors.Is(err, resilience.ErrLimiterClosed) {
			return nil, ErrShutdown
		}
		return nil, err
	}
	return s.coord.ExecuteWithFailover(ctx, req, s.opts.Execute)
}

// Batch runs reqs concurrently, at most BatchConcurrency at a time. Results
// are in input order and one failure does not cancel the others.
func (s *Service) Batch(ctx context.Context, reqs []provider.Request) []BatchResult {
	results := make([]BatchResult, len(reqs))
	if err := s.admit(); err != nil {
		for i := range results {
			results[i].Err = err
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(s.opts.BatchConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			resp, err := s.Complete(ctx, req)
			results[i] = BatchResult{Response: resp, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Status returns a snapshot of the service.
func (s *Service) Status() Status {
	st := Status{
		State:             State(s.state.Load()).String(),
		Strategy:          s.lb.Strategy().String(),
		FallbackPolicy:    s.opts.FallbackPolicy.String(),
		Providers:         s.reg.Snapshot(),
		QueueDepth:        s.queue.Len(),
		RateLimiterTokens: s.limiter.Tokens(),
	}
	if s.cache != nil {
		cs := s.cache.Stats()
		st.Cache = &cs
	}
	return st
}

// Checker returns a health checker covering the service lifecycle and the
// providers.
func (s *Service) Checker() health.Checker {
	agg := health.NewAggregator(health.AggregatorConfig{Timeout: s.opts.HealthCheckTimeout})
	agg.Register("service", health.NewCheckerFunc("service", func(context.Context) health.Result {
		switch st := State(s.state.Load()); st {
		case StateStarted:
			return health.Healthy("service started")
		default:
			return health.Unhealthy("service "+st.String(), nil)
		}
	}))
	agg.Register("providers", s.reg.HealthChecker())
	return agg.Checker()
}

// Shutdown stops the service. Queued requests are drained or discarded
// according to ShutdownPolicy while ctx allows. Only the first call does
// any work; later calls return its result.
func (s *Service) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		prev := State(s.state.Swap(int32(StateShutdown)))
		cancel := s.cancel
		s.mu.Unlock()

		var errs []error

		if err := s.queue.Close(ctx, s.opts.ShutdownPolicy); err != nil {
			errs = append(errs, fmt.Errorf("retry queue: %w", err))
		}

		if cancel != nil {
			cancel()
			done := make(chan struct{})
			go func() {
				s.loops.Wait()
				s.streams.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-ctx.Done():
				errs = append(errs, fmt.Errorf("background loops: %w", ctx.Err()))
			}
		}

		s.limiter.Close()
		if s.cache != nil {
			if err := s.cache.Close(); err != nil {
				errs = append(errs, fmt.Errorf("cache: %w", err))
			}
		}
		if err := s.stopGauge(); err != nil {
			errs = append(errs, fmt.Errorf("queue depth gauge: %w", err))
		}

		s.shutdownErr = errors.Join(errs...)
		s.logger.Info(ctx, "service stopped", observe.F("previous_state", prev.String()))
	})
	return s.shutdownErr
}
