package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonwraymond/provmux/health"
	"github.com/jonwraymond/provmux/observe"
	"github.com/jonwraymond/provmux/provider"
	"github.com/jonwraymond/provmux/resilience"
)

// Config configures a Registry.
type Config struct {
	// Probe checks provider health. Without a probe providers stay healthy
	// and RunHealthChecks returns immediately.
	Probe provider.ProbeFunc

	// HealthCheckInterval is the time between two health cycles.
	// Default: 1 minute
	HealthCheckInterval time.Duration

	// HealthCheckTimeout bounds one health cycle.
	// Default: 10 seconds
	HealthCheckTimeout time.Duration

	// Circuit configures every provider's breaker. OnStateChange is
	// replaced; use OnCircuitChange instead. A nil IsFailure ignores
	// permanent and cancellation errors.
	Circuit resilience.CircuitBreakerConfig

	// OnCircuitChange is called after a provider's breaker changes state.
	OnCircuitChange func(id string, from, to resilience.State)

	// Logger receives health and circuit transitions.
	Logger observe.Logger
}

// Registry is the set of known providers. It is safe for concurrent use.
type Registry struct {
	cfg    Config
	logger observe.Logger
	probes *health.Aggregator

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// New creates an empty Registry.
func New(cfg Config) *Registry {
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = time.Minute
	}
	if cfg.HealthCheckTimeout <= 0 {
		cfg.HealthCheckTimeout = 10 * time.Second
	}
	if cfg.Circuit.IsFailure == nil {
		cfg.Circuit.IsFailure = IsProviderFailure
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}

	return &Registry{
		cfg:     cfg,
		logger:  cfg.Logger,
		probes:  health.NewAggregator(health.AggregatorConfig{Timeout: cfg.HealthCheckTimeout}),
		entries: make(map[string]*entry),
	}
}

// IsProviderFailure reports whether err says something about the provider's
// health. Permanent errors and caller cancellation do not.
func IsProviderFailure(err error) bool {
	return err != nil && !provider.IsPermanent(err) && !errors.Is(err, context.Canceled)
}

// Register adds p. Registering an existing id replaces its static attributes
// and keeps its metrics and circuit state.
func (r *Registry) Register(p provider.Provider) error {
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if e, ok := r.entries[p.ID]; ok {
		e.static.Store(&p)
		r.mu.Unlock()
		return nil
	}

	e := &entry{}
	e.static.Store(&p)
	e.available.Store(!p.Disabled)
	e.healthy.Store(true)
	e.breaker = r.newBreaker(p.ID)
	r.entries[p.ID] = e
	r.order = append(r.order, p.ID)
	// Probes change under r.mu so they always match entries.
	if r.cfg.Probe != nil {
		probe := r.cfg.Probe
		r.probes.Register(p.ID, health.NewCheckerFunc(p.ID, func(ctx context.Context) health.Result {
			return health.FromError("reachable", probe(ctx, e.provider()))
		}))
	}
	r.mu.Unlock()

	r.logger.Info(context.Background(), "provider registered",
		observe.F("provider.id", p.ID),
		observe.F("provider.vendor", p.Vendor),
		observe.F("priority", p.Priority),
	)
	return nil
}

func (r *Registry) newBreaker(id string) *resilience.CircuitBreaker {
	cfg := r.cfg.Circuit
	cfg.OnStateChange = func(from, to resilience.State) {
		fields := []observe.Field{
			observe.F("provider.id", id),
			observe.F("from", from.String()),
			observe.F("to", to.String()),
		}
		if to == resilience.StateOpen {
			r.logger.Warn(context.Background(), "circuit opened", fields...)
		} else {
			r.logger.Info(context.Background(), "circuit state changed", fields...)
		}
		if r.cfg.OnCircuitChange != nil {
			r.cfg.OnCircuitChange(id, from, to)
		}
	}
	return resilience.NewCircuitBreaker(cfg)
}

// Unregister removes id. In-flight requests still complete but no longer
// update metrics. It reports whether id was registered.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		e.removed.Store(true)
		delete(r.entries, id)
		for i, v := range r.order {
			if v == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		r.probes.Unregister(id)
	}
	r.mu.Unlock()

	if ok {
		r.logger.Info(context.Background(), "provider unregistered", observe.F("provider.id", id))
	}
	return ok
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// SetAvailable toggles whether id may be selected.
func (r *Registry) SetAvailable(id string, available bool) error {
	e, ok := r.lookup(id)
	if !ok {
		return ErrUnknownProvider
	}
	e.available.Store(available)
	return nil
}

// SetHealthy overrides the health flag of id until the next health cycle.
func (r *Registry) SetHealthy(id string, healthy bool) error {
	e, ok := r.lookup(id)
	if !ok {
		return ErrUnknownProvider
	}
	r.flipHealth(context.Background(), id, e, healthy, "")
	return nil
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Get returns the provider registered as id.
func (r *Registry) Get(id string) (provider.Provider, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return provider.Provider{}, false
	}
	return e.provider(), true
}

// Providers returns every provider in registration order.
func (r *Registry) Providers() []provider.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]provider.Provider, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].provider())
	}
	return out
}

// Metrics returns a snapshot of id.
func (r *Registry) Metrics(id string) (ProviderMetrics, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return ProviderMetrics{}, false
	}
	return e.snapshot(), true
}

// Snapshot returns a snapshot of every provider keyed by id.
func (r *Registry) Snapshot() map[string]ProviderMetrics {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.order))
	for _, id := range r.order {
		entries = append(entries, r.entries[id])
	}
	r.mu.RUnlock()

	out := make(map[string]ProviderMetrics, len(entries))
	for _, e := range entries {
		m := e.snapshot()
		out[m.Provider.ID] = m
	}
	return out
}

// Candidate is an eligible provider with the load figures the balancer needs.
type Candidate struct {
	Provider        provider.Provider
	Active          int64
	AvgResponseTime time.Duration
}

// Candidates returns the providers that are healthy, available and whose
// circuit is not open, in registration order.
func (r *Registry) Candidates() []Candidate {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.order))
	for _, id := range r.order {
		entries = append(entries, r.entries[id])
	}
	r.mu.RUnlock()

	out := make([]Candidate, 0, len(entries))
	for _, e := range entries {
		if !e.healthy.Load() || !e.available.Load() {
			continue
		}
		if e.breaker.State() == resilience.StateOpen {
			continue
		}
		out = append(out, Candidate{
			Provider:        e.provider(),
			Active:          e.active.Load(),
			AvgResponseTime: e.avg(),
		})
	}
	return out
}

// Breaker returns the circuit breaker of id.
func (r *Registry) Breaker(id string) (*resilience.CircuitBreaker, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return nil, false
	}
	return e.breaker, true
}

// ResetCircuit closes the breaker of id.
func (r *Registry) ResetCircuit(id string) error {
	e, ok := r.lookup(id)
	if !ok {
		return ErrUnknownProvider
	}
	e.breaker.Reset()
	return nil
}

// RecordSuccess clears the last error of id.
func (r *Registry) RecordSuccess(id string) {
	if e, ok := r.lookup(id); ok {
		e.setLastError(nil)
	}
}

// RecordFailure stores err as the last error of id.
func (r *Registry) RecordFailure(id string, err error) {
	if e, ok := r.lookup(id); ok && err != nil {
		e.setLastError(err)
	}
}
