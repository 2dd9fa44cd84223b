package registry

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonwraymond/provmux/provider"
	"github.com/jonwraymond/provmux/resilience"
)

// emaAlpha weights the newest response time sample.
const emaAlpha = 0.1

// ProviderMetrics is a point-in-time view of one provider.
type ProviderMetrics struct {
	Provider            provider.Provider `json:"provider"`
	Healthy             bool              `json:"healthy"`
	Available           bool              `json:"available"`
	ActiveRequests      int64             `json:"active_requests"`
	TotalRequests       int64             `json:"total_requests"`
	FailedRequests      int64             `json:"failed_requests"`
	AvgResponseTime     time.Duration     `json:"avg_response_time"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	CircuitState        string            `json:"circuit_state"`
	CircuitOpen         bool              `json:"circuit_open"`
	CircuitOpenedAt     time.Time         `json:"circuit_opened_at,omitempty"`
	LastError           string            `json:"last_error,omitempty"`
	LastChecked         time.Time         `json:"last_checked,omitempty"`
}

// ErrorRate returns FailedRequests/TotalRequests, or 0 with no traffic.
func (m ProviderMetrics) ErrorRate() float64 {
	if m.TotalRequests == 0 {
		return 0
	}
	return float64(m.FailedRequests) / float64(m.TotalRequests)
}

type entry struct {
	static  atomic.Pointer[provider.Provider]
	breaker *resilience.CircuitBreaker

	available   atomic.Bool
	healthy     atomic.Bool
	removed     atomic.Bool
	active      atomic.Int64
	total       atomic.Int64
	failed      atomic.Int64
	avgBits     atomic.Uint64
	lastErr     atomic.Pointer[string]
	lastChecked atomic.Int64
}

func (e *entry) provider() provider.Provider {
	return *e.static.Load()
}

// observeLatency folds d into the moving average. The first sample seeds it.
func (e *entry) observeLatency(d time.Duration) {
	sample := float64(d)
	for {
		old := e.avgBits.Load()
		next := sample
		if old != 0 {
			next = emaAlpha*sample + (1-emaAlpha)*math.Float64frombits(old)
		}
		if next == 0 {
			next = math.SmallestNonzeroFloat64
		}
		if e.avgBits.CompareAndSwap(old, math.Float64bits(next)) {
			return
		}
	}
}

func (e *entry) avg() time.Duration {
	return time.Duration(math.Float64frombits(e.avgBits.Load()))
}

func (e *entry) setLastError(err error) {
	if err == nil {
		e.lastErr.Store(nil)
		return
	}
	s := err.Error()
	e.lastErr.Store(&s)
}

func (e *entry) snapshot() ProviderMetrics {
	cb := e.breaker.Metrics()
	m := ProviderMetrics{
		Provider:            e.provider(),
		Healthy:             e.healthy.Load(),
		Available:           e.available.Load(),
		ActiveRequests:      e.active.Load(),
		TotalRequests:       e.total.Load(),
		FailedRequests:      e.failed.Load(),
		AvgResponseTime:     e.avg(),
		ConsecutiveFailures: cb.ConsecutiveFailures,
		CircuitState:        cb.State.String(),
		CircuitOpen:         cb.State == resilience.StateOpen,
		CircuitOpenedAt:     cb.OpenedAt,
	}
	if s := e.lastErr.Load(); s != nil {
		m.LastError = *s
	}
	if ns := e.lastChecked.Load(); ns != 0 {
		m.LastChecked = time.Unix(0, ns)
	}
	return m
}

// Tracker follows one in-flight request against one provider.
type Tracker struct {
	e     *entry
	start time.Time
	once  sync.Once
}

// Begin marks a request as started against id. Unknown ids yield a Tracker
// whose End does nothing.
func (r *Registry) Begin(id string) *Tracker {
	r.mu.RLock()
	e := r.entries[id]
	r.mu.RUnlock()

	t := &Tracker{e: e, start: time.Now()}
	if e != nil {
		e.active.Add(1)
	}
	return t
}

// Elapsed returns the time since Begin.
func (t *Tracker) Elapsed() time.Duration {
	return time.Since(t.start)
}

// End records the outcome. Only the first call has an effect. Requests
// rejected before reaching the provider (open circuit, full bulkhead,
// caller cancellation) are not counted. Successful requests feed the
// response time average.
func (t *Tracker) End(err error) {
	t.once.Do(func() {
		e := t.e
		if e == nil {
			return
		}
		e.active.Add(-1)
		if e.removed.Load() || rejected(err) {
			return
		}

		e.total.Add(1)
		if err != nil {
			e.failed.Add(1)
			e.setLastError(err)
			return
		}
		e.observeLatency(time.Since(t.start))
	})
}

func rejected(err error) bool {
	return errors.Is(err, resilience.ErrCircuitOpen) ||
		errors.Is(err, resilience.ErrBulkheadFull) ||
		errors.Is(err, context.Canceled)
}
