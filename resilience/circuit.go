package resilience

import (
	"context"
	"sync"
	"time"
)

// State is a circuit breaker state.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects every call until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets a limited number of trial calls through.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit.
	// Default: 5
	FailureThreshold int

	// FailureRatio opens the circuit when the share of failures within Window
	// reaches this value, once at least MinRequests calls were observed.
	// Zero disables the ratio rule.
	FailureRatio float64

	// MinRequests is the sample size required before FailureRatio applies.
	// Default: 10
	MinRequests int

	// Window is the observation window for FailureRatio.
	// Default: 1 minute
	Window time.Duration

	// Cooldown is how long the circuit stays open before a trial call.
	// Default: 30 seconds
	Cooldown time.Duration

	// HalfOpenMaxRequests is the number of concurrent trial calls.
	// Default: 1
	HalfOpenMaxRequests int

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(from, to State)

	// IsFailure reports whether a non-nil error is a health signal.
	// Errors for which it returns false are neither successes nor failures.
	// Default: every non-nil error is a failure.
	IsFailure func(err error) bool
}

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu            sync.Mutex
	state         State
	consecutive   int
	successes     int64
	failures      int64
	openedAt      time.Time
	lastFailure   time.Time
	halfOpenCount int

	windowStart    time.Time
	windowTotal    int
	windowFailures int
}

type transition struct{ from, to State }

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.MinRequests <= 0 {
		config.MinRequests = 10
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil }
	}

	return &CircuitBreaker{
		config:      config,
		state:       StateClosed,
		windowStart: time.Now(),
	}
}

// Execute runs op unless the circuit rejects it.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := cb.Allow(); err != nil {
		return err
	}

	err := op(ctx)
	cb.Record(err)
	return err
}

// Allow reserves a call slot. Every successful Allow must be followed by
// exactly one Record.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	var events []transition
	state := cb.currentStateLocked(&events)

	var err error
	switch state {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if cb.halfOpenCount >= cb.config.HalfOpenMaxRequests {
			err = ErrCircuitOpen
		} else {
			cb.halfOpenCount++
		}
	}
	cb.mu.Unlock()

	cb.notify(events)
	return err
}

// Record reports the outcome of a call admitted by Allow.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	var events []transition
	now := time.Now()

	neutral := err != nil && !cb.config.IsFailure(err)
	failed := err != nil && !neutral

	switch cb.state {
	case StateClosed:
		if neutral {
			break
		}
		cb.observeLocked(now, failed)
		if failed {
			cb.failures++
			cb.consecutive++
			cb.lastFailure = now
			if cb.shouldTripLocked() {
				cb.setStateLocked(StateOpen, now, &events)
			}
		} else {
			cb.successes++
			cb.consecutive = 0
		}

	case StateHalfOpen:
		if cb.halfOpenCount > 0 {
			cb.halfOpenCount--
		}
		switch {
		case neutral:
		case failed:
			cb.failures++
			cb.consecutive++
			cb.lastFailure = now
			cb.setStateLocked(StateOpen, now, &events)
		default:
			cb.successes++
			cb.setStateLocked(StateClosed, now, &events)
		}

	case StateOpen:
		// A call admitted before the circuit opened finished late.
		if failed {
			cb.failures++
			cb.lastFailure = now
		} else if err == nil {
			cb.successes++
		}
	}
	cb.mu.Unlock()

	cb.notify(events)
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	var events []transition
	s := cb.currentStateLocked(&events)
	cb.mu.Unlock()

	cb.notify(events)
	return s
}

// Reset closes the circuit and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	var events []transition
	now := time.Now()
	cb.setStateLocked(StateClosed, now, &events)
	cb.consecutive = 0
	cb.windowStart = now
	cb.windowTotal = 0
	cb.windowFailures = 0
	cb.mu.Unlock()

	cb.notify(events)
}

// Metrics returns a snapshot of the breaker.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	var events []transition
	m := CircuitBreakerMetrics{
		State:               cb.currentStateLocked(&events),
		ConsecutiveFailures: cb.consecutive,
		Successes:           cb.successes,
		Failures:            cb.failures,
		LastFailure:         cb.lastFailure,
	}
	if m.State != StateClosed {
		m.OpenedAt = cb.openedAt
	}
	cb.mu.Unlock()

	cb.notify(events)
	return m
}

// CircuitBreakerMetrics is a snapshot of a CircuitBreaker.
type CircuitBreakerMetrics struct {
	State               State
	ConsecutiveFailures int
	Successes           int64
	Failures            int64
	OpenedAt            time.Time
	LastFailure         time.Time
}

func (cb *CircuitBreaker) observeLocked(now time.Time, failed bool) {
	if now.Sub(cb.windowStart) >= cb.config.Window {
		cb.windowStart = now
		cb.windowTotal = 0
		cb.windowFailures = 0
	}
	cb.windowTotal++
	if failed {
		cb.windowFailures++
	}
}

func (cb *CircuitBreaker) shouldTripLocked() bool {
	if cb.consecutive >= cb.config.FailureThreshold {
		return true
	}
	if cb.config.FailureRatio <= 0 || cb.windowTotal < cb.config.MinRequests {
		return false
	}
	return float64(cb.windowFailures)/float64(cb.windowTotal) >= cb.config.FailureRatio
}

func (cb *CircuitBreaker) currentStateLocked(events *[]transition) State {
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.config.Cooldown {
		cb.setStateLocked(StateHalfOpen, time.Now(), events)
	}
	return cb.state
}

func (cb *CircuitBreaker) setStateLocked(to State, now time.Time, events *[]transition) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to

	switch to {
	case StateOpen:
		cb.openedAt = now
	case StateHalfOpen:
		cb.halfOpenCount = 0
	case StateClosed:
		cb.consecutive = 0
		cb.halfOpenCount = 0
		cb.windowStart = now
		cb.windowTotal = 0
		cb.windowFailures = 0
	}
	*events = append(*events, transition{from: from, to: to})
}

func (cb *CircuitBreaker) notify(events []transition) {
	if cb.config.OnStateChange == nil {
		return
	}
	for _, e := range events {
		cb.config.OnStateChange(e.from, e.to)
	}
}
