package resilience

import "errors"

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker rejects a call.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrLimiterClosed is returned by Acquire after Close.
	ErrLimiterClosed = errors.New("resilience: rate limiter closed")

	// ErrBulkheadFull is returned when no concurrency slot is free.
	ErrBulkheadFull = errors.New("resilience: bulkhead at capacity")

	// ErrTimeout is returned when a call exceeds its timeout.
	ErrTimeout = errors.New("resilience: operation timed out")
)
