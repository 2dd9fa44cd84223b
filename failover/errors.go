package failover

import (
	"errors"
	"strings"
)

// Sentinel errors for failover operations.
var (
	// ErrNoProviders is returned when no provider is registered.
	ErrNoProviders = errors.New("failover: no providers registered")

	// ErrAllProvidersFailed is wrapped by every ExhaustedError.
	ErrAllProvidersFailed = errors.New("failover: all providers failed")

	// ErrNilResponse is returned when an execute function returns neither a
	// response nor an error.
	ErrNilResponse = errors.New("failover: execute returned nil response")

	// ErrQueueFull is returned when the retry queue is at MaxDepth.
	ErrQueueFull = errors.New("failover: retry queue full")

	// ErrQueueClosed is returned by Enqueue after Close, and delivered to
	// requests still queued at shutdown.
	ErrQueueClosed = errors.New("failover: retry queue closed")

	// ErrRequestExpired is delivered to queued requests older than MaxAge.
	ErrRequestExpired = errors.New("failover: queued request expired")

	// ErrRequeueLimit is delivered once a queued request failed MaxRequeues
	// times. It wraps the last cause.
	ErrRequeueLimit = errors.New("failover: requeue limit reached")
)

// ExhaustedError reports that every eligible provider was tried and failed.
// It matches ErrAllProvidersFailed, the last provider error, and the
// fallback error if the fallback failed too.
type ExhaustedError struct {
	// Attempted lists the provider ids in the order they were tried.
	Attempted []string

	// Last is the error of the last attempted provider. Nil when no
	// provider was eligible.
	Last error

	// Fallback is the error of the fallback policy, if it ran and failed.
	Fallback error
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	b.WriteString(ErrAllProvidersFailed.Error())
	if len(e.Attempted) == 0 {
		b.WriteString(" (no eligible provider)")
	} else {
		b.WriteString(" (attempted: ")
		b.WriteString(strings.Join(e.Attempted, ", "))
		b.WriteString(")")
	}
	if e.Last != nil {
		b.WriteString(": ")
		b.WriteString(e.Last.Error())
	}
	if e.Fallback != nil {
		b.WriteString("; fallback: ")
		b.WriteString(e.Fallback.Error())
	}
	return b.String()
}

// Unwrap exposes the sentinel and the underlying causes to errors.Is/As.
func (e *ExhaustedError) Unwrap() []error {
	errs := []error{ErrAllProvidersFailed}
	if e.Last != nil {
		errs = append(errs, e.Last)
	}
	if e.Fallback != nil {
		errs = append(errs, e.Fallback)
	}
	return errs
}
