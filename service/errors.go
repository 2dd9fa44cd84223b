package service

import (
	"errors"

	"github.com/jonwraymond/provmux/failover"
)

// Sentinel errors for service operations.
var (
	// ErrNotStarted is returned by requests made before Start.
	ErrNotStarted = errors.New("service: not started")

	// ErrShutdown is returned by requests made after Shutdown.
	ErrShutdown = errors.New("service: shut down")

	// ErrNoProviders is returned when no provider is registered.
	ErrNoProviders = failover.ErrNoProviders

	// ErrInvalidRequest is returned for requests with neither model,
	// prompt nor payload.
	ErrInvalidRequest = errors.New("service: invalid request")

	// ErrStreamingUnsupported is returned by Stream without a StreamFunc.
	ErrStreamingUnsupported = errors.New("service: streaming not configured")

	// ErrMissingExecute is returned by New without an ExecuteFunc.
	ErrMissingExecute = errors.New("service: execute function is required")
)
