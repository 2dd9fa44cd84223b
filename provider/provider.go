package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Provider is a registered remote backend.
//
// Static attributes are fixed at registration; only availability is toggled
// afterwards. Provider is comparable so callers can detect changed
// registrations with ==.
type Provider struct {
	// ID uniquely identifies the provider within a registry.
	ID string `json:"id" yaml:"id"`

	// Vendor is a free-form vendor tag, used for logging only.
	Vendor string `json:"vendor,omitempty" yaml:"vendor"`

	// Address is the endpoint passed through to the execute function.
	Address string `json:"address,omitempty" yaml:"address"`

	// Priority is the selection weight for weighted round robin and the
	// cost proxy for cost-optimized selection (lower is cheaper).
	Priority int `json:"priority" yaml:"priority"`

	// MaxConcurrent bounds in-flight requests to this provider.
	// Zero means unlimited.
	MaxConcurrent int `json:"max_concurrent,omitempty" yaml:"max_concurrent"`

	// RateLimitHint is the provider's advertised requests per second.
	// Zero means no per-provider limit.
	RateLimitHint float64 `json:"rate_limit_hint,omitempty" yaml:"rate_limit_hint"`

	// Disabled registers the provider as unavailable.
	Disabled bool `json:"disabled,omitempty" yaml:"disabled"`
}

// Validate checks that the provider can be registered.
func (p Provider) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidProvider)
	}
	if p.Priority < 0 {
		return fmt.Errorf("%w: %s: priority must be >= 0", ErrInvalidProvider, p.ID)
	}
	if p.MaxConcurrent < 0 {
		return fmt.Errorf("%w: %s: max_concurrent must be >= 0", ErrInvalidProvider, p.ID)
	}
	if p.RateLimitHint < 0 {
		return fmt.Errorf("%w: %s: rate_limit_hint must be >= 0", ErrInvalidProvider, p.ID)
	}
	return nil
}

// Request is a single completion request. Model, Prompt and Params form the
// cache fingerprint; Payload is forwarded untouched.
type Request struct {
	ID       string            `json:"id,omitempty"`
	Model    string            `json:"model"`
	Prompt   string            `json:"prompt"`
	Params   map[string]any    `json:"params,omitempty"`
	Priority Priority          `json:"priority,omitempty"`
	Payload  []byte            `json:"payload,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Response is the outcome of a completion request.
type Response struct {
	RequestID  string            `json:"request_id,omitempty"`
	ProviderID string            `json:"provider_id,omitempty"`
	Model      string            `json:"model,omitempty"`
	Content    []byte            `json:"content"`
	Latency    time.Duration     `json:"latency,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	// Cached reports that the response was served from the response cache.
	Cached bool `json:"cached,omitempty"`

	// Fallback reports that the response came from the local fallback.
	Fallback bool `json:"fallback,omitempty"`

	// Queued reports that the request was accepted for a later retry.
	// The eventual result is delivered through Ticket.
	Queued bool `json:"queued,omitempty"`

	// Ticket is set when Queued is true.
	Ticket Ticket `json:"-"`
}

// Ticket delivers the result of a queued request.
type Ticket interface {
	// Wait blocks until the result is available or ctx is done.
	Wait(ctx context.Context) (*Response, error)

	// Done is closed once the result is available.
	Done() <-chan struct{}
}

// Chunk is one piece of a streamed response.
type Chunk struct {
	Index      int    `json:"index"`
	Content    []byte `json:"content,omitempty"`
	ProviderID string `json:"provider_id,omitempty"`
	IsFinal    bool   `json:"is_final,omitempty"`

	// Err is set on the final chunk when the stream ended with an error.
	Err error `json:"-"`
}

// ExecuteFunc performs one request against one provider.
type ExecuteFunc func(ctx context.Context, p Provider, req Request) (*Response, error)

// StreamFunc performs one streaming request against one provider, calling
// send for every chunk. A non-nil error from send means the consumer is gone
// and the stream should stop.
type StreamFunc func(ctx context.Context, p Provider, req Request, send func(Chunk) error) error

// ProbeFunc reports whether a provider is healthy.
type ProbeFunc func(ctx context.Context, p Provider) error

// LocalFallback produces a degraded response without any remote provider.
type LocalFallback interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// LocalFallbackFunc adapts a function to LocalFallback.
type LocalFallbackFunc func(ctx context.Context, req Request) (*Response, error)

// Complete calls f.
func (f LocalFallbackFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
