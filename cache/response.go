package cache

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"

	"github.com/jonwraymond/provmux/observe"
	"github.com/jonwraymond/provmux/provider"
)

// ResponseCache stores provider responses keyed by request fingerprint.
// Only genuine provider responses are stored: fallback and queued responses
// are never cached, and neither are errors.
type ResponseCache struct {
	backend  Cache
	keyer    Keyer
	policy   Policy
	skipRule SkipRule
	logger   observe.Logger

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
	errors atomic.Int64
}

// Option configures a ResponseCache.
type Option func(*ResponseCache)

// WithKeyer replaces the DefaultKeyer.
func WithKeyer(k Keyer) Option {
	return func(c *ResponseCache) {
		if k != nil {
			c.keyer = k
		}
	}
}

// WithSkipRule replaces DefaultSkipRule.
func WithSkipRule(r SkipRule) Option {
	return func(c *ResponseCache) {
		if r != nil {
			c.skipRule = r
		}
	}
}

// WithLogger sets the logger used for backend failures.
func WithLogger(l observe.Logger) Option {
	return func(c *ResponseCache) {
		if l != nil {
			c.logger = l
		}
	}
}

// entry is the stored form of a response.
type entry struct {
	ProviderID string            `json:"provider_id"`
	Model      string            `json:"model,omitempty"`
	Content    []byte            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	StoredAt   time.Time         `json:"stored_at"`
}

// NewResponseCache creates a ResponseCache over backend.
func NewResponseCache(backend Cache, policy Policy, opts ...Option) (*ResponseCache, error) {
	if backend == nil {
		return nil, ErrNilCache
	}
	c := &ResponseCache{
		backend:  backend,
		keyer:    NewDefaultKeyer(),
		policy:   policy,
		skipRule: DefaultSkipRule,
		logger:   observe.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Policy returns the TTL policy.
func (c *ResponseCache) Policy() Policy {
	return c.policy
}

// Key returns the cache key for req, or false when req bypasses the cache.
func (c *ResponseCache) Key(req provider.Request) (string, bool) {
	if c.skipRule(req) || !c.policy.ShouldCache(req.Priority) {
		return "", false
	}
	key, err := c.keyer.Key(req)
	if err != nil {
		return "", false
	}
	return key, true
}

// Get returns the cached response for req. The returned response is marked
// Cached and carries req.ID.
func (c *ResponseCache) Get(ctx context.Context, req provider.Request) (*provider.Response, bool) {
	if c.skipRule(req) || !c.policy.ShouldCache(req.Priority) {
		return nil, false
	}
	key, err := c.keyer.Key(req)
	if err != nil {
		c.errors.Add(1)
		return nil, false
	}

	raw, ok := c.backend.Get(ctx, key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.errors.Add(1)
		c.misses.Add(1)
		c.logger.Warn(ctx, "discarding undecodable cache entry", observe.F("key", key), observe.Err(err))
		_ = c.backend.Delete(ctx, key)
		return nil, false
	}

	c.hits.Add(1)
	return &provider.Response{
		RequestID:  req.ID,
		ProviderID: e.ProviderID,
		Model:      e.Model,
		Content:    e.Content,
		Metadata:   e.Metadata,
		Cached:     true,
	}, true
}

// Put stores resp for req with the TTL chosen by the request priority.
// Fallback, queued and cached responses are ignored.
func (c *ResponseCache) Put(ctx context.Context, req provider.Request, resp *provider.Response) error {
	if resp == nil || resp.Fallback || resp.Queued || resp.Cached {
		return nil
	}
	if c.skipRule(req) {
		return nil
	}
	ttl := c.policy.EffectiveTTL(req.Priority)
	if ttl <= 0 {
		return nil
	}

	key, err := c.keyer.Key(req)
	if err != nil {
		c.errors.Add(1)
		return err
	}
	raw, err := json.Marshal(entry{
		ProviderID: resp.ProviderID,
		Model:      resp.Model,
		Content:    resp.Content,
		Metadata:   resp.Metadata,
		StoredAt:   time.Now().UTC(),
	})
	if err != nil {
		c.errors.Add(1)
		return err
	}
	if err := c.backend.Set(ctx, key, raw, ttl); err != nil {
		c.errors.Add(1)
		return err
	}
	c.sets.Add(1)
	return nil
}

// Invalidate removes the cached response for req.
func (c *ResponseCache) Invalidate(ctx context.Context, req provider.Request) error {
	key, err := c.keyer.Key(req)
	if err != nil {
		return err
	}
	return c.backend.Delete(ctx, key)
}

// Stats returns lookup counters. Evictions come from the backend when it
// reports them.
func (c *ResponseCache) Stats() Stats {
	s := Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Sets:   c.sets.Load(),
		Errors: c.errors.Load(),
	}
	if r, ok := c.backend.(StatsReporter); ok {
		b := r.Stats()
		s.Evictions = b.Evictions
		s.Errors += b.Errors
	}
	return s
}

// Close closes the backend if it holds resources.
func (c *ResponseCache) Close() error {
	if closer, ok := c.backend.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
