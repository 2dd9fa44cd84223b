package cache

import (
	"context"
	"strings"

	"github.com/jonwraymond/provmux/observe"
	"github.com/jonwraymond/provmux/provider"
)

// CompleteFunc is the signature of a cacheable completion.
type CompleteFunc func(ctx context.Context, req provider.Request) (*provider.Response, error)

// SkipRule reports whether a request bypasses the cache.
type SkipRule func(req provider.Request) bool

// CacheControlKey is the request metadata key read by DefaultSkipRule.
const CacheControlKey = "cache-control"

// DefaultSkipRule skips requests whose cache-control metadata is no-store
// or no-cache. Matching is case-insensitive.
func DefaultSkipRule(req provider.Request) bool {
	switch strings.ToLower(strings.TrimSpace(req.Metadata[CacheControlKey])) {
	case "no-store", "no-cache":
		return true
	}
	return false
}

// Wrap returns a CompleteFunc that serves hits from the cache and stores
// successful results of next. Errors are not cached, and a failed store
// does not fail the request.
func (c *ResponseCache) Wrap(next CompleteFunc) CompleteFunc {
	return func(ctx context.Context, req provider.Request) (*provider.Response, error) {
		if resp, ok := c.Get(ctx, req); ok {
			return resp, nil
		}

		resp, err := next(ctx, req)
		if err != nil {
			return resp, err
		}

		if err := c.Put(ctx, req, resp); err != nil {
			c.logger.Warn(ctx, "cache store failed", observe.F("request_id", req.ID), observe.Err(err))
		}
		return resp, nil
	}
}
