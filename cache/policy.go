package cache

import (
	"time"

	"github.com/jonwraymond/provmux/provider"
)

// Policy chooses the TTL of a cached response.
type Policy struct {
	// TTLByPriority maps a request priority to its TTL.
	TTLByPriority map[provider.Priority]time.Duration `yaml:"ttl_by_priority"`

	// DefaultTTL applies to priorities missing from TTLByPriority.
	// If zero, such requests are not cached.
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// MaxTTL clamps every TTL. If zero, no maximum is enforced.
	MaxTTL time.Duration `yaml:"max_ttl"`
}

// DefaultPolicy returns the default caching policy. Higher priority requests
// are cached for a shorter time.
//
// critical: 1m, high: 5m, normal: 15m, low: 1h
func DefaultPolicy() Policy {
	return Policy{
		TTLByPriority: map[provider.Priority]time.Duration{
			provider.PriorityCritical: time.Minute,
			provider.PriorityHigh:     5 * time.Minute,
			provider.PriorityNormal:   15 * time.Minute,
			provider.PriorityLow:      time.Hour,
		},
		DefaultTTL: 15 * time.Minute,
		MaxTTL:     time.Hour,
	}
}

// NoCachePolicy returns a policy that disables caching entirely.
func NoCachePolicy() Policy {
	return Policy{}
}

// ShouldCache reports whether requests of the given priority are cached.
func (p Policy) ShouldCache(priority provider.Priority) bool {
	return p.EffectiveTTL(priority) > 0
}

// EffectiveTTL returns the TTL for a priority, applying the default and
// clamping to MaxTTL.
func (p Policy) EffectiveTTL(priority provider.Priority) time.Duration {
	ttl, ok := p.TTLByPriority[priority]
	if !ok {
		ttl = p.DefaultTTL
	}
	if ttl <= 0 {
		return 0
	}
	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		ttl = p.MaxTTL
	}
	return ttl
}
