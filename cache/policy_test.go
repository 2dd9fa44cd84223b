package cache

import (
	"testing"
	"time"

	"github.com/jonwraymond/provmux/provider"
)

func TestPolicy_DefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		priority provider.Priority
		want     time.Duration
	}{
		{provider.PriorityCritical, time.Minute},
		{provider.PriorityHigh, 5 * time.Minute},
		{provider.PriorityNormal, 15 * time.Minute},
		{provider.PriorityLow, time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.priority.String(), func(t *testing.T) {
			if got := p.EffectiveTTL(tt.priority); got != tt.want {
				t.Errorf("EffectiveTTL(%s) = %v, want %v", tt.priority, got, tt.want)
			}
		})
	}
}

func TestPolicy_HigherPriorityShorterTTL(t *testing.T) {
	p := DefaultPolicy()
	order := []provider.Priority{provider.PriorityLow, provider.PriorityNormal, provider.PriorityHigh, provider.PriorityCritical}
	for i := 1; i < len(order); i++ {
		if p.EffectiveTTL(order[i]) >= p.EffectiveTTL(order[i-1]) {
			t.Errorf("%s TTL should be shorter than %s TTL", order[i], order[i-1])
		}
	}
}

func TestPolicy_DefaultTTLFallback(t *testing.T) {
	p := Policy{
		TTLByPriority: map[provider.Priority]time.Duration{provider.PriorityHigh: time.Minute},
		DefaultTTL:    10 * time.Minute,
	}
	if got := p.EffectiveTTL(provider.PriorityLow); got != 10*time.Minute {
		t.Errorf("EffectiveTTL(low) = %v, want DefaultTTL", got)
	}
}

func TestPolicy_MaxTTLClamping(t *testing.T) {
	p := Policy{
		TTLByPriority: map[provider.Priority]time.Duration{provider.PriorityLow: 2 * time.Hour},
		MaxTTL:        30 * time.Minute,
	}
	if got := p.EffectiveTTL(provider.PriorityLow); got != 30*time.Minute {
		t.Errorf("EffectiveTTL(low) = %v, want clamped 30m", got)
	}
}

func TestPolicy_NoCachePolicy(t *testing.T) {
	p := NoCachePolicy()
	for _, pr := range []provider.Priority{provider.PriorityLow, provider.PriorityNormal, provider.PriorityHigh, provider.PriorityCritical} {
		if p.ShouldCache(pr) {
			t.Errorf("ShouldCache(%s) = true for NoCachePolicy", pr)
		}
	}
}

func TestPolicy_ZeroEntryDisablesPriority(t *testing.T) {
	p := DefaultPolicy()
	p.TTLByPriority[provider.PriorityCritical] = 0

	if p.ShouldCache(provider.PriorityCritical) {
		t.Error("zero TTL entry should disable caching for that priority")
	}
	if !p.ShouldCache(provider.PriorityNormal) {
		t.Error("other priorities should still be cached")
	}
}
