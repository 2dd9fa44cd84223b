// Package balancer picks one provider from the registry's eligible set.
package balancer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/jonwraymond/provmux/provider"
	"github.com/jonwraymond/provmux/registry"
)

// Strategy is a selection algorithm.
type Strategy int

const (
	// RoundRobin cycles through eligible providers.
	RoundRobin Strategy = iota
	// WeightedRoundRobin cycles through providers repeated Priority times.
	WeightedRoundRobin
	// LeastConnections picks the provider with the fewest active requests.
	LeastConnections
	// FastestResponse picks the provider with the lowest average latency.
	FastestResponse
	// CostOptimized picks the provider with the lowest Priority value.
	CostOptimized
)

var strategyNames = map[Strategy]string{
	RoundRobin:         "round_robin",
	WeightedRoundRobin: "weighted_round_robin",
	LeastConnections:   "least_connections",
	FastestResponse:    "fastest_response",
	CostOptimized:      "cost_optimized",
}

// String returns the snake_case strategy name.
func (s Strategy) String() string {
	if n, ok := strategyNames[s]; ok {
		return n
	}
	return "unknown"
}

// ParseStrategy parses a strategy name. Case, dashes and underscores are
// ignored, so "RoundRobin", "round-robin" and "round_robin" are equal.
func ParseStrategy(s string) (Strategy, error) {
	norm := strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(s))
	for st, name := range strategyNames {
		if strings.ReplaceAll(name, "_", "") == norm {
			return st, nil
		}
	}
	if norm == "" {
		return RoundRobin, nil
	}
	return RoundRobin, fmt.Errorf("balancer: unknown strategy %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(b []byte) error {
	v, err := ParseStrategy(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Source supplies the eligible providers in registration order.
// *registry.Registry satisfies it.
type Source interface {
	Candidates() []registry.Candidate
}

// ExclusionSet holds provider ids that must not be selected.
type ExclusionSet map[string]struct{}

// Add excludes id.
func (s ExclusionSet) Add(id string) { s[id] = struct{}{} }

// Has reports whether id is excluded.
func (s ExclusionSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Balancer selects providers with a fixed Strategy. It is safe for
// concurrent use.
type Balancer struct {
	strategy Strategy
	src      Source

	mu     sync.Mutex
	cursor uint64
}

// New creates a Balancer over src.
func New(strategy Strategy, src Source) *Balancer {
	return &Balancer{strategy: strategy, src: src}
}

// Strategy returns the configured strategy.
func (b *Balancer) Strategy() Strategy { return b.strategy }

// Select returns a provider that is eligible and not excluded. It returns
// false only when no such provider exists.
func (b *Balancer) Select(exclude ExclusionSet) (provider.Provider, bool) {
	all := b.src.Candidates()
	cands := all[:0:0]
	for _, c := range all {
		if !exclude.Has(c.Provider.ID) {
			cands = append(cands, c)
		}
	}
	if len(cands) == 0 {
		return provider.Provider{}, false
	}

	switch b.strategy {
	case WeightedRoundRobin:
		return b.weighted(cands), true
	case LeastConnections:
		return best(cands, func(a, c registry.Candidate) bool {
			if a.Active != c.Active {
				return a.Active < c.Active
			}
			return a.AvgResponseTime < c.AvgResponseTime
		}), true
	case FastestResponse:
		return best(cands, func(a, c registry.Candidate) bool {
			if a.AvgResponseTime != c.AvgResponseTime {
				return a.AvgResponseTime < c.AvgResponseTime
			}
			return a.Active < c.Active
		}), true
	case CostOptimized:
		return best(cands, func(a, c registry.Candidate) bool {
			if a.Provider.Priority != c.Provider.Priority {
				return a.Provider.Priority < c.Provider.Priority
			}
			return a.Active < c.Active
		}), true
	default:
		return cands[b.next(len(cands))].Provider, true
	}
}

// next advances the cursor once and returns its previous value mod n.
func (b *Balancer) next(n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := int(b.cursor % uint64(n))
	b.cursor++
	return i
}

func (b *Balancer) weighted(cands []registry.Candidate) provider.Provider {
	total := 0
	for _, c := range cands {
		total += max(c.Provider.Priority, 1)
	}
	i := b.next(total)
	for _, c := range cands {
		i -= max(c.Provider.Priority, 1)
		if i < 0 {
			return c.Provider
		}
	}
	return cands[len(cands)-1].Provider
}

// best returns the first candidate for which no later one is strictly
// better, so ties go to registration order.
func best(cands []registry.Candidate, better func(a, b registry.Candidate) bool) provider.Provider {
	pick := cands[0]
	for _, c := range cands[1:] {
		if better(c, pick) {
			pick = c
		}
	}
	return pick.Provider
}

// Reset rewinds the round robin cursor.
func (b *Balancer) Reset() {
	b.mu.Lock()
	b.cursor = 0
	b.mu.Unlock()
}
