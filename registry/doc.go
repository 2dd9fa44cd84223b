// Package registry holds the set of known providers and their live metrics.
//
// Every provider entry owns its own counters (atomics), its exponential
// moving average of response time and its circuit breaker, so request
// completions never contend on a registry-wide lock. The registry lock only
// guards membership.
//
// Requests are tracked with Begin/End:
//
//	t := reg.Begin(p.ID)
//	defer func() { t.End(err) }()
//
// An optional health loop probes every provider on an interval and flips its
// health flag when the probe result changes.
package registry
