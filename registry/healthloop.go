package registry

import (
	"context"
	"time"

	"github.com/jonwraymond/provmux/health"
	"github.com/jonwraymond/provmux/observe"
)

// CheckHealth probes every provider once, in parallel, bounded by the
// health check timeout, and returns the probe results by provider id.
// Providers registered or removed while the cycle runs are tolerated.
func (r *Registry) CheckHealth(ctx context.Context) map[string]health.Result {
	results := r.probes.CheckAll(ctx)
	now := time.Now().UnixNano()

	for id, res := range results {
		e, ok := r.lookup(id)
		if !ok {
			continue
		}
		e.lastChecked.Store(now)
		msg := ""
		if res.Error != nil {
			msg = res.Error.Error()
		}
		r.flipHealth(ctx, id, e, res.Status != health.StatusUnhealthy, msg)
	}
	return results
}

func (r *Registry) flipHealth(ctx context.Context, id string, e *entry, healthy bool, reason string) {
	if e.healthy.Swap(healthy) == healthy {
		return
	}
	if healthy {
		r.logger.Info(ctx, "provider healthy", observe.F("provider.id", id))
		return
	}
	r.logger.Warn(ctx, "provider unhealthy",
		observe.F("provider.id", id),
		observe.F("reason", reason),
	)
}

// RunHealthChecks probes all providers every HealthCheckInterval until ctx
// is done. It returns immediately when no probe is configured.
func (r *Registry) RunHealthChecks(ctx context.Context) {
	if r.cfg.Probe == nil {
		return
	}

	ticker := time.NewTicker(r.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.CheckHealth(ctx)
		}
	}
}

// HealthChecker reports the registry as a whole: healthy while every
// provider is eligible, degraded while at least one is, unhealthy when none
// is or none are registered.
func (r *Registry) HealthChecker() health.Checker {
	return health.NewCheckerFunc("providers", func(context.Context) health.Result {
		snap := r.Snapshot()
		eligible := 0
		details := make(map[string]any, len(snap))
		for id, m := range snap {
			ok := m.Healthy && m.Available && !m.CircuitOpen
			if ok {
				eligible++
			}
			details[id] = map[string]any{
				"healthy":       m.Healthy,
				"available":     m.Available,
				"circuit_state": m.CircuitState,
				"active":        m.ActiveRequests,
			}
		}

		var res health.Result
		switch {
		case len(snap) == 0:
			res = health.Unhealthy("no providers registered", nil)
		case eligible == 0:
			res = health.Unhealthy("no eligible providers", nil)
		case eligible < len(snap):
			res = health.Degraded("some providers ineligible")
		default:
			res = health.Healthy("all providers eligible")
		}
		return res.WithDetails(details)
	})
}
