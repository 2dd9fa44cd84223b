// Package failover executes requests against providers with per-attempt
// resilience, tries alternates on failure, and applies a terminal fallback
// policy once every eligible provider has failed.
//
// ResilientExecutor runs one attempt at one provider. Coordinator walks the
// balancer's choices, at most once per provider, until one succeeds. When all
// fail, the configured FallbackPolicy decides between failing, a local
// fallback, and queueing the request on a RetryQueue whose Ticket later
// delivers the real result.
package failover
