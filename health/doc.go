// Package health provides the health-check primitives used to probe
// providers and to report the state of a provmux service.
//
// A Checker produces a Result. The Aggregator runs many checkers in parallel
// under one timeout, and its composite Checker rolls them up into a single
// status. The HTTP handlers expose any Checker as liveness, readiness and
// detailed endpoints.
package health
