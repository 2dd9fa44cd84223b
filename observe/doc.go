// Package observe provides the logging, tracing and metrics used across
// provmux.
//
// An Observer owns the OpenTelemetry tracer and meter providers and a
// structured JSON Logger. The Middleware wraps each provider attempt with a
// span, attempt metrics and a log line; Metrics also carries the
// service-level counters for request outcomes, circuit transitions and the
// retry queue depth gauge.
//
// Components that accept a Logger or Metrics default to no-op
// implementations, so observe is never required to use provmux.
package observe
