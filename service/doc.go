// Package service is the public entry point of provmux.
//
// A Service answers completions from the response cache when it can, gates
// everything else with the global rate limiter, and hands it to the failover
// coordinator. It also streams, fans out batches, reports per-provider
// status, and owns the background health and retry loops.
package service
