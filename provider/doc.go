// Package provider defines the data model shared by every provmux component.
//
// A Provider describes one remote AI backend. Requests and responses are
// opaque to provmux: the wire protocol lives in a caller-supplied ExecuteFunc
// (or StreamFunc), which lets the same failover machinery serve any vendor.
//
// # Error classification
//
// ExecuteFunc implementations decide which failures are worth retrying:
//
//	if resp.StatusCode == http.StatusTooManyRequests {
//	    return nil, provider.Transient(fmt.Errorf("upstream throttled"))
//	}
//	if resp.StatusCode == http.StatusBadRequest {
//	    return nil, provider.Permanent(fmt.Errorf("rejected request"))
//	}
//
// Transient errors are retried against the same provider. Permanent errors
// are not retried and do not count against the provider's circuit breaker,
// but the failover coordinator still moves on to the next provider.
package provider
