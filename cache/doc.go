// Package cache provides the response cache.
//
// Keys are derived from a request fingerprint (model, normalized prompt and
// canonicalized params). Entry lifetime follows the request priority:
// higher priority means a shorter TTL. Two Cache backends are provided, an
// in-process LRU and Redis.
package cache
