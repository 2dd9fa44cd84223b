package failover

import (
	"fmt"
	"strings"
)

// FallbackPolicy is applied once every eligible provider has failed.
type FallbackPolicy int

const (
	// FailFast returns an ExhaustedError.
	FailFast FallbackPolicy = iota
	// FallbackToRemote has no remote option left and behaves as FailFast.
	FallbackToRemote
	// FallbackToLocal returns the local fallback's response, tagged Fallback.
	FallbackToLocal
	// QueueAndRetry queues the request and returns a Queued response whose
	// Ticket delivers the eventual result.
	QueueAndRetry
)

func (p FallbackPolicy) String() string {
	switch p {
	case FailFast:
		return "fail_fast"
	case FallbackToRemote:
		return "fallback_to_remote"
	case FallbackToLocal:
		return "fallback_to_local"
	case QueueAndRetry:
		return "queue_and_retry"
	default:
		return fmt.Sprintf("FallbackPolicy(%d)", int(p))
	}
}

// ParseFallbackPolicy parses a policy name. Case, underscores and dashes are
// ignored; the empty string is FailFast.
func ParseFallbackPolicy(s string) (FallbackPolicy, error) {
	norm := strings.NewReplacer("_", "", "-", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	switch norm {
	case "", "failfast":
		return FailFast, nil
	case "fallbacktoremote":
		return FallbackToRemote, nil
	case "fallbacktolocal":
		return FallbackToLocal, nil
	case "queueandretry":
		return QueueAndRetry, nil
	}
	return FailFast, fmt.Errorf("failover: unknown fallback policy %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p FallbackPolicy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *FallbackPolicy) UnmarshalText(b []byte) error {
	v, err := ParseFallbackPolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ShutdownPolicy decides what happens to queued requests on Close.
type ShutdownPolicy int

const (
	// Discard resolves every queued request with ErrQueueClosed.
	Discard ShutdownPolicy = iota
	// Drain tries every queued request once more before discarding.
	Drain
)

func (p ShutdownPolicy) String() string {
	if p == Drain {
		return "drain"
	}
	return "discard"
}

// ParseShutdownPolicy parses "discard" or "drain". The empty string is Discard.
func ParseShutdownPolicy(s string) (ShutdownPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "discard":
		return Discard, nil
	case "drain":
		return Drain, nil
	}
	return Discard, fmt.Errorf("failover: unknown shutdown policy %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p ShutdownPolicy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *ShutdownPolicy) UnmarshalText(b []byte) error {
	v, err := ParseShutdownPolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
