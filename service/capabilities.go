package service

import (
	"context"

	"github.com/jonwraymond/provmux/provider"
)

// Completer answers single requests.
type Completer interface {
	Complete(ctx context.Context, req provider.Request) (*provider.Response, error)
}

// Streamer answers requests as a stream of chunks.
type Streamer interface {
	Stream(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error)
}

// BatchCompleter answers many requests with bounded concurrency.
type BatchCompleter interface {
	Batch(ctx context.Context, reqs []provider.Request) []BatchResult
}

// StatusReporter exposes a read-only status snapshot.
type StatusReporter interface {
	Status() Status
}

var (
	_ Completer      = (*Service)(nil)
	_ Streamer       = (*Service)(nil)
	_ BatchCompleter = (*Service)(nil)
	_ StatusReporter = (*Service)(nil)
)
