package failover

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonwraymond/provmux/observe"
	"github.com/jonwraymond/provmux/provider"
	"github.com/jonwraymond/provmux/registry"
)

// RetryQueueConfig configures a RetryQueue.
type RetryQueueConfig struct {
	// Interval is the time between two batches.
	// Default: 30 seconds
	Interval time.Duration

	// BatchSize is the maximum number of requests redriven per batch.
	// Default: 10
	BatchSize int

	// MaxDepth bounds the queue. Enqueue fails with ErrQueueFull beyond it.
	// Default: 1000
	MaxDepth int

	// MaxAge expires queued requests. Zero keeps them until delivered.
	MaxAge time.Duration

	// MaxRequeues is the number of failed redrives before a request is
	// resolved with ErrRequeueLimit.
	// Default: 5
	MaxRequeues int

	// Logger receives redrive events.
	Logger observe.Logger
}

// failedRequest is a request waiting for a provider to recover.
type failedRequest struct {
	ctx       context.Context
	req       provider.Request
	fn        provider.ExecuteFunc
	submitted time.Time
	requeues  int
	ticket    *ticket
}

// RetryQueue periodically redrives requests that exhausted every provider.
// Each request's Ticket receives the eventual result.
type RetryQueue struct {
	cfg    RetryQueueConfig
	reg    *registry.Registry
	lb     Selector
	exec   *ResilientExecutor
	logger observe.Logger

	mu     sync.Mutex
	items  []*failedRequest
	closed bool

	// batchMu serializes batches so Run and Close never redrive concurrently.
	batchMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

// NewRetryQueue creates a RetryQueue.
func NewRetryQueue(reg *registry.Registry, lb Selector, exec *ResilientExecutor, cfg RetryQueueConfig) *RetryQueue {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 1000
	}
	if cfg.MaxRequeues <= 0 {
		cfg.MaxRequeues = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	return &RetryQueue{
		cfg:    cfg,
		reg:    reg,
		lb:     lb,
		exec:   exec,
		logger: cfg.Logger,
		done:   make(chan struct{}),
	}
}

// Enqueue queues req. ctx stays attached to the request: once it is done
// the request is resolved with its error instead of being redriven.
func (q *RetryQueue) Enqueue(ctx context.Context, req provider.Request, fn provider.ExecuteFunc) (provider.Ticket, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}
	if len(q.items) >= q.cfg.MaxDepth {
		return nil, ErrQueueFull
	}

	t := newTicket()
	q.items = append(q.items, &failedRequest{
		ctx:       ctx,
		req:       req,
		fn:        fn,
		submitted: time.Now(),
		ticket:    t,
	})
	return t, nil
}

// Len returns the number of queued requests.
func (q *RetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// ObserveDepth exports the queue depth on m.
func (q *RetryQueue) ObserveDepth(m observe.Metrics) (func() error, error) {
	return m.ObserveQueueDepth(func() int64 { return int64(q.Len()) })
}

// take removes up to n requests from the front of the queue.
func (q *RetryQueue) take(n int) []*failedRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	n = min(n, len(q.items))
	batch := make([]*failedRequest, n)
	copy(batch, q.items[:n])
	clear(q.items[:n])
	q.items = q.items[n:]
	return batch
}

// requeue puts requests back at the end of the queue.
func (q *RetryQueue) requeue(items ...*failedRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
}

// ProcessBatch redrives up to BatchSize requests and returns how many were
// resolved. Requests with no eligible provider go back unchanged.
func (q *RetryQueue) ProcessBatch(ctx context.Context) int {
	q.batchMu.Lock()
	defer q.batchMu.Unlock()

	batch := q.take(q.cfg.BatchSize)
	resolved := 0
	for i, item := range batch {
		if ctx.Err() != nil {
			q.requeue(batch[i:]...)
			break
		}
		if q.redrive(ctx, item, false) {
			resolved++
		} else {
			q.requeue(item)
		}
	}
	return resolved
}

// redrive makes one attempt for item and reports whether the item was
// resolved. With final set, an unresolved item is resolved with
// ErrQueueClosed.
func (q *RetryQueue) redrive(ctx context.Context, item *failedRequest, final bool) bool {
	if err := item.ctx.Err(); err != nil {
		item.ticket.resolve(nil, err)
		return true
	}
	if q.cfg.MaxAge > 0 && time.Since(item.submitted) > q.cfg.MaxAge {
		q.logger.Warn(ctx, "queued request expired", observe.F("request_id", item.req.ID))
		item.ticket.resolve(nil, ErrRequestExpired)
		return true
	}

	p, ok := q.lb.Select(nil)
	if !ok {
		if final {
			item.ticket.resolve(nil, ErrQueueClosed)
			return true
		}
		return false
	}

	// The attempt ends when either the caller or the queue gives up.
	runCtx, cancel := context.WithCancel(item.ctx)
	stop := context.AfterFunc(ctx, cancel)
	resp, err := q.exec.Execute(runCtx, p, item.req, item.fn)
	stop()
	cancel()

	if err == nil {
		q.reg.RecordSuccess(p.ID)
		q.logger.Info(ctx, "queued request delivered",
			observe.F("request_id", item.req.ID),
			observe.F("provider.id", p.ID),
		)
		item.ticket.resolve(resp, nil)
		return true
	}

	q.reg.RecordFailure(p.ID, err)
	if err := item.ctx.Err(); err != nil {
		item.ticket.resolve(nil, err)
		return true
	}
	if final {
		item.ticket.resolve(nil, fmt.Errorf("%w: %w", ErrQueueClosed, err))
		return true
	}

	item.requeues++
	if item.requeues >= q.cfg.MaxRequeues {
		q.logger.Warn(ctx, "queued request dropped after requeue limit",
			observe.F("request_id", item.req.ID),
			observe.F("requeues", item.requeues),
			observe.Err(err),
		)
		item.ticket.resolve(nil, fmt.Errorf("%w: %w", ErrRequeueLimit, err))
		return true
	}
	q.logger.Debug(ctx, "queued request failed again",
		observe.F("request_id", item.req.ID),
		observe.F("provider.id", p.ID),
		observe.Err(err),
	)
	return false
}

// Run redrives a batch every Interval until ctx is done or the queue is
// closed.
func (q *RetryQueue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		case <-ticker.C:
			if n := q.Len(); n > 0 {
				resolved := q.ProcessBatch(ctx)
				q.logger.Debug(ctx, "retry batch processed",
					observe.F("queued", n),
					observe.F("resolved", resolved),
				)
			}
		}
	}
}

// Close stops the queue. Enqueue fails afterwards and Run returns. With
// Drain every queued request is tried once more; whatever remains is
// resolved with ErrQueueClosed. Close is idempotent; only the first call
// does any work. It returns ctx's error if ctx ended before every request
// was resolved.
func (q *RetryQueue) Close(ctx context.Context, policy ShutdownPolicy) error {
	var err error
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.done)

		q.batchMu.Lock()
		defer q.batchMu.Unlock()

		items := q.take(q.Len())
		for _, item := range items {
			if policy == Drain && ctx.Err() == nil {
				q.redrive(ctx, item, true)
				continue
			}
			item.ticket.resolve(nil, ErrQueueClosed)
		}
		err = ctx.Err()
	})
	return err
}
