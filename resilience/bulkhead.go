package resilience

import (
	"context"
	"sync"
	"time"
)

// BulkheadConfig configures a Bulkhead.
type BulkheadConfig struct {
	// MaxConcurrent is the number of concurrent slots.
	// Default: 10
	MaxConcurrent int

	// MaxWait is how long Acquire waits for a free slot.
	// Zero rejects immediately.
	MaxWait time.Duration
}

// Bulkhead caps concurrent calls with a channel semaphore.
type Bulkhead struct {
	config BulkheadConfig
	slots  chan struct{}

	mu        sync.Mutex
	maxActive int
	rejected  int64
}

// NewBulkhead creates a Bulkhead.
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}
	return &Bulkhead{
		config: config,
		slots:  make(chan struct{}, config.MaxConcurrent),
	}
}

// Acquire takes a slot or returns ErrBulkheadFull.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	select {
	case b.slots <- struct{}{}:
		b.observe()
		return nil
	default:
	}

	if b.config.MaxWait <= 0 {
		b.reject()
		return ErrBulkheadFull
	}

	timer := time.NewTimer(b.config.MaxWait)
	defer timer.Stop()

	select {
	case b.slots <- struct{}{}:
		b.observe()
		return nil
	case <-timer.C:
		b.reject()
		return ErrBulkheadFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire.
func (b *Bulkhead) Release() {
	select {
	case <-b.slots:
	default:
	}
}

// Execute runs op inside a slot.
func (b *Bulkhead) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.Acquire(ctx); err != nil {
		return err
	}
	defer b.Release()
	return op(ctx)
}

func (b *Bulkhead) observe() {
	n := len(b.slots)
	b.mu.Lock()
	if n > b.maxActive {
		b.maxActive = n
	}
	b.mu.Unlock()
}

func (b *Bulkhead) reject() {
	b.mu.Lock()
	b.rejected++
	b.mu.Unlock()
}

// Metrics returns a snapshot of the bulkhead.
func (b *Bulkhead) Metrics() BulkheadMetrics {
	active := len(b.slots)
	b.mu.Lock()
	defer b.mu.Unlock()
	return BulkheadMetrics{
		Active:        active,
		MaxActive:     b.maxActive,
		Available:     b.config.MaxConcurrent - active,
		MaxConcurrent: b.config.MaxConcurrent,
		Rejected:      b.rejected,
	}
}

// BulkheadMetrics is a snapshot of a Bulkhead.
type BulkheadMetrics struct {
	Active        int
	MaxActive     int
	Available     int
	MaxConcurrent int
	Rejected      int64
}
