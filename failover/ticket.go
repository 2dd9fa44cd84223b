package failover

import (
	"context"
	"sync"

	"github.com/jonwraymond/provmux/provider"
)

// ticket is the provider.Ticket of a queued request. It is resolved once.
type ticket struct {
	once sync.Once
	done chan struct{}
	resp *provider.Response
	err  error
}

func newTicket() *ticket {
	return &ticket{done: make(chan struct{})}
}

// resolve stores the result and wakes every waiter. Later calls are ignored.
func (t *ticket) resolve(resp *provider.Response, err error) {
	t.once.Do(func() {
		t.resp, t.err = resp, err
		close(t.done)
	})
}

func (t *ticket) Done() <-chan struct{} {
	return t.done
}

func (t *ticket) Wait(ctx context.Context) (*provider.Response, error) {
	select {
	case <-t.done:
		return t.resp, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var _ provider.Ticket = (*ticket)(nil)
