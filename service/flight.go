package service

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// flightGroup collapses identical concurrent calls. A shared call runs
// under its own context, which is cancelled once no caller waits on it.
type flightGroup struct {
	group singleflight.Group

	mu    sync.Mutex
	calls map[string]*flight
	seq   uint64
}

type flight struct {
	key     string
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func (g *flightGroup) join(ctx context.Context, key string) *flight {
	g.mu.Lock()
	defer g.mu.Unlock()

	if f, ok := g.calls[key]; ok {
		f.waiters++
		return f
	}
	if g.calls == nil {
		g.calls = make(map[string]*flight)
	}
	g.seq++
	fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &flight{
		key:     key,
		id:      key + "#" + strconv.FormatUint(g.seq, 10),
		ctx:     fctx,
		cancel:  cancel,
		waiters: 1,
	}
	g.calls[key] = f
	return f
}

// leave drops one waiter and cancels f when it was the last.
func (g *flightGroup) leave(f *flight) {
	g.mu.Lock()
	defer g.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	g.detach(f)
	f.cancel()
}

// detach stops new callers from joining f. g.mu must be held.
func (g *flightGroup) detach(f *flight) {
	if g.calls[f.key] == f {
		delete(g.calls, f.key)
	}
}

// do runs fn once for every concurrent caller of key. A caller whose ctx
// ends stops waiting; fn sees its context cancelled when every caller has
// stopped. When retain reports true for the result, as for a queued
// response, callers keep the shared context alive until their own ctx ends.
func (g *flightGroup) do(ctx context.Context, key string, fn func(context.Context) (any, error), retain func(any) bool) (any, error) {
	f := g.join(ctx, key)
	ch := g.group.DoChan(f.id, func() (any, error) {
		v, err := fn(f.ctx)
		g.mu.Lock()
		g.detach(f)
		g.mu.Unlock()
		return v, err
	})

	select {
	case <-ctx.Done():
		g.leave(f)
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err == nil && retain != nil && retain(r.Val) {
			context.AfterFunc(ctx, func() { g.leave(f) })
		} else {
			g.leave(f)
		}
		return r.Val, r.Err
	}
}
