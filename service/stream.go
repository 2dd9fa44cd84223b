package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/jonwraymond/provmux/failover"
	"github.com/jonwraymond/provmux/observe"
	"github.com/jonwraymond/provmux/provider"
	"github.com/jonwraymond/provmux/registry"
	"github.com/jonwraymond/provmux/resilience"
)

// Stream sends req to one selected provider and relays its chunks. It
// bypasses the cache and does not fail over: the provider is chosen once.
//
// The channel carries exactly one chunk with IsFinal set, whose Err holds
// the stream error if any, and is closed afterwards. Once ctx is done or the
// service shuts down no further chunk is sent, final included.
func (s *Service) Stream(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error) {
	if err := s.admit(); err != nil {
		return nil, err
	}
	if s.opts.Stream == nil {
		return nil, ErrStreamingUnsupported
	}
	if err := validate(req); err != nil {
		return nil, err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if s.reg.Len() == 0 {
		return nil, ErrNoProviders
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		if errors.Is(err, resilience.ErrLimiterClosed) {
			return nil, ErrShutdown
		}
		return nil, err
	}

	p, ok := s.lb.Select(nil)
	if !ok {
		return nil, &failover.ExhaustedError{}
	}
	breaker, ok := s.reg.Breaker(p.ID)
	if !ok {
		return nil, registry.ErrUnknownProvider
	}
	if err := breaker.Allow(); err != nil {
		return nil, &failover.ExhaustedError{Attempted: []string{p.ID}, Last: err}
	}

	sctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.baseCtx, cancel)
	tr := s.reg.Begin(p.ID)
	out := make(chan provider.Chunk)
	meta := observe.ProviderMeta{
		ID:        p.ID,
		Vendor:    p.Vendor,
		Address:   p.Address,
		Model:     req.Model,
		RequestID: req.ID,
	}

	s.streams.Go(func() {
		defer close(out)
		defer stop()
		defer cancel()

		st := &relay{ctx: sctx, out: out, providerID: p.ID}
		attempt := s.mw.Wrap(func(ctx context.Context, _ observe.ProviderMeta) error {
			return s.opts.Stream(ctx, p, req, st.send)
		})
		err := attempt(sctx, meta)
		st.finish(err)

		breaker.Record(err)
		tr.End(err)
		switch {
		case err == nil:
			s.reg.RecordSuccess(p.ID)
			s.metrics.RecordOutcome(ctx, observe.OutcomeSuccess)
		case errors.Is(err, context.Canceled):
		default:
			s.reg.RecordFailure(p.ID, err)
			s.metrics.RecordOutcome(ctx, observe.OutcomeFailed)
		}
	})
	return out, nil
}

// relay numbers chunks and enforces the single final chunk. StreamFuncs
// call send from one goroutine.
type relay struct {
	ctx        context.Context
	out        chan<- provider.Chunk
	providerID string
	next       int
	final      bool
}

func (r *relay) send(c provider.Chunk) error {
	if r.final {
		return nil
	}
	if err := r.ctx.Err(); err != nil {
		return err
	}
	c.Index = r.next
	c.ProviderID = r.providerID
	select {
	case r.out <- c:
		r.next++
		r.final = c.IsFinal
		return nil
	case <-r.ctx.Done():
		return r.ctx.Err()
	}
}

// finish emits the final chunk unless the provider already did or the
// consumer is gone.
func (r *relay) finish(err error) {
	if r.final || r.ctx.Err() != nil {
		return
	}
	select {
	case r.out <- provider.Chunk{Index: r.next, ProviderID: r.providerID, IsFinal: true, Err: err}:
		r.final = true
	case <-r.ctx.Done():
	}
}
