package failover

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/provmux/balancer"
	"github.com/jonwraymond/provmux/provider"
	"github.com/jonwraymond/provmux/registry"
	"github.com/jonwraymond/provmux/resilience"
)

var errUpstream = errors.New("upstream unavailable")

type fixture struct {
	reg  *registry.Registry
	lb   *balancer.Balancer
	exec *ResilientExecutor
}

// newFixture registers providers p1..pn with priorities 1..n so that
// CostOptimized tries them in registration order.
func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	reg := registry.New(registry.Config{
		Circuit: resilience.CircuitBreakerConfig{FailureThreshold: 3, Cooldown: time.Hour},
	})
	for i := 1; i <= n; i++ {
		require.NoError(t, reg.Register(provider.Provider{ID: providerID(i), Priority: i}))
	}
	return &fixture{
		reg:  reg,
		lb:   balancer.New(balancer.CostOptimized, reg),
		exec: NewResilientExecutor(reg, testExecutorConfig(), nil),
	}
}

func testExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Timeout: time.Second,
		Retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
		},
	}
}

func providerID(i int) string {
	return "p" + string(rune('0'+i))
}

// scripted is an ExecuteFunc whose outcome is chosen per provider.
type scripted struct {
	mu    sync.Mutex
	fail  map[string]error
	calls []string
}

func newScripted() *scripted {
	return &scripted{fail: map[string]error{}}
}

func (s *scripted) setFailure(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, id)
		return
	}
	s.fail[id] = err
}

func (s *scripted) called() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *scripted) execute(ctx context.Context, p provider.Provider, req provider.Request) (*provider.Response, error) {
	s.mu.Lock()
	s.calls = append(s.calls, p.ID)
	err := s.fail[p.ID]
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &provider.Response{Content: []byte("from " + p.ID)}, nil
}
