package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{})
	defer rl.Close()

	if rl.Config().RequestsPerMinute != 60 {
		t.Errorf("RequestsPerMinute = %d, want 60", rl.Config().RequestsPerMinute)
	}
	if rl.Tokens() != 10 {
		t.Errorf("Tokens = %d, want 10", rl.Tokens())
	}
	if rl.Interval() != time.Second {
		t.Errorf("Interval = %v, want 1s", rl.Interval())
	}
}

func TestRateLimiter_BurstThenWait(t *testing.T) {
	// 1200/min refills every 50ms.
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 1200, Burst: 3})
	defer rl.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	durations := make(chan time.Duration, 4)
	start := time.Now()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rl.Acquire(ctx); err != nil {
				t.Errorf("Acquire() = %v", err)
				return
			}
			durations <- time.Since(start)
		}()
	}
	wg.Wait()
	close(durations)

	fast, slow := 0, 0
	for d := range durations {
		if d < 25*time.Millisecond {
			fast++
		} else {
			slow++
		}
	}
	if fast != 3 || slow != 1 {
		t.Errorf("fast = %d, slow = %d, want 3, 1", fast, slow)
	}
}

func TestRateLimiter_NeverExceedsBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 60000, Burst: 2})
	defer rl.Close()

	time.Sleep(20 * time.Millisecond)
	if rl.Tokens() > 2 {
		t.Errorf("Tokens = %d, want <= 2", rl.Tokens())
	}
}

func TestRateLimiter_TryAcquire(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 1, Burst: 1})
	defer rl.Close()

	if !rl.TryAcquire() {
		t.Fatal("first TryAcquire() = false, want true")
	}
	if rl.TryAcquire() {
		t.Error("second TryAcquire() = true, want false")
	}
}

func TestRateLimiter_AcquireCancelled(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 1, Burst: 1})
	defer rl.Close()
	rl.TryAcquire()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := rl.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() = %v, want deadline exceeded", err)
	}
}

func TestRateLimiter_Close(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 1, Burst: 1})
	rl.TryAcquire()

	errc := make(chan error, 1)
	go func() { errc <- rl.Acquire(context.Background()) }()

	time.Sleep(5 * time.Millisecond)
	rl.Close()
	rl.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrLimiterClosed) {
			t.Errorf("pending Acquire() = %v, want ErrLimiterClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending Acquire() not released by Close")
	}

	if err := rl.Acquire(context.Background()); !errors.Is(err, ErrLimiterClosed) {
		t.Errorf("Acquire() after Close = %v, want ErrLimiterClosed", err)
	}
	if rl.TryAcquire() {
		t.Error("TryAcquire() after Close = true")
	}
}

func TestRateLimiter_Execute(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 60, Burst: 1})
	defer rl.Close()

	called := false
	err := rl.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Errorf("Execute() = %v, called = %v", err, called)
	}
}
