package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond})

	calls := 0
	err := r.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	if err != nil {
		t.Errorf("Execute() = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_ReturnsLastError(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond})

	calls := 0
	err := r.Execute(context.Background(), func(context.Context) error {
		calls++
		return errBoom
	})
	if err != errBoom {
		t.Errorf("Execute() = %v, want %v", err, errBoom)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetry_RetryIf(t *testing.T) {
	fatal := errors.New("fatal")
	r := NewRetry(RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		RetryIf:      func(err error) bool { return err != fatal },
	})

	calls := 0
	err := r.Execute(context.Background(), func(context.Context) error {
		calls++
		return fatal
	})
	if err != fatal || calls != 1 {
		t.Errorf("Execute() = %v after %d calls, want fatal after 1", err, calls)
	}
}

func TestRetry_OnRetry(t *testing.T) {
	var attempts []int
	r := NewRetry(RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		OnRetry: func(attempt int, err error, _ time.Duration) {
			attempts = append(attempts, attempt)
		},
	})

	_ = r.Execute(context.Background(), fail)

	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", attempts)
	}
}

func TestRetry_ContextCancelledDuringWait(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 5, InitialDelay: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := r.Execute(ctx, fail)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Execute() = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Execute() did not stop on cancellation")
	}
}

func TestRetry_Delay(t *testing.T) {
	tests := []struct {
		name     string
		config   RetryConfig
		attempt  int
		expected time.Duration
	}{
		{"exponential 1", RetryConfig{InitialDelay: 100 * time.Millisecond}, 1, 100 * time.Millisecond},
		{"exponential 3", RetryConfig{InitialDelay: 100 * time.Millisecond}, 3, 400 * time.Millisecond},
		{"exponential capped", RetryConfig{InitialDelay: time.Second, MaxDelay: 2 * time.Second}, 10, 2 * time.Second},
		{"linear", RetryConfig{InitialDelay: 100 * time.Millisecond, Strategy: BackoffLinear}, 3, 300 * time.Millisecond},
		{"constant", RetryConfig{InitialDelay: 100 * time.Millisecond, Strategy: BackoffConstant}, 7, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRetry(tt.config)
			if got := r.Delay(tt.attempt); got != tt.expected {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.expected)
			}
		})
	}
}

func TestRetry_Jitter(t *testing.T) {
	r := NewRetry(RetryConfig{InitialDelay: 100 * time.Millisecond, Jitter: true})

	for i := 0; i < 50; i++ {
		d := r.Delay(1)
		if d < 100*time.Millisecond || d >= 125*time.Millisecond {
			t.Fatalf("Delay(1) = %v, want [100ms, 125ms)", d)
		}
	}
}
