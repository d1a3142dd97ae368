package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
)

func TestRetryPolicy_Execute_Success(t *testing.T) {
	policy := NewRetryPolicy(WithMaxAttempts(3))

	callCount := 0
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		callCount++
		return nil
	})

	if err != nil {
		t.Errorf("Execute() error = %v, want nil", err)
	}
	if callCount != 1 {
		t.Errorf("callCount = %d, want 1", callCount)
	}
}

func TestRetryPolicy_Execute_SuccessAfterRetry(t *testing.T) {
	policy := NewRetryPolicy(
		WithMaxAttempts(3),
		WithBaseDelay(1*time.Millisecond),
	)

	callCount := 0
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		callCount++
		if callCount < 3 {
			return core.ErrRateLimit("rate limited")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Execute() error = %v, want nil", err)
	}
	if callCount != 3 {
		t.Errorf("callCount = %d, want 3", callCount)
	}
}

func TestRetryPolicy_Execute_NotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"validation", core.ErrValidation("INVALID", "not retryable")},
		{"auth", core.ErrAuth("invalid api key")},
		{"parse", core.ErrParse("no json object")},
		{"circuit open", &core.CircuitOpenError{Key: "security", RetryAfter: time.Minute}},
		{"plain", errors.New("something odd")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := NewRetryPolicy(WithMaxAttempts(3), WithBaseDelay(time.Millisecond))

			callCount := 0
			err := policy.Execute(context.Background(), func(ctx context.Context) error {
				callCount++
				return tt.err
			})

			if err != tt.err {
				t.Errorf("Execute() error = %v, want %v", err, tt.err)
			}
			if callCount != 1 {
				t.Errorf("callCount = %d, want 1", callCount)
			}
		})
	}
}

func TestRetryPolicy_Execute_Exhausted(t *testing.T) {
	policy := NewRetryPolicy(
		WithMaxAttempts(3),
		WithBaseDelay(1*time.Millisecond),
	)

	callCount := 0
	last := core.ErrTransport("connection reset")
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		callCount++
		return last
	})

	if callCount != 3 {
		t.Errorf("callCount = %d, want 3", callCount)
	}
	var exhaustedErr *RetryExhaustedError
	if !errors.As(err, &exhaustedErr) {
		t.Fatalf("Execute() error = %v, want RetryExhaustedError", err)
	}
	if exhaustedErr.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", exhaustedErr.Attempts)
	}
	if !errors.Is(err, last) {
		t.Error("exhausted error should unwrap to the last failure")
	}
	if !core.IsCategory(err, core.ErrCatNetwork) {
		t.Errorf("category = %s, want network", core.GetCategory(err))
	}
}

func TestRetryPolicy_WithRetryIf(t *testing.T) {
	retryOnParse := func(err error) bool { return core.IsCategory(err, core.ErrCatParse) }
	policy := NewRetryPolicy(
		WithMaxAttempts(4),
		WithBaseDelay(time.Millisecond),
		WithRetryIf(retryOnParse),
	)

	callCount := 0
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		callCount++
		if callCount == 1 {
			return core.ErrParse("truncated json")
		}
		return core.ErrTimeout("slow")
	})

	if callCount != 2 {
		t.Errorf("callCount = %d, want 2 (timeout is not retried by this classifier)", callCount)
	}
	if !core.IsCategory(err, core.ErrCatTimeout) {
		t.Errorf("Execute() error = %v, want the timeout", err)
	}
}

func TestRetryPolicy_CalculateDelay(t *testing.T) {
	policy := NewRetryPolicy(
		WithBaseDelay(1*time.Second),
		WithMaxDelay(30*time.Second),
		WithMultiplier(2.0),
		WithJitter(0),
	)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second}, // capped
		{7, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := policy.CalculateDelayNoJitter(tt.attempt); got != tt.want {
			t.Errorf("CalculateDelayNoJitter(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
		if got := policy.CalculateDelay(tt.attempt); got != tt.want {
			t.Errorf("CalculateDelay(%d) without jitter = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryPolicy_Jitter(t *testing.T) {
	policy := NewRetryPolicy(
		WithBaseDelay(1*time.Second),
		WithJitter(0.2),
	)

	delays := make(map[time.Duration]bool)
	for i := 0; i < 100; i++ {
		delays[policy.CalculateDelay(1)] = true
	}

	if len(delays) < 5 {
		t.Error("jitter should produce varied delays")
	}

	base := float64(1 * time.Second)
	for delay := range delays {
		if float64(delay) < base*0.8 || float64(delay) > base*1.2 {
			t.Errorf("delay %v out of jitter range [0.8s, 1.2s]", delay)
		}
	}
}

func TestRetryPolicy_ContextCancellation(t *testing.T) {
	policy := NewRetryPolicy(
		WithMaxAttempts(5),
		WithBaseDelay(1*time.Second),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := policy.Execute(ctx, func(ctx context.Context) error {
		return core.ErrTimeout("timeout")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
	if !strings.Contains(err.Error(), "last error") {
		t.Errorf("Execute() error = %q, want last error attached", err)
	}
}

func TestRetryPolicy_ImmediateContextCancel(t *testing.T) {
	policy := NewRetryPolicy(WithMaxAttempts(3))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := policy.Execute(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
	if called {
		t.Error("fn must not run on a cancelled context")
	}
}

func TestRetryPolicy_ExecuteWithNotify(t *testing.T) {
	policy := NewRetryPolicy(
		WithMaxAttempts(3),
		WithBaseDelay(1*time.Millisecond),
	)

	var notifications []int
	notify := func(attempt int, err error, delay time.Duration) {
		notifications = append(notifications, attempt)
	}

	err := policy.ExecuteWithNotify(context.Background(), func(ctx context.Context) error {
		return core.ErrTimeout("timeout")
	}, notify)

	if err == nil {
		t.Error("ExecuteWithNotify() should return error")
	}
	// Notified after attempts 1 and 2, not after the last one.
	if len(notifications) != 2 || notifications[0] != 1 || notifications[1] != 2 {
		t.Errorf("notifications = %v, want [1 2]", notifications)
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()

	if policy.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", policy.MaxAttempts)
	}
	if policy.BaseDelay != 1*time.Second {
		t.Errorf("BaseDelay = %v, want 1s", policy.BaseDelay)
	}
	if policy.MaxDelay != 30*time.Second {
		t.Errorf("MaxDelay = %v, want 30s", policy.MaxDelay)
	}
	if policy.JitterFactor != 0.2 {
		t.Errorf("JitterFactor = %v, want 0.2", policy.JitterFactor)
	}
	if policy.Multiplier != 2.0 {
		t.Errorf("Multiplier = %v, want 2.0", policy.Multiplier)
	}
	if policy.RetryIf == nil {
		t.Error("RetryIf should default to the transient classifier")
	}
}

func TestNewRetryPolicy_Clamps(t *testing.T) {
	policy := NewRetryPolicy(WithMaxAttempts(0), WithMultiplier(0.5), WithRetryIf(nil))

	if policy.MaxAttempts != 1 {
		t.Errorf("MaxAttempts = %d, want 1", policy.MaxAttempts)
	}
	if policy.Multiplier != 1 {
		t.Errorf("Multiplier = %v, want 1", policy.Multiplier)
	}
	if policy.RetryIf == nil {
		t.Error("nil RetryIf should fall back to the default classifier")
	}
}

func TestRetryExhaustedError(t *testing.T) {
	originalErr := core.ErrTimeout("timeout")
	exhaustedErr := &RetryExhaustedError{
		Attempts: 3,
		LastErr:  originalErr,
	}

	if !strings.Contains(exhaustedErr.Error(), "3 attempts") {
		t.Errorf("Error() = %q", exhaustedErr.Error())
	}
	if exhaustedErr.Unwrap() != originalErr {
		t.Error("Unwrap() should return the original error")
	}
	if !IsRetryExhausted(exhaustedErr) {
		t.Error("IsRetryExhausted should return true")
	}
	if IsRetryExhausted(originalErr) {
		t.Error("IsRetryExhausted should return false for non-exhausted error")
	}
}
