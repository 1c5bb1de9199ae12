// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	kerrors "github.com/jllopis/kairos-npc/pkg/errors"
)

func fastRetry() RetryConfig {
	return DefaultRetryConfig().WithInitialDelay(time.Millisecond)
}

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	err := fastRetry().Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := fastRetry().WithMaxAttempts(2).Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.New("always fails")
	})
	if err == nil {
		t.Errorf("expected error after max attempts")
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryNonRecoverableTypedError(t *testing.T) {
	attempts := 0
	err := fastRetry().Do(context.Background(), func(context.Context) error {
		attempts++
		return kerrors.New(kerrors.CodeInvalidInput, "bad payload", nil)
	})
	if !kerrors.Is(err, kerrors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryResult(t *testing.T) {
	attempts := 0
	value, err := Retry(context.Background(), fastRetry(), func(context.Context) (string, error) {
		attempts++
		if attempts < 2 {
			return "", kerrors.New(kerrors.CodeTimeout, "timed out", nil).WithRecoverable(true)
		}
		return "success", nil
	})
	if err != nil || value != "success" {
		t.Fatalf("expected success, got %q, %v", value, err)
	}
}

func TestRetryContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := DefaultRetryConfig().Do(ctx, func(context.Context) error {
		return errors.New("transient")
	})
	if !kerrors.Is(err, kerrors.CodeTimeout) {
		t.Fatalf("expected timeout code after cancel, got %v", err)
	}
}

func TestWithTimeoutResult(t *testing.T) {
	value, err := WithTimeoutResult(context.Background(), time.Second, func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || value != 42 {
		t.Fatalf("expected 42, got %d, %v", value, err)
	}

	release := make(chan struct{})
	defer close(release)
	_, err = WithTimeoutResult(context.Background(), 20*time.Millisecond, func(context.Context) (int, error) {
		<-release
		return 1, nil
	})
	if !kerrors.Is(err, kerrors.CodeTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestWithTimeoutZeroRunsInline(t *testing.T) {
	called := false
	if err := WithTimeout(context.Background(), 0, func(context.Context) error {
		called = true
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatalf("expected fn to run")
	}
}

func TestWithFallback(t *testing.T) {
	primaryErr := errors.New("primary down")
	value, err := WithFallback(context.Background(),
		func(context.Context) (string, error) { return "", primaryErr },
		func(_ context.Context, err error) (string, error) {
			if err != primaryErr {
				t.Fatalf("expected primary error to be passed through")
			}
			return "fallback", nil
		})
	if err != nil || value != "fallback" {
		t.Fatalf("expected fallback value, got %q, %v", value, err)
	}
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Second, Name: "llm"})
	cb.now = func() time.Time { return now }

	fail := func(context.Context) error { return errors.New("failure") }
	_ = cb.Call(context.Background(), fail)
	_ = cb.Call(context.Background(), fail)
	if cb.State() != StateOpen {
		t.Fatalf("expected open after 2 failures, got %s", cb.State())
	}

	var calls int32
	err := cb.Call(context.Background(), func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	if !kerrors.Is(err, kerrors.CodeRateLimit) || atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("expected fast failure while open, got %v (calls=%d)", err, calls)
	}

	now = now.Add(2 * time.Second)
	if err := cb.Call(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("expected half-open trial call to pass: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after a successful trial call, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Second})
	cb.now = func() time.Time { return now }

	_ = cb.Call(context.Background(), func(context.Context) error { return errors.New("x") })
	now = now.Add(2 * time.Second)
	_ = cb.Call(context.Background(), func(context.Context) error { return errors.New("y") })
	if cb.State() != StateOpen {
		t.Fatalf("expected reopen after half-open failure, got %s", cb.State())
	}
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after reset")
	}
}
