package imagegen

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastPolicy(attempts int) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  attempts,
		InitialDelay: 1 * time.Millisecond,
		Multiplier:   1.0,
		MaxDelay:     10 * time.Millisecond,
	}
}

func TestRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()

	if !policy.ShouldRetry(errors.New("dial tcp: connection refused"), 1) {
		t.Error("expected connection error to be retryable")
	}
	if !policy.ShouldRetry(&StatusError{Code: 503, Message: "overloaded"}, 1) {
		t.Error("expected 503 to be retryable")
	}
	if !policy.ShouldRetry(&StatusError{Code: 429, Message: "quota"}, 2) {
		t.Error("expected 429 to be retryable")
	}
	if policy.ShouldRetry(&StatusError{Code: 503}, 3) {
		t.Error("should not retry after max attempts")
	}

	delay := policy.NextDelay(1)
	if delay != 1*time.Second {
		t.Errorf("expected 1s delay, got %v", delay)
	}

	delay = policy.NextDelay(2)
	if delay != 2*time.Second {
		t.Errorf("expected 2s delay, got %v", delay)
	}

	delay = policy.NextDelay(3)
	if delay != 4*time.Second {
		t.Errorf("expected 4s delay, got %v", delay)
	}
}

func TestRetryPolicyNonRetryable(t *testing.T) {
	policy := DefaultRetryPolicy()

	for _, err := range []error{
		nil,
		&StatusError{Code: 400, Message: "invalid argument"},
		&StatusError{Code: 403, Message: "forbidden"},
		fmt.Errorf("%w: %w", &StatusError{Code: 400, Message: "bad signature"}, ErrContinuationToken),
		errors.New("model returned no image (IMAGE_SAFETY)"),
		fmt.Errorf("sending request: %w", context.Canceled),
	} {
		if policy.ShouldRetry(err, 1) {
			t.Errorf("expected %v to be permanent", err)
		}
	}
}

func TestRetryPolicyMaxDelayCap(t *testing.T) {
	policy := &RetryPolicy{
		MaxAttempts:  10,
		InitialDelay: 1 * time.Second,
		Multiplier:   10.0,
		MaxDelay:     30 * time.Second,
	}

	delay := policy.NextDelay(5)
	if delay > policy.MaxDelay {
		t.Errorf("delay %v exceeds max delay %v", delay, policy.MaxDelay)
	}
}

func TestRetryPolicyExecuteSuccess(t *testing.T) {
	calls := 0

	err := fastPolicy(3).Execute(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("temporary failure")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryPolicyExecuteNonRetryable(t *testing.T) {
	calls := 0

	err := fastPolicy(3).Execute(context.Background(), func() error {
		calls++
		return &StatusError{Code: 401, Message: "unauthorized"}
	})

	if err == nil {
		t.Error("expected error for non-retryable failure")
	}
	if calls != 1 {
		t.Errorf("expected 1 call for non-retryable error, got %d", calls)
	}
}

func TestRetryPolicyExecuteAllFail(t *testing.T) {
	calls := 0

	err := fastPolicy(2).Execute(context.Background(), func() error {
		calls++
		return errors.New("timeout")
	})

	if err == nil {
		t.Error("expected error after all attempts exhausted")
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestRetryPolicyExecuteStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := &RetryPolicy{MaxAttempts: 5, InitialDelay: time.Hour, Multiplier: 1, MaxDelay: time.Hour}
	calls := 0

	done := make(chan error, 1)
	go func() {
		done <- policy.Execute(ctx, func() error {
			calls++
			return &StatusError{Code: 500}
		})
	}()
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected the last error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not stop on cancel")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}
