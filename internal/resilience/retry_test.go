package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig() *RetryConfig {
	return &RetryConfig{MaxRetries: 1, Backoff: 5 * time.Millisecond}
}

func TestRetry_Success(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func(ctx context.Context, attempt int) error {
		attempts++
		return nil
	}, fastConfig(), nil, nil)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetry_FailureThenSuccess(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func(ctx context.Context, attempt int) error {
		attempts++
		if attempts < 2 {
			return errors.New("temporary error")
		}
		return nil
	}, fastConfig(), nil, nil)

	if err != nil {
		t.Errorf("Expected no error after retry, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestRetry_Exhaustion(t *testing.T) {
	attempts := 0
	wantErr := errors.New("persistent error")
	err := Retry(context.Background(), func(ctx context.Context, attempt int) error {
		attempts++
		return wantErr
	}, fastConfig(), nil, nil)

	if !errors.Is(err, wantErr) {
		t.Errorf("Expected last error back, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 total attempts (1 initial + 1 retry), got %d", attempts)
	}
}

func TestRetry_NonRetryableError(t *testing.T) {
	attempts := 0
	isRetryable := func(err error) bool { return false }

	err := Retry(context.Background(), func(ctx context.Context, attempt int) error {
		attempts++
		return errors.New("non-retryable error")
	}, fastConfig(), isRetryable, nil)

	if err == nil {
		t.Error("Expected error")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for non-retryable error, got %d", attempts)
	}
}

func TestRetry_OnRetryTeardown(t *testing.T) {
	var teardowns []int
	attempts := 0

	_ = Retry(context.Background(), func(ctx context.Context, attempt int) error {
		attempts++
		return errors.New("retryable")
	}, &RetryConfig{MaxRetries: 2, Backoff: time.Millisecond}, nil, func(attempt int, err error) {
		teardowns = append(teardowns, attempt)
	})

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	// Teardown runs between attempts, not after the last one.
	if len(teardowns) != 2 || teardowns[0] != 0 || teardowns[1] != 1 {
		t.Errorf("Expected teardowns [0 1], got %v", teardowns)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	err := Retry(ctx, func(ctx context.Context, attempt int) error {
		attempts++
		cancel()
		return errors.New("retryable")
	}, &RetryConfig{MaxRetries: 3, Backoff: time.Minute}, nil, nil)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt before cancellation, got %d", attempts)
	}
}
