package resilience

import (
	"context"
	"time"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	MaxRetries int           // Retries allowed after the first attempt
	Backoff    time.Duration // Fixed wait between attempts
}

// DefaultRetryConfig returns the connection retry policy: one retry, 750ms apart.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 1,
		Backoff:    750 * time.Millisecond,
	}
}

// RetryableFunc is a function that can be retried. The attempt number is
// zero-based so the operation can distinguish first tries from retries.
type RetryableFunc func(ctx context.Context, attempt int) error

// IsRetryableError reports whether a failed attempt may be retried.
type IsRetryableError func(error) bool

// OnRetry is invoked after a retryable failure, before the backoff wait.
// Callers use it to tear down partial state between attempts.
type OnRetry func(attempt int, err error)

// Retry executes fn up to 1+MaxRetries times with a fixed backoff between
// attempts. Non-retryable errors and context cancellation stop immediately.
// The last attempt's error is returned on exhaustion.
func Retry(ctx context.Context, fn RetryableFunc, config *RetryConfig, isRetryable IsRetryableError, onRetry OnRetry) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if isRetryable != nil && !isRetryable(err) {
			return err
		}
		if attempt >= config.MaxRetries {
			break
		}

		if onRetry != nil {
			onRetry(attempt, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(config.Backoff):
		}
	}

	return lastErr
}
