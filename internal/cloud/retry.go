package cloud

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig holds retry configuration for provider API calls
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultRetryConfig returns retry settings tuned for cloud APIs
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:   5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retry executes fn, retrying throttled and transient classifications with
// exponential backoff and jitter. Other classifications surface immediately.
func Retry(ctx context.Context, config *RetryConfig, op string, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr *AdapterError
	delay := config.InitialDelay

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return Classify(op, ctx.Err())
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}

		classified := Classify(op, err)
		if !classified.Retryable() {
			return classified
		}
		lastErr = classified

		if attempt == config.MaxRetries {
			break
		}

		if attempt > 0 {
			delay = time.Duration(float64(delay) * config.Multiplier)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}

		actualDelay := delay
		if config.Jitter {
			actualDelay += time.Duration(rand.Float64() * float64(delay) * 0.3)
		}

		select {
		case <-ctx.Done():
			return Classify(op, ctx.Err())
		case <-time.After(actualDelay):
		}
	}

	lastErr.Cause = fmt.Errorf("exhausted %d retries: %w", config.MaxRetries, lastErr.Cause)
	return lastErr
}

// RetryWithResult executes a function returning a value with retry logic
func RetryWithResult[T any](ctx context.Context, config *RetryConfig, op string, fn func() (T, error)) (T, error) {
	var result T
	err := Retry(ctx, config, op, func() error {
		var fnErr error
		result, fnErr = fn()
		return fnErr
	})
	return result, err
}
