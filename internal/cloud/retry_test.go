package cloud

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(), "op", func() error {
		attempts++
		if attempts < 3 {
			return &AdapterError{Class: ClassThrottled, Op: "op"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(), "op", func() error {
		attempts++
		return &AdapterError{Class: ClassAccessDenied, Op: "op"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)

	class, ok := ClassOf(err)
	require.True(t, ok)
	assert.Equal(t, ClassAccessDenied, class)
}

func TestRetryExhaustsBudget(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(), "op", func() error {
		attempts++
		return &AdapterError{Class: ClassTransient, Op: "op", Cause: context.DeadlineExceeded}
	})
	require.Error(t, err)
	assert.Equal(t, 4, attempts)
	assert.Contains(t, err.Error(), "exhausted 3 retries")
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, fastRetryConfig(), "op", func() error {
		return &AdapterError{Class: ClassThrottled, Op: "op"}
	})
	require.Error(t, err)
}

func TestRetryWithResult(t *testing.T) {
	attempts := 0
	value, err := RetryWithResult(context.Background(), fastRetryConfig(), "op", func() (int, error) {
		attempts++
		if attempts == 1 {
			return 0, &AdapterError{Class: ClassThrottled, Op: "op"}
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, value)
}
