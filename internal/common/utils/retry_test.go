package utils

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryWithBackoff_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), testRetryConfig(3), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), testRetryConfig(3), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), testRetryConfig(3), func() error {
		calls++
		return fmt.Errorf("always fails")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "max retries exceeded")
}

func TestRetryWithBackoff_NonRetryableError(t *testing.T) {
	config := testRetryConfig(5)
	fatal := fmt.Errorf("fatal")
	config.RetryableErrors = func(err error) bool {
		return err != fatal
	}

	calls := 0
	err := RetryWithBackoff(context.Background(), config, func() error {
		calls++
		return fatal
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, fatal, err)
}

func TestRetryWithBackoff_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	config := testRetryConfig(10)
	config.InitialDelay = 1 * time.Hour
	config.MaxDelay = 1 * time.Hour

	done := make(chan error, 1)
	go func() {
		done <- RetryWithBackoff(ctx, config, func() error {
			return fmt.Errorf("still failing")
		})
	}()

	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "retry cancelled")
	case <-time.After(5 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestDelayForAttempt_ExponentialGrowth(t *testing.T) {
	config := RetryConfig{
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}

	assert.Equal(t, 1*time.Second, config.DelayForAttempt(1))
	assert.Equal(t, 2*time.Second, config.DelayForAttempt(2))
	assert.Equal(t, 4*time.Second, config.DelayForAttempt(3))
	assert.Equal(t, 8*time.Second, config.DelayForAttempt(4))
}

func TestDelayForAttempt_Capped(t *testing.T) {
	config := RetryConfig{
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}

	assert.Equal(t, 30*time.Second, config.DelayForAttempt(10))
	assert.Equal(t, 30*time.Second, config.DelayForAttempt(100))
}

func TestDelayForAttempt_Jitter(t *testing.T) {
	config := RetryConfig{
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}

	for i := 0; i < 20; i++ {
		d := config.DelayForAttempt(1)
		assert.GreaterOrEqual(t, d, 1*time.Second)
		assert.LessOrEqual(t, d, 1100*time.Millisecond)
	}
}

func testRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:   attempts,
		InitialDelay:  1 * time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}
