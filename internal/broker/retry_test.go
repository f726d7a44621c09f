package broker

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPolicy = RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}

func TestWithRetrySucceedsOnSecondAttempt(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), testPolicy, zerolog.Nop(), "op", func() error {
		calls++
		if calls == 1 {
			return newBridgeError("op", "Trade context busy (error code: 146)")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithRetryExhaustsOnPersistentBusy(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), testPolicy, zerolog.Nop(), "op", func() error {
		calls++
		return newBridgeError("op", "Trade context busy (error code: 146)")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "after 3 attempts")

	var be *Error
	assert.ErrorAs(t, err, &be)
	assert.Equal(t, CodeTradeContextBusy, be.Code)
}

func TestWithRetryStopsOnFatalError(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), testPolicy, zerolog.Nop(), "op", func() error {
		calls++
		return newBridgeError("op", "close failed (error code: 4108)")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryMapsTransportExhaustionToBridgeUnavailable(t *testing.T) {
	err := withRetry(context.Background(), testPolicy, zerolog.Nop(), "op", func() error {
		return context.DeadlineExceeded
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBridgeUnavailable)
}

func TestWithRetryRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := withRetry(ctx, RetryPolicy{MaxRetries: 3, BaseDelay: time.Hour}, zerolog.Nop(), "op", func() error {
		calls++
		cancel()
		return newBridgeError("op", "error code: 146")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryableClassification(t *testing.T) {
	assert.False(t, retryable(nil))
	assert.True(t, retryable(&APIError{Status: 500}))
	assert.True(t, retryable(&APIError{Status: 429}))
	assert.False(t, retryable(&APIError{Status: 400}))
	assert.True(t, retryable(context.DeadlineExceeded))
}
