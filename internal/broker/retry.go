package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// RetryPolicy governs the broker-error retry loop. Backoff is linear:
// BaseDelay * attempt, matching the terminal's trade-context-busy recovery
// profile rather than an exponential schedule.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryPolicy is tuned for scalping: a failed order is worth three
// quick attempts and no more.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries: 3,
	BaseDelay:  500 * time.Millisecond,
}

// retryable classifies a failure for the retry driver. Transport failures
// and HTTP 5xx/429 are transient, as are the MT4 codes in retryableCodes.
// Fatal broker errors (invalid ticket, already closed) stop immediately.
func retryable(err error) bool {
	if err == nil {
		return false
	}

	var be *Error
	if errors.As(err, &be) {
		if be.Fatal() {
			return false
		}
		return be.Retryable()
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError ||
			apiErr.Status == http.StatusTooManyRequests
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// url.Error wraps most transport-level failures.
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// withRetry runs fn under the policy, sleeping BaseDelay*attempt between
// attempts. The last broker error is surfaced; pure transport exhaustion
// maps to ErrBridgeUnavailable so callers can distinguish "broker said no"
// from "bridge unreachable".
func withRetry(ctx context.Context, policy RetryPolicy, log zerolog.Logger, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= policy.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			log.Debug().Err(err).Str("op", op).Msg("non-retryable bridge failure")
			return err
		}

		if attempt == policy.MaxRetries {
			break
		}

		delay := policy.BaseDelay * time.Duration(attempt)
		log.Warn().Err(err).Str("op", op).
			Int("attempt", attempt).Int("max_retries", policy.MaxRetries).
			Dur("backoff", delay).Msg("retrying bridge call")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s canceled during backoff: %w", op, ctx.Err())
		}
	}

	var be *Error
	if errors.As(lastErr, &be) {
		return fmt.Errorf("%s failed after %d attempts: %w", op, policy.MaxRetries, lastErr)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrBridgeUnavailable, lastErr)
}
