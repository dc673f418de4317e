package resilience

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"os"
	"syscall"
	"time"
)

const (
	jitterMin = 0.85
	jitterMax = 1.15
)

// HTTPStatusError is implemented by transport errors that carry an HTTP
// status code, so retry classification can match against a retryable
// status set without depending on any transport package.
type HTTPStatusError interface {
	error
	HTTPStatus() int
}

// RetryConfig controls the retry loop. The zero value performs a single
// attempt; use the policy constructors for sane defaults.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialDelay is the base delay before the second attempt.
	InitialDelay time.Duration
	// MaxDelay clamps the performed wait, jitter included.
	MaxDelay time.Duration
	// BackoffMultiplier grows the base delay after each failed attempt.
	BackoffMultiplier float64
	// RetryableStatuses lists HTTP status codes considered transient.
	RetryableStatuses []int
	// RetryIf overrides the built-in classifier when set.
	RetryIf func(error) bool
}

// RetryObserver is notified once per scheduled wait: the attempt that just
// failed, its error, and the jittered delay before the next attempt.
type RetryObserver func(attempt int, err error, delay time.Duration)

// ConservativePolicy returns the retry policy for mutating payment
// operations: a single cautious retry with a narrow retryable set, so a
// charge is never duplicated by an enthusiastic retry loop.
func ConservativePolicy() RetryConfig {
	return RetryConfig{
		MaxAttempts:       2,
		InitialDelay:      1 * time.Second,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2,
		RetryableStatuses: []int{502, 503, 504},
	}
}

// AggressivePolicy returns the retry policy for read-only operations such as
// status and installment inquiries.
func AggressivePolicy() RetryConfig {
	return RetryConfig{
		MaxAttempts:       4,
		InitialDelay:      200 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2,
		RetryableStatuses: []int{408, 429, 500, 502, 503, 504},
	}
}

// Retryable reports whether err looks transient: timeouts, connection
// resets/refusals, and HTTP statuses from the given set.
func Retryable(err error, statuses []int) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var statusErr HTTPStatusError
	if errors.As(err, &statusErr) {
		for _, code := range statuses {
			if statusErr.HTTPStatus() == code {
				return true
			}
		}
	}

	return false
}

// Do runs op under the given retry policy. The first failure of a
// non-retryable error, or exhaustion of MaxAttempts, returns the last error
// unchanged. The observer fires once per performed wait and may be nil.
func Do[T any](ctx context.Context, cfg RetryConfig, obs RetryObserver, op func(context.Context) (T, error)) (T, error) {
	var zero T

	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	retryable := cfg.RetryIf
	if retryable == nil {
		retryable = func(err error) bool { return Retryable(err, cfg.RetryableStatuses) }
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == maxAttempts || !retryable(err) {
			return zero, lastErr
		}

		wait := clampDelay(jitter(delay), cfg.MaxDelay)
		if obs != nil {
			obs(attempt, err, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return zero, lastErr
		}

		delay = clampDelay(time.Duration(float64(delay)*cfg.BackoffMultiplier), cfg.MaxDelay)
	}

	return zero, lastErr
}

// jitter spreads a delay by a uniform factor in [jitterMin, jitterMax]
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	factor := jitterMin + rand.Float64()*(jitterMax-jitterMin)
	return time.Duration(float64(d) * factor)
}

// clampDelay keeps the delay inside [0, max]
func clampDelay(d, max time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
