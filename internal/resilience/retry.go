package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/lexiqai/speech-sdk/internal/speecherr"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	MaxAttempts       int           // Total attempts, including the first
	InitialBackoff    time.Duration // Delay before the second attempt
	MaxBackoff        time.Duration // Upper bound on any single delay
	BackoffMultiplier float64       // Growth factor between delays
	Jitter            bool          // Add up to 25% random jitter
}

// DefaultRetryConfig is one retry after a short pause, which is what
// connection setup uses.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       2,
		InitialBackoff:    250 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// RetryableFunc is one attempt. attempt starts at 1.
type RetryableFunc func(ctx context.Context, attempt int) error

// IsRetryableError classifies an attempt's error
type IsRetryableError func(error) bool

// Retry runs fn until it succeeds, returns a non-retryable error, exhausts
// MaxAttempts or ctx is done. The last attempt's error is returned.
func Retry(ctx context.Context, fn RetryableFunc, config *RetryConfig, isRetryable IsRetryableError) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if isRetryable != nil && !isRetryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		delay := CalculateBackoff(attempt-1, config.InitialBackoff, config.MaxBackoff, config.BackoffMultiplier)
		if config.Jitter && delay > 0 {
			delay += time.Duration(rand.Int63n(int64(delay)/4 + 1))
			if delay > config.MaxBackoff {
				delay = config.MaxBackoff
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}

	return lastErr
}

// CalculateBackoff calculates the backoff duration for a given attempt
func CalculateBackoff(attempt int, initialBackoff time.Duration, maxBackoff time.Duration, multiplier float64) time.Duration {
	backoff := time.Duration(float64(initialBackoff) * math.Pow(multiplier, float64(attempt)))
	if maxBackoff > 0 && backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}

// IsTransientConnectError reports whether a failed connection attempt may
// succeed if repeated. Authentication failures and caller cancellation are
// final.
func IsTransientConnectError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsRetryable(err) {
		return true
	}

	switch speecherr.CodeOf(err) {
	case speecherr.CodeAuthenticationFailed, speecherr.CodeCanceled, speecherr.CodeInvalidArgument:
		return false
	case speecherr.CodeConnectionFailed, speecherr.CodeConnectionLost, speecherr.CodeTimeout:
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// RetryableError wraps an error to indicate it's retryable
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable checks if an error is a RetryableError
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}
