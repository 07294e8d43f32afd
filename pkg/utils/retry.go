package utils

import (
	"context"
	"math"
	"time"
)

// MaxAttempts is the upper bound on attempts for one fetch: the first try
// plus a single re-fetch.
const MaxAttempts = 2

// RetryConfig holds retry configuration.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64

	// Retryable decides whether an error is worth another attempt. A nil
	// Retryable retries every error.
	Retryable func(error) bool

	// OnRetry is called before each re-attempt.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns a single attempt configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   1,
		InitialDelay:  2 * time.Second,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
	}
}

// FetchRetryConfig returns the retry configuration for attempts fetch
// attempts, clamped to [1, MaxAttempts].
func FetchRetryConfig(attempts int) RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = clampAttempts(attempts)
	return cfg
}

func clampAttempts(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxAttempts {
		return MaxAttempts
	}
	return n
}

// RetryWithResult executes fn until it succeeds, the attempts run out or ctx
// is done, backing off exponentially between attempts.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	attempts := clampAttempts(cfg.MaxAttempts)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt, lastErr)
			}
			delay := CalculateBackoff(attempt-1, cfg.InitialDelay, cfg.MaxDelay, cfg.BackoffFactor)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, lastErr
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return zero, lastErr
		}
	}

	return zero, lastErr
}

// CalculateBackoff calculates the backoff duration for a given attempt.
func CalculateBackoff(attempt int, initialDelay, maxDelay time.Duration, factor float64) time.Duration {
	delay := float64(initialDelay) * math.Pow(factor, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	return time.Duration(delay)
}
