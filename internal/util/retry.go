package util

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryConfig holds configuration for retry with exponential backoff
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt
	// (0 = no retries, -1 = unlimited).
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Multiplier is the factor by which delay increases (default: 2.0)
	Multiplier float64
	// Jitter spreads each delay by ±Jitter of itself (0.0 - 1.0).
	Jitter float64
	// RetryIf decides whether an error is worth another attempt. Nil
	// retries everything not marked with MarkNonRetryable.
	RetryIf func(error) bool
}

// DefaultRetryConfig suits short network operations such as object uploads.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// RetryResult contains the result of a retry operation
type RetryResult struct {
	Attempts  int
	LastError error
	Duration  time.Duration
}

var (
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrContextCanceled    = errors.New("context canceled during retry")
)

// Retry runs fn until it succeeds, returns a non-retryable error, exhausts
// the retry budget or ctx ends.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) *RetryResult {
	if config == nil {
		config = DefaultRetryConfig()
	}
	retryIf := config.RetryIf
	if retryIf == nil {
		retryIf = func(err error) bool { return !IsNonRetryable(err) }
	}

	result := &RetryResult{}
	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	for {
		result.Attempts++

		err := fn()
		if err == nil {
			result.LastError = nil
			return result
		}
		result.LastError = err

		if !retryIf(err) {
			return result
		}
		if config.MaxRetries >= 0 && result.Attempts > config.MaxRetries {
			result.LastError = errors.Join(ErrMaxRetriesExceeded, err)
			return result
		}

		timer := time.NewTimer(calculateDelay(config, result.Attempts))
		select {
		case <-ctx.Done():
			timer.Stop()
			result.LastError = errors.Join(ErrContextCanceled, ctx.Err())
			return result
		case <-timer.C:
		}
	}
}

// calculateDelay returns BaseDelay * Multiplier^(attempt-1) with jitter,
// clamped to MaxDelay.
func calculateDelay(config *RetryConfig, attempt int) time.Duration {
	multiplier := config.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	delay := float64(config.BaseDelay) * math.Pow(multiplier, float64(attempt-1))
	if config.Jitter > 0 {
		jitterRange := delay * config.Jitter
		delay = delay - jitterRange + (rand.Float64() * 2 * jitterRange)
	}
	if config.MaxDelay > 0 && time.Duration(delay) > config.MaxDelay {
		delay = float64(config.MaxDelay)
	}
	return time.Duration(delay)
}

// NonRetryableError wraps an error and marks it as non-retryable
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string { return e.Err.Error() }
func (e *NonRetryableError) Unwrap() error { return e.Err }

// IsNonRetryable checks if an error is marked as non-retryable
func IsNonRetryable(err error) bool {
	var nonRetryable *NonRetryableError
	return errors.As(err, &nonRetryable)
}

// MarkNonRetryable marks an error as non-retryable
func MarkNonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}
