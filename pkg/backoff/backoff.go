// Package backoff computes exponential retry delays and drives retry loops
// for transient collaborator failures (cluster API, model service, vector store).
package backoff

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

// Config defines the shape of the delay curve.
type Config struct {
	InitialDelay time.Duration `yaml:"initial_delay"` // Delay before the first retry
	MaxDelay     time.Duration `yaml:"max_delay"`     // Upper bound on any single delay
	Multiplier   float64       `yaml:"multiplier"`    // Growth factor between retries
	Jitter       float64       `yaml:"jitter"`        // Perturbation fraction in [0,1); 0 disables jitter
}

// DefaultConfig provides reasonable defaults for retry behavior.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     30 * time.Second,
	Multiplier:   2.0,
	Jitter:       0.1,
}

// Delay returns the sleep duration preceding retry number attempt (0-based):
// min(InitialDelay * Multiplier^attempt, MaxDelay), perturbed by up to
// ±Jitter fraction when Jitter > 0.
func Delay(attempt int, cfg Config) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	if maxDelay := float64(cfg.MaxDelay); delay > maxDelay {
		delay = maxDelay
	}

	if cfg.Jitter > 0 {
		// Uniform in [-Jitter, +Jitter] of the computed delay.
		delay += delay * cfg.Jitter * (2*rand.Float64() - 1) //nolint:gosec // Jitter does not need crypto randomness
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Classifier determines if an error should be retried.
type Classifier func(error) bool

// RetryableError lets error types declare their own retry eligibility,
// taking precedence over string classification.
type RetryableError interface {
	error
	ShouldRetry() bool
}

// TransientError marks an underlying failure as retryable.
type TransientError struct {
	Underlying error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient error: %v", e.Underlying)
}

func (e *TransientError) ShouldRetry() bool { return true }

func (e *TransientError) Unwrap() error { return e.Underlying }

// Transient wraps err as a retryable transient failure.
func Transient(err error) *TransientError {
	return &TransientError{Underlying: err}
}

// PermanentError marks an underlying failure as non-retryable even if its
// text would otherwise classify as transient.
type PermanentError struct {
	Underlying error
}

func (e *PermanentError) Error() string { return e.Underlying.Error() }

func (e *PermanentError) ShouldRetry() bool { return false }

func (e *PermanentError) Unwrap() error { return e.Underlying }

// Permanent wraps err as a non-retryable failure.
func Permanent(err error) *PermanentError {
	return &PermanentError{Underlying: err}
}

// IsRetryable is the default classifier. Errors may override it by
// implementing RetryableError; otherwise classification falls back to
// inspecting the error text for known transient patterns.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Never retry context cancellation or deadline expiry.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.ShouldRetry()
	}

	errStr := err.Error()

	// Network-shaped failures.
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "temporary") {
		return true
	}

	// Rate limiting.
	if strings.Contains(errStr, "rate") || strings.Contains(errStr, "429") {
		return true
	}

	// Server errors (5xx).
	if strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") {
		return true
	}

	// Client errors (4xx) other than rate limiting are the caller's fault.
	if strings.Contains(errStr, "400") ||
		strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "404") {
		return false
	}

	return false
}

// Retry runs op, retrying up to retryCount additional times on retryable
// failure. The first attempt executes immediately; each retry sleeps for
// Delay(retry, cfg) first, honoring ctx cancellation during the sleep.
// A nil classifier uses IsRetryable. The final failure is surfaced wrapped
// so callers can still unwrap the causing error.
func Retry(ctx context.Context, retryCount int, cfg Config, classify Classifier, op func(context.Context) error) error {
	_, err := RetryValue(ctx, retryCount, cfg, classify, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// RetryValue is Retry for operations that produce a value.
func RetryValue[T any](ctx context.Context, retryCount int, cfg Config, classify Classifier, op func(context.Context) (T, error)) (T, error) {
	if classify == nil {
		classify = IsRetryable
	}
	if retryCount < 0 {
		retryCount = 0
	}

	var zero T
	var lastErr error

	for attempt := 0; attempt <= retryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(Delay(attempt-1, cfg)):
			}
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !classify(err) {
			return zero, err
		}
	}

	return zero, fmt.Errorf("failed after %d retries: %w", retryCount, lastErr)
}
