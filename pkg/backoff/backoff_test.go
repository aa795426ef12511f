package backoff

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayExponentialCurveNoJitter(t *testing.T) {
	cfg := Config{
		InitialDelay: 1000 * time.Millisecond,
		MaxDelay:     5000 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       0,
	}

	expected := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		5000 * time.Millisecond,
		5000 * time.Millisecond,
	}

	for attempt, want := range expected {
		assert.Equal(t, want, Delay(attempt, cfg), "attempt %d", attempt)
	}
}

func TestDelayCapsAtMaxDelay(t *testing.T) {
	cfg := Config{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   10.0,
		Jitter:       0,
	}

	assert.Equal(t, 100*time.Millisecond, Delay(0, cfg))
	assert.Equal(t, 1*time.Second, Delay(1, cfg))
	assert.Equal(t, 1*time.Second, Delay(50, cfg))
}

func TestDelayNegativeAttemptClamped(t *testing.T) {
	cfg := Config{InitialDelay: 200 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0}

	assert.Equal(t, Delay(0, cfg), Delay(-3, cfg))
}

func TestDelayJitterStaysWithinBounds(t *testing.T) {
	cfg := Config{
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}

	base := 2 * time.Second // attempt 1: 1s * 2^1
	low := time.Duration(float64(base) * 0.8)
	high := time.Duration(float64(base) * 1.2)

	for i := 0; i < 100; i++ {
		d := Delay(1, cfg)
		assert.GreaterOrEqual(t, d, low)
		assert.LessOrEqual(t, d, high)
	}
}

func TestRetryExactAttemptCount(t *testing.T) {
	attempts := 0
	failure := errors.New("connection refused")

	err := Retry(context.Background(), 2, fastConfig(), nil, func(context.Context) error {
		attempts++
		return failure
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts, "retryCount=2 means 3 total attempts")
	assert.ErrorIs(t, err, failure)
}

func TestRetryFirstAttemptImmediate(t *testing.T) {
	cfg := Config{
		InitialDelay: 5 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}

	start := time.Now()
	err := Retry(context.Background(), 3, cfg, nil, func(context.Context) error {
		return nil
	})

	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second, "successful first attempt must not sleep")
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	attempts := 0
	fatal := errors.New("manifest validation failed")

	err := Retry(context.Background(), 5, fastConfig(), nil, func(context.Context) error {
		attempts++
		return fatal
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, fatal)
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0

	result, err := RetryValue(context.Background(), 3, fastConfig(), nil, func(context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", Transient(errors.New("vector store unavailable"))
		}
		return "indexed", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "indexed", result)
	assert.Equal(t, 3, attempts)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{
		InitialDelay: 10 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, 3, cfg, nil, func(context.Context) error {
			attempts++
			return Transient(errors.New("still down"))
		})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts, "cancellation during backoff sleep must not retry")
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not abort on context cancellation")
	}
}

func TestIsRetryableClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout text", errors.New("request timeout"), true},
		{"connection text", errors.New("connection reset by peer"), true},
		{"rate limit", errors.New("429 too many requests"), true},
		{"server error", errors.New("HTTP 503 service unavailable"), true},
		{"bad request", errors.New("400 bad request"), false},
		{"not found", errors.New("404 not found"), false},
		{"unknown", errors.New("something odd"), false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"transient wrapper", Transient(errors.New("anything")), true},
		{"permanent wrapper beats transient text", Permanent(errors.New("connection refused")), false},
		{"wrapped transient", fmt.Errorf("indexing: %w", Transient(errors.New("x"))), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestPermanentAndTransientUnwrap(t *testing.T) {
	inner := errors.New("boom")

	assert.ErrorIs(t, Transient(inner), inner)
	assert.ErrorIs(t, Permanent(inner), inner)
}

func fastConfig() Config {
	return Config{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       0,
	}
}
