// Package middleware provides composable resilience layers for LLM
// clients: classified retry, request timeouts, and usage accounting.
// Layers are assembled with llm.Chain; order matters and is decided by
// the factory.
package middleware

import (
	"context"
	"fmt"
	"time"

	"kubepilot/pkg/backoff"
	"kubepilot/pkg/llm"
	"kubepilot/pkg/llm/llmerrors"
	"kubepilot/pkg/logx"
)

// Retry returns a middleware that retries failed completions. Pacing is
// chosen per error type from llmerrors.DefaultRetryConfigs; retryCount,
// when non-negative, caps attempts at retryCount+1 across all types.
// Streams are attempted once: a partially delivered stream cannot be
// replayed safely.
func Retry(retryCount int) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return &retryClient{
			next:       next,
			retryCount: retryCount,
			logger:     logx.NewLogger("llm-retry"),
		}
	}
}

type retryClient struct {
	next       llm.LLMClient
	logger     *logx.Logger
	retryCount int
}

func (c *retryClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := c.next.Complete(ctx, in)
		if err == nil {
			return resp, nil
		}
		if !llmerrors.IsRetryable(err) {
			return llm.CompletionResponse{}, err
		}
		lastErr = err

		rc := llmerrors.RetryConfigFor(err)
		attempts := rc.MaxAttempts
		if c.retryCount >= 0 {
			attempts = c.retryCount + 1
		}
		if attempt+1 >= attempts {
			break
		}

		delay := backoff.Delay(attempt, backoff.Config{
			InitialDelay: rc.BaseDelay,
			MaxDelay:     rc.MaxDelay,
			Multiplier:   rc.Multiplier,
			Jitter:       0.1,
		})
		c.logger.Warn("completion attempt %d/%d failed (%s), retrying in %s: %v",
			attempt+1, attempts, llmerrors.TypeOf(err), delay.Round(time.Millisecond), err)

		select {
		case <-ctx.Done():
			return llm.CompletionResponse{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	return llm.CompletionResponse{}, fmt.Errorf("completion gave up after retries: %w", lastErr)
}

func (c *retryClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return c.next.Stream(ctx, in)
}

func (c *retryClient) GetModelName() string {
	return c.next.GetModelName()
}

// Timeout returns a middleware that bounds each completion call. Streams
// pass through untouched; a deadline on the initiating context would
// sever the stream mid-delivery.
func Timeout(d time.Duration) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return &timeoutClient{next: next, timeout: d}
	}
}

type timeoutClient struct {
	next    llm.LLMClient
	timeout time.Duration
}

func (c *timeoutClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if c.timeout <= 0 {
		return c.next.Complete(ctx, in)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.next.Complete(ctx, in)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return llm.CompletionResponse{}, llmerrors.WrapMsg(llmerrors.TypeTransient,
			fmt.Sprintf("completion exceeded %s", c.timeout), err)
	}
	return resp, err
}

func (c *timeoutClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return c.next.Stream(ctx, in)
}

func (c *timeoutClient) GetModelName() string {
	return c.next.GetModelName()
}

// UsageRecorder receives token accounting from the usage middleware. The
// metrics registry implements it; tests supply fakes.
type UsageRecorder interface {
	RecordLLMUsage(model string, promptTokens, completionTokens int)
	RecordLLMError(model, errorType string)
}

// Usage returns a middleware that reports token consumption and error
// classifications for every completion.
func Usage(rec UsageRecorder) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return &usageClient{next: next, rec: rec}
	}
}

type usageClient struct {
	next llm.LLMClient
	rec  UsageRecorder
}

func (c *usageClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	resp, err := c.next.Complete(ctx, in)
	model := c.next.GetModelName()
	if err != nil {
		c.rec.RecordLLMError(model, llmerrors.TypeOf(err).String())
		return resp, err
	}
	c.rec.RecordLLMUsage(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return resp, nil
}

func (c *usageClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return c.next.Stream(ctx, in)
}

func (c *usageClient) GetModelName() string {
	return c.next.GetModelName()
}
