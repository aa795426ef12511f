// Package llmerrors classifies provider failures so retry policy can be
// driven by error type instead of string matching. Provider clients wrap
// every transport and API failure into an *Error before returning it.
package llmerrors

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"
)

// ErrorType classifies a provider failure for retry decisions.
type ErrorType int8

const (
	// TypeRateLimit indicates the provider rejected the request due to
	// rate limiting (HTTP 429 or an SDK-level throttle).
	TypeRateLimit ErrorType = iota
	// TypeTransient indicates a temporary failure: network errors,
	// timeouts, 5xx responses other than 503.
	TypeTransient
	// TypeEmptyResponse indicates the provider returned a well-formed but
	// unusable completion: no content and no tool calls.
	TypeEmptyResponse
	// TypeAuth indicates invalid or missing credentials. Never retried.
	TypeAuth
	// TypeBadPrompt indicates the request itself was rejected (context
	// too large, invalid schema, content policy). Never retried.
	TypeBadPrompt
	// TypeUnknown covers errors that could not be classified.
	TypeUnknown
	// TypeServiceUnavailable indicates a hard 503 with a provider banner
	// body. Retrying immediately makes overload worse, so it is excluded.
	TypeServiceUnavailable
)

// String returns the wire-stable name of the error type.
func (t ErrorType) String() string {
	switch t {
	case TypeRateLimit:
		return "rate_limit"
	case TypeTransient:
		return "transient"
	case TypeEmptyResponse:
		return "empty_response"
	case TypeAuth:
		return "auth"
	case TypeBadPrompt:
		return "bad_prompt"
	case TypeServiceUnavailable:
		return "service_unavailable"
	default:
		return "unknown"
	}
}

// maxBodyStub caps how much of a provider response body is retained on an
// error. Enough to identify the failure, small enough for log lines.
const maxBodyStub = 512

// Error is the classified provider failure type.
type Error struct {
	Err        error
	Message    string
	BodyStub   string
	Type       ErrorType
	StatusCode int
}

func (e *Error) Error() string {
	if e.Message != "" && e.Err != nil {
		return fmt.Sprintf("%s (%s): %s", e.Message, e.Type, e.Err.Error())
	}
	if e.Message != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Type)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Type, e.Err.Error())
	}
	return e.Type.String()
}

// Unwrap supports errors.Is and errors.As against the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a message.
func New(t ErrorType, message string) *Error {
	return &Error{Type: t, Message: message}
}

// Wrap classifies an existing error.
func Wrap(t ErrorType, err error) *Error {
	return &Error{Type: t, Err: err}
}

// WrapMsg classifies an existing error with additional context.
func WrapMsg(t ErrorType, message string, err error) *Error {
	return &Error{Type: t, Message: message, Err: err}
}

// NewRateLimitError builds a rate-limit failure for a provider.
func NewRateLimitError(provider string, err error) *Error {
	return &Error{
		Type:       TypeRateLimit,
		Message:    fmt.Sprintf("%s rate limit exceeded", provider),
		Err:        err,
		StatusCode: 429,
	}
}

// NewAuthError builds a credential failure for a provider.
func NewAuthError(provider string, err error) *Error {
	return &Error{
		Type:    TypeAuth,
		Message: fmt.Sprintf("%s authentication failed", provider),
		Err:     err,
	}
}

// NewEmptyResponseError reports a completion with no content and no tool
// calls. The model name is recorded, never the prompt.
func NewEmptyResponseError(model string) *Error {
	return &Error{
		Type:    TypeEmptyResponse,
		Message: fmt.Sprintf("model %s returned an empty response", model),
	}
}

// NewServiceUnavailableError builds a hard-unavailable failure, keeping a
// truncated stub of the response body for diagnosis.
func NewServiceUnavailableError(provider string, statusCode int, body string) *Error {
	if len(body) > maxBodyStub {
		body = body[:maxBodyStub]
	}
	return &Error{
		Type:       TypeServiceUnavailable,
		Message:    fmt.Sprintf("%s service unavailable", provider),
		StatusCode: statusCode,
		BodyStub:   body,
	}
}

// TypeOf extracts the classification from an error chain. Unclassified
// errors report TypeUnknown.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return TypeUnknown
}

// Is reports whether the error chain contains a classified error of the
// given type.
func Is(err error, t ErrorType) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == t
}

// IsRetryable reports whether retrying could plausibly succeed. The
// decision is a blocklist: auth and bad-prompt failures are deterministic,
// and hard 503s need the provider to recover first. Everything else,
// including unclassified errors, is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		switch e.Type {
		case TypeAuth, TypeBadPrompt, TypeServiceUnavailable:
			return false
		case TypeRateLimit, TypeTransient, TypeEmptyResponse, TypeUnknown:
			return true
		}
	}
	return true
}

// RetryConfig describes type-specific retry pacing.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryConfigs maps each retryable error type to sensible pacing.
// Rate limits back off hard; transient failures retry quickly.
var DefaultRetryConfigs = map[ErrorType]RetryConfig{
	TypeRateLimit: {
		MaxAttempts: 5,
		BaseDelay:   2 * time.Second,
		MaxDelay:    60 * time.Second,
		Multiplier:  2.0,
	},
	TypeTransient: {
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
	},
	TypeEmptyResponse: {
		MaxAttempts: 2,
		BaseDelay:   1 * time.Second,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
	},
	TypeUnknown: {
		MaxAttempts: 2,
		BaseDelay:   1 * time.Second,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
	},
}

// RetryConfigFor returns the pacing for an error's type, falling back to
// the unknown-type config.
func RetryConfigFor(err error) RetryConfig {
	if cfg, ok := DefaultRetryConfigs[TypeOf(err)]; ok {
		return cfg
	}
	return DefaultRetryConfigs[TypeUnknown]
}

// SanitizePrompt produces a log-safe fingerprint of prompt content.
// Prompts can hold cluster state and user text, so only a digest and the
// length ever reach logs or error messages.
func SanitizePrompt(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return fmt.Sprintf("sha256=%x len=%d", sum[:8], len(prompt))
}
