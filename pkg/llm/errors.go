package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies model-call failures for retry decisions.
type ErrorType int8

const (
	ErrorTypeRateLimit ErrorType = iota
	ErrorTypeTransient
	ErrorTypeEmptyResponse
	ErrorTypeAuth
	ErrorTypeBadPrompt
	ErrorTypeUnknown
)

// String returns the label used in logs and metrics.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Error is a classified model-call error.
type Error struct {
	Err        error
	Message    string
	Type       ErrorType
	StatusCode int
}

func (e *Error) Error() string {
	if e.Message != "" && e.Err != nil {
		return fmt.Sprintf("LLM error (%s): %s: %v", e.Type, e.Message, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("LLM error (%s): %s", e.Type, e.Message)
	}
	return fmt.Sprintf("LLM error (%s): %v", e.Type, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the call may succeed if repeated.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeAuth, ErrorTypeBadPrompt:
		return false
	default:
		return true
	}
}

// NewError creates a classified error.
func NewError(t ErrorType, message string) *Error {
	return &Error{Type: t, Message: message}
}

// NewErrorWithCause creates a classified error wrapping cause.
func NewErrorWithCause(t ErrorType, cause error, message string) *Error {
	return &Error{Type: t, Err: cause, Message: message}
}

// TypeOf returns the classification of err, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}

// IsRetryable reports whether err is a retryable classified error.
// Unclassified errors are retried once by the policy's unknown budget.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.IsRetryable()
	}
	return true
}

// Classify maps a raw provider error to an *Error using the status code when
// known and message patterns otherwise.
func Classify(err error, statusCode int) *Error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return already
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewErrorWithCause(ErrorTypeTransient, err, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return NewErrorWithCause(ErrorTypeTransient, err, "request canceled")
	}

	if statusCode == 0 {
		statusCode = extractStatusCode(err.Error())
	}
	switch statusCode {
	case 401, 403:
		return &Error{Type: ErrorTypeAuth, StatusCode: statusCode, Err: err, Message: "authentication failed"}
	case 429:
		return &Error{Type: ErrorTypeRateLimit, StatusCode: statusCode, Err: err, Message: "rate limit exceeded"}
	case 400:
		return &Error{Type: ErrorTypeBadPrompt, StatusCode: statusCode, Err: err, Message: "bad request"}
	case 500, 502, 503, 504:
		return &Error{Type: ErrorTypeTransient, StatusCode: statusCode, Err: err, Message: "server error"}
	}

	lower := strings.ToLower(err.Error())
	switch {
	case containsAny(lower, "timeout", "connection", "network", "temporary", "eof", "reset"):
		return NewErrorWithCause(ErrorTypeTransient, err, "network or connection error")
	case containsAny(lower, "rate", "quota", "overloaded"):
		return NewErrorWithCause(ErrorTypeRateLimit, err, "rate limiting detected")
	case containsAny(lower, "unauthorized", "api key", "auth"):
		return NewErrorWithCause(ErrorTypeAuth, err, "authentication error")
	case containsAny(lower, "invalid", "malformed", "too large"):
		return NewErrorWithCause(ErrorTypeBadPrompt, err, "prompt or request error")
	}
	return NewErrorWithCause(ErrorTypeUnknown, err, "unclassified error")
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// extractStatusCode pulls a 4xx/5xx code out of an SDK error string.
func extractStatusCode(errStr string) int {
	lower := strings.ToLower(errStr)
	for _, pattern := range []string{"status code: ", "status: ", "http ", "code "} {
		idx := strings.Index(lower, pattern)
		if idx == -1 {
			continue
		}
		start := idx + len(pattern)
		if start+3 > len(lower) {
			continue
		}
		var code int
		if _, err := fmt.Sscanf(lower[start:start+3], "%d", &code); err == nil && code >= 400 && code < 600 {
			return code
		}
	}
	return 0
}
