package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation  ErrorCategory = "validation"   // Invalid input or configuration
	ErrCatExecution   ErrorCategory = "execution"    // Runtime failure
	ErrCatTimeout     ErrorCategory = "timeout"      // Operation timed out
	ErrCatRateLimit   ErrorCategory = "rate_limit"   // Downstream rate limited
	ErrCatNetwork     ErrorCategory = "network"      // Transport failure
	ErrCatAuth        ErrorCategory = "auth"         // Authorization failure
	ErrCatCircuitOpen ErrorCategory = "circuit_open" // Breaker refused the call
	ErrCatCancelled   ErrorCategory = "cancelled"    // Caller cancelled
	ErrCatParse       ErrorCategory = "parse"        // Unusable model output
	ErrCatInternal    ErrorCategory = "internal"     // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrExecution creates an execution error. Execution errors are not retried
// by the resilience layer unless they are later reclassified as transient.
func ErrExecution(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatExecution,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      CodeTimeout,
		Message:   message,
		Retryable: true,
	}
}

// ErrTransport creates a transport (network) error.
func ErrTransport(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatNetwork,
		Code:      CodeTransport,
		Message:   message,
		Retryable: true,
	}
}

// ErrRateLimit creates a rate limit error.
func ErrRateLimit(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatRateLimit,
		Code:      CodeRateLimited,
		Message:   message,
		Retryable: true,
	}
}

// ErrAuth creates an authorization error.
func ErrAuth(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatAuth,
		Code:      CodeUnauthorized,
		Message:   message,
		Retryable: false,
	}
}

// ErrParse creates an error for model output that could not be interpreted.
func ErrParse(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatParse,
		Code:      CodeParseFailed,
		Message:   message,
		Retryable: false,
	}
}

// ErrCancelled creates an error for work abandoned because the caller
// cancelled.
func ErrCancelled(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatCancelled,
		Code:      CodeCancelled,
		Message:   message,
		Retryable: false,
	}
}

// ErrUnknownSpecialty creates the error returned when a requested specialty
// has no registered handler.
func ErrUnknownSpecialty(name string, suggestions []string) *DomainError {
	msg := fmt.Sprintf("no handler registered for specialty %q", name)
	if len(suggestions) > 0 {
		msg += fmt.Sprintf(" (did you mean %s?)", strings.Join(suggestions, ", "))
	}
	err := &DomainError{
		Category:  ErrCatValidation,
		Code:      CodeUnknownSpecialty,
		Message:   msg,
		Retryable: false,
	}
	if len(suggestions) > 0 {
		err.WithDetail("suggestions", suggestions)
	}
	return err.WithDetail("specialty", name)
}

// CircuitOpenError is returned when a circuit breaker refuses a call without
// contacting the downstream.
type CircuitOpenError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %q: retry after %s", e.Key, e.RetryAfter.Round(time.Millisecond))
}

// IsCircuitOpen reports whether err is (or wraps) a CircuitOpenError.
func IsCircuitOpen(err error) bool {
	var coe *CircuitOpenError
	return errors.As(err, &coe)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// IsTransient reports whether err is a timeout, transport or rate-limit
// failure. Typed domain errors are checked first; untyped errors fall back to
// message heuristics because several completion backends only report text.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var domErr *DomainError
	if errors.As(err, &domErr) {
		switch domErr.Category {
		case ErrCatTimeout, ErrCatNetwork, ErrCatRateLimit:
			return true
		}
		return false
	}
	if IsCircuitOpen(err) {
		return false
	}
	return classifyMessage(err.Error()) != ""
}

// GetCategory extracts the error category. Untyped errors are classified from
// their message where possible.
func GetCategory(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	if IsCircuitOpen(err) {
		return ErrCatCircuitOpen
	}
	if errors.Is(err, context.Canceled) {
		return ErrCatCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCatTimeout
	}
	if cat := classifyMessage(err.Error()); cat != "" {
		return cat
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

func classifyMessage(msg string) ErrorCategory {
	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, "rate limit", "too many requests", "429", "quota exceeded"):
		return ErrCatRateLimit
	case containsAny(lower, "timeout", "deadline exceeded", "timed out"):
		return ErrCatTimeout
	case containsAny(lower, "connection refused", "connection reset", "network unreachable",
		"no route to host", "temporary failure", "eof", "bad gateway", "service unavailable",
		"gateway timeout", "502", "503", "504", "overloaded"):
		return ErrCatNetwork
	case containsAny(lower, "unauthorized", "401", "403", "forbidden", "invalid api key"):
		return ErrCatAuth
	}
	return ""
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Predefined error codes
const (
	CodeTimeout          = "TIMEOUT"
	CodeTransport        = "TRANSPORT_ERROR"
	CodeRateLimited      = "RATE_LIMITED"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeInvalidConfig    = "INVALID_CONFIGURATION"
	CodeCircuitOpen      = "CIRCUIT_OPEN"
	CodeCancelled        = "CANCELLED"
	CodeParseFailed      = "PARSE_FAILED"
	CodeUnknown          = "UNKNOWN_ERROR"
	CodeUnknownSpecialty = "UNKNOWN_SPECIALTY"
	CodeNoAgents         = "NO_AGENTS"
	CodeNoFiles          = "NO_FILES"
	CodeInvalidRunCount  = "INVALID_RUN_COUNT"
	CodeEmptyPrompt      = "EMPTY_PROMPT"
	CodeEmptyDataset     = "EMPTY_DATASET"
	CodeAgentFailed      = "AGENT_FAILED"
)
