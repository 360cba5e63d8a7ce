package errors

import (
	"fmt"
)

// GovRAGError is the structured error type carried through the pipeline.
// It provides rich context for logging, HTTP-status mapping, and the
// client-facing Kind surfaced by the chat API.
type GovRAGError struct {
	// Code is the unique internal error code (e.g. "ERR_301_RETRIEVAL_UNAVAILABLE").
	Code string

	// Kind is the stable, client-facing error kind.
	Kind Kind

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Session, Retrieval, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion surfaced to the caller.
	Suggestion string
}

// Error implements the error interface.
func (e *GovRAGError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *GovRAGError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with GovRAGError.
func (e *GovRAGError) Is(target error) bool {
	if t, ok := target.(*GovRAGError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *GovRAGError) WithDetail(key, value string) *GovRAGError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the caller.
// Returns the error for method chaining.
func (e *GovRAGError) WithSuggestion(suggestion string) *GovRAGError {
	e.Suggestion = suggestion
	return e
}

// New creates a new GovRAGError with the given code and message.
// Category, severity, kind, and retryable flag are derived from the code.
func New(code string, message string, cause error) *GovRAGError {
	return &GovRAGError{
		Code:      code,
		Kind:      kindFromCode(code),
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a GovRAGError from an existing error.
// The error's message becomes the GovRAGError message.
func Wrap(code string, err error) *GovRAGError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *GovRAGError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// SessionError creates a session-store-related error.
func SessionError(message string, cause error) *GovRAGError {
	return New(ErrCodeSessionPersist, message, cause)
}

// RetrievalError creates a retrieval/index-related error.
// Retrieval errors are typically retryable.
func RetrievalError(message string, cause error) *GovRAGError {
	return New(ErrCodeRetrievalUnavailable, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *GovRAGError {
	return New(ErrCodeInvalidInput, message, cause)
}

// GenerationError creates a generation/model-related error.
func GenerationError(message string, cause error) *GovRAGError {
	return New(ErrCodeGenerationFailed, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *GovRAGError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a GovRAGError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ge, ok := err.(*GovRAGError); ok {
		return ge.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if ge, ok := err.(*GovRAGError); ok {
		return ge.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a GovRAGError.
// Returns empty string if not a GovRAGError.
func GetCode(err error) string {
	if ge, ok := err.(*GovRAGError); ok {
		return ge.Code
	}
	return ""
}

// GetCategory extracts the category from a GovRAGError.
// Returns empty string if not a GovRAGError.
func GetCategory(err error) Category {
	if ge, ok := err.(*GovRAGError); ok {
		return ge.Category
	}
	return ""
}

// GetKind extracts the client-facing Kind from a GovRAGError.
// Returns KindInternal if not a GovRAGError.
func GetKind(err error) Kind {
	if ge, ok := err.(*GovRAGError); ok {
		return ge.Kind
	}
	return KindInternal
}
