package errors

import (
	"errors"
	"fmt"
)

// QAError is the structured error type for the QA service. It carries
// enough context for logging, retry decisions, and user presentation.
type QAError struct {
	// Code is the unique error code (e.g., "ERR_301_NETWORK_TIMEOUT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Network, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable hint for the operator.
	Suggestion string
}

// Error implements the error interface.
func (e *QAError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *QAError) Unwrap() error {
	return e.Cause
}

// Is matches QAErrors by code so errors.Is works across wrapping.
func (e *QAError) Is(target error) bool {
	if t, ok := target.(*QAError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *QAError) WithDetail(key, value string) *QAError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable hint for the operator.
// Returns the error for method chaining.
func (e *QAError) WithSuggestion(suggestion string) *QAError {
	e.Suggestion = suggestion
	return e
}

// New creates a QAError with the given code and message. Category,
// severity, and the retryable flag are derived from the code.
func New(code string, message string, cause error) *QAError {
	return &QAError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a QAError from an existing error.
// The error's message becomes the QAError message.
func Wrap(code string, err error) *QAError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *QAError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StorageError creates a document store / cache / index error.
func StorageError(message string, cause error) *QAError {
	return New(ErrCodeStoreUnavailable, message, cause)
}

// NetworkError creates a network-related error.
// Network errors are typically retryable.
func NetworkError(message string, cause error) *QAError {
	return New(ErrCodeNetworkTimeout, message, cause)
}

// ContentError creates an invalid-or-unsupported-content error.
func ContentError(message string, cause error) *QAError {
	return New(ErrCodeUnsupportedContent, message, cause)
}

// ExternalError creates a collaborator-contract error.
func ExternalError(message string, cause error) *QAError {
	return New(ErrCodeLLMMalformed, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *QAError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable. It unwraps, so a QAError
// wrapped with %w still classifies.
func IsRetryable(err error) bool {
	var qe *QAError
	if errors.As(err, &qe) {
		return qe.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	var qe *QAError
	if errors.As(err, &qe) {
		return qe.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a QAError anywhere in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var qe *QAError
	if errors.As(err, &qe) {
		return qe.Code
	}
	return ""
}

// GetCategory extracts the category from a QAError anywhere in the
// chain. Returns empty string if there is none.
func GetCategory(err error) Category {
	var qe *QAError
	if errors.As(err, &qe) {
		return qe.Category
	}
	return ""
}
