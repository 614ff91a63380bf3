package errors

import (
	"fmt"
)

// PipeError is the structured error type for docpipe.
// It provides rich context for error handling, logging, and user presentation.
type PipeError struct {
	// Code is the unique error code (e.g., "ERR_201_STORAGE_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Oracle, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *PipeError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *PipeError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with PipeError.
func (e *PipeError) Is(target error) bool {
	if t, ok := target.(*PipeError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *PipeError) WithDetail(key, value string) *PipeError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new PipeError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *PipeError {
	return &PipeError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a PipeError from an existing error.
// The error's message becomes the PipeError message.
func Wrap(code string, err error) *PipeError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// StorageError creates a metadata-store error. Ingestion must abort on
// these before any conversion or embedding cost is incurred.
func StorageError(message string, cause error) *PipeError {
	return New(ErrCodeStorageUnavailable, message, cause)
}

// ConversionError creates a document-conversion error.
// Fatal to ingestion of that document, retryable by re-upload.
func ConversionError(message string, cause error) *PipeError {
	return New(ErrCodeConversionFailed, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *PipeError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *PipeError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a PipeError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if pe, ok := err.(*PipeError); ok {
		return pe.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if pe, ok := err.(*PipeError); ok {
		return pe.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a PipeError.
// Returns empty string if not a PipeError.
func GetCode(err error) string {
	if pe, ok := err.(*PipeError); ok {
		return pe.Code
	}
	return ""
}

// GetCategory extracts the category from a PipeError.
// Returns empty string if not a PipeError.
func GetCategory(err error) Category {
	if pe, ok := err.(*PipeError); ok {
		return pe.Category
	}
	return ""
}
