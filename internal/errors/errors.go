// Package errors provides structured error types for the search engine.
// All errors include a category, code, message, and retryable flag so the
// route layer can turn them into user-actionable responses.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory classifies errors by failure domain.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategorySource     ErrorCategory = "SOURCE"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryQuery      ErrorCategory = "QUERY"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeDatasetNotFound = "DATASET_NOT_FOUND"

	// Source codes
	CodeOversizedSource    = "OVERSIZED_SOURCE"
	CodeUnsupportedLocator = "UNSUPPORTED_LOCATOR"
	CodeRemoteUnavailable  = "REMOTE_UNAVAILABLE"

	// Storage codes
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Query codes
	CodeExecutionFailed = "EXECUTION_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// OversizedThresholdMB is the estimated size above which a generic read
// failure is reported as an oversized source.
const OversizedThresholdMB = 500.0

// OversizedSuggestion is the remediation hint attached to oversized-source errors.
const OversizedSuggestion = "host the file on a storage tier without object size limits, or split it into smaller files"

// SearchError is the structured error type used throughout the system.
type SearchError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *SearchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *SearchError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *SearchError) Is(target error) bool {
	var t *SearchError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new SearchError.
func New(category ErrorCategory, code, message string) *SearchError {
	return &SearchError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new SearchError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *SearchError {
	return &SearchError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *SearchError) WithDetails(details map[string]interface{}) *SearchError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var se *SearchError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a SearchError.
func GetCategory(err error) ErrorCategory {
	var se *SearchError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a SearchError.
func GetCode(err error) string {
	var se *SearchError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// GetDetails extracts the details map from an error chain.
func GetDetails(err error) map[string]interface{} {
	var se *SearchError
	if errors.As(err, &se) {
		return se.Details
	}
	return nil
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategorySource && code == CodeRemoteUnavailable:
		return true
	default:
		return false
	}
}

// ClassifyExecution turns a raw engine error into the oversized-source or
// generic-execution kind. Errors that are already structured pass through.
func ClassifyExecution(err error, fileSizeMB float64) error {
	if err == nil {
		return nil
	}
	var se *SearchError
	if errors.As(err, &se) {
		return err
	}

	msg := err.Error()
	if strings.Contains(msg, "maximum_object_size") ||
		(fileSizeMB > OversizedThresholdMB && strings.Contains(msg, "Could not read")) {
		return NewOversizedSourceError(fileSizeMB, err)
	}
	return Wrap(ErrCategoryQuery, CodeExecutionFailed, msg, err)
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *SearchError {
	return New(ErrCategoryValidation, code, message)
}

func NewSourceError(code, message string) *SearchError {
	return New(ErrCategorySource, code, message)
}

func NewStorageError(code, message string, cause error) *SearchError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewDownloadError(locator string, cause error) *SearchError {
	return Wrap(ErrCategoryStorage, CodeDownloadFailed, fmt.Sprintf("failed to download %s", locator), cause).
		WithDetails(map[string]interface{}{"locator": locator})
}

func NewOversizedSourceError(fileSizeMB float64, cause error) *SearchError {
	msg := fmt.Sprintf("source file (%.1fMB) exceeds the engine read limit", fileSizeMB)
	return Wrap(ErrCategorySource, CodeOversizedSource, msg, cause).WithDetails(map[string]interface{}{
		"file_size_mb": roundTenth(fileSizeMB),
		"suggestion":   OversizedSuggestion,
	})
}

func NewInternalError(message string, cause error) *SearchError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

func roundTenth(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
