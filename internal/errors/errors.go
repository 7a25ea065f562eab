// Package errors provides a lightweight structured error type (CoordError)
// for category-based classification and retry semantics, plus the typed
// domain errors surfaced by the coordinator core.
package errors

import (
	"fmt"
)

// ErrorCategory represents the category of a coordinator error for classification
type ErrorCategory string

const (
	// User-facing configuration and input errors
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"

	// Structural conflicts in the module set
	CategoryDependency ErrorCategory = "dependency"
	CategoryRegistry   ErrorCategory = "registry"

	// External collaborator errors
	CategoryPersistence ErrorCategory = "persistence"
	CategoryChangeset   ErrorCategory = "changeset"

	// Runtime and infrastructure errors
	CategoryRuntime  ErrorCategory = "runtime"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
	SeverityInfo    ErrorSeverity = "info"    // Informational, no impact
)

// CoordError is a structured error with category, retryability, and context
type CoordError struct {
	Category  ErrorCategory `json:"category"`
	Severity  ErrorSeverity `json:"severity"`
	Message   string        `json:"message"`
	Cause     error         `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for CoordError
type ContextFields map[string]any

// Error implements the error interface
func (e *CoordError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *CoordError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *CoordError) WithContext(key string, value any) *CoordError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new CoordError
func New(category ErrorCategory, severity ErrorSeverity, message string) *CoordError {
	return &CoordError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: false,
	}
}

// Wrap creates a new CoordError that wraps an existing error
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *CoordError {
	return &CoordError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: false,
	}
}

// Retryable creates a new retryable CoordError
func Retryable(category ErrorCategory, severity ErrorSeverity, message string) *CoordError {
	return &CoordError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: true,
	}
}

// ValidationError creates a new validation error
func ValidationError(message string) *CoordError {
	return &CoordError{
		Category:  CategoryValidation,
		Severity:  SeverityWarning,
		Message:   message,
		Retryable: false,
	}
}

// IsCategory checks if an error belongs to a specific category
func IsCategory(err error, category ErrorCategory) bool {
	if ce, ok := err.(*CoordError); ok {
		return ce.Category == category
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if ce, ok := err.(*CoordError); ok {
		return ce.Retryable
	}
	return false
}

// GetCategory extracts the category from an error, or returns CategoryInternal if not a CoordError
func GetCategory(err error) ErrorCategory {
	if ce, ok := err.(*CoordError); ok {
		return ce.Category
	}
	return CategoryInternal
}
