package utils

import (
	"fmt"
	"strings"
)

// Error carries the operation that failed alongside the underlying cause,
// so a single renewal run can report per-domain failures with context.
type Error struct {
	Operation string   // What was being done, e.g. "renew example.com"
	Cause     error    // The underlying error
	Details   []string // Additional context
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	if e.Operation != "" {
		parts = append(parts, e.Operation)
	}

	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	if len(e.Details) > 0 {
		parts = append(parts, strings.Join(e.Details, "; "))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an operation error with optional context details
func NewError(operation string, cause error, details ...string) *Error {
	return &Error{
		Operation: operation,
		Cause:     cause,
		Details:   details,
	}
}

// Wrapf wraps an error with a formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// MultiError collects errors that are isolated from each other, such as
// renewal failures for independent domains. The run keeps going and the
// collected result decides the final exit status.
type MultiError struct {
	Errors []error
}

// Error implements the error interface
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var messages []string
	for i, err := range m.Errors {
		messages = append(messages, fmt.Sprintf("%d. %s", i+1, err.Error()))
	}
	return fmt.Sprintf("%d errors occurred:\n%s", len(m.Errors), strings.Join(messages, "\n"))
}

// Add adds an error to the collection, ignoring nil
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// Len returns the number of collected errors
func (m *MultiError) Len() int {
	return len(m.Errors)
}

// HasErrors returns true if there are any errors
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// ErrorOrNil returns the collection as an error, or nil when empty
func (m *MultiError) ErrorOrNil() error {
	if m.HasErrors() {
		return m
	}
	return nil
}
