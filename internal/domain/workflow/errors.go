package workflow

import (
	"errors"
	"fmt"
)

// ErrorCode identifies well-known domain error categories.
type ErrorCode string

const (
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"
	ErrCodeDuplicate  ErrorCode = "DUPLICATE_ID"
	ErrCodeDependency ErrorCode = "DEPENDENCY_ERROR"
	ErrCodeCycle      ErrorCode = "CIRCULAR_DEPENDENCY"
	ErrCodeNotFound   ErrorCode = "NOT_FOUND"
	ErrCodeMissing    ErrorCode = "MISSING_REQUIRED"
	ErrCodeExecution  ErrorCode = "EXECUTION_ERROR"
	ErrCodeInterface  ErrorCode = "INTERFACE_ERROR"
	ErrCodeCancelled  ErrorCode = "CANCELLED"
	ErrCodeInternal   ErrorCode = "INTERNAL_ERROR"
)

// ErrWorkflowFailed is returned by executors when at least one node failed.
// The per-node details live in crash files, so telemetry does not capture
// this error as an exception.
var ErrWorkflowFailed = errors.New("workflow did not execute cleanly; check log for details")

// DomainError represents a typed error enriched with contextual data while
// remaining free from infrastructure dependencies.
type DomainError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As usage.
func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is allows errors.Is comparisons against other DomainError values.
func (e *DomainError) Is(target error) bool {
	var domainErr *DomainError
	if !errors.As(target, &domainErr) {
		return false
	}
	return e.Code == domainErr.Code && e.Message == domainErr.Message
}

// WithContext clones the error with additional contextual metadata.
func (e *DomainError) WithContext(ctx map[string]interface{}) *DomainError {
	if e == nil {
		return nil
	}
	merged := make(map[string]interface{}, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		merged[k] = v
	}
	for k, v := range ctx {
		merged[k] = v
	}
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Context: merged,
	}
}

// ToDomainError converts arbitrary errors into DomainErrors, preserving
// existing ones.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var derr *DomainError
	if errors.As(err, &derr) {
		return derr
	}
	return &DomainError{Code: ErrCodeExecution, Message: err.Error(), Cause: err}
}

func newValidationError(message string, context map[string]interface{}) *DomainError {
	return &DomainError{Code: ErrCodeValidation, Message: message, Context: context}
}

func newDuplicateError(identifier string) *DomainError {
	return &DomainError{Code: ErrCodeDuplicate, Message: "duplicate node identifier", Context: map[string]interface{}{
		"node_id": identifier,
	}}
}

func newDependencyError(message string, context map[string]interface{}) *DomainError {
	return &DomainError{Code: ErrCodeDependency, Message: message, Context: context}
}

func newMissingFieldError(field string) *DomainError {
	return &DomainError{Code: ErrCodeMissing, Message: "missing required field", Context: map[string]interface{}{
		"field": field,
	}}
}
