package task

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common errors returned by task execution.
var (
	// ErrValidation is returned when task parameters fail validation.
	ErrValidation = errors.New("invalid task parameters")

	// ErrCancelled is returned when a task execution is cancelled by the
	// run-scoped cancellation signal.
	ErrCancelled = errors.New("task cancelled")

	// ErrTimeout is returned when a task execution exceeds its per-step
	// timeout.
	ErrTimeout = errors.New("task timed out")

	// ErrExecution is the sentinel for domain failures inside Execute.
	ErrExecution = errors.New("task execution failed")
)

// Violation describes a single bad or missing parameter.
type Violation struct {
	Param  string
	Reason string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Param, v.Reason)
}

// ValidationError enumerates every parameter violation found during
// Validate, so batch tooling can report all problems at once.
type ValidationError struct {
	TaskName   string
	Violations []Violation
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return fmt.Sprintf("task %q parameter validation failed: %s", e.TaskName, strings.Join(parts, "; "))
}

// Unwrap returns the underlying sentinel.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// Add appends a violation.
func (e *ValidationError) Add(param, reason string) {
	e.Violations = append(e.Violations, Violation{Param: param, Reason: reason})
}

// OrNil returns the error when violations were collected, nil otherwise.
// Validate implementations accumulate into a ValidationError and finish with
// return ve.OrNil().
func (e *ValidationError) OrNil() error {
	if len(e.Violations) == 0 {
		return nil
	}
	return e
}

// CancelledError wraps ErrCancelled with the task that was interrupted.
type CancelledError struct {
	TaskName string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("task %q cancelled", e.TaskName)
}

func (e *CancelledError) Unwrap() error { return ErrCancelled }

// TimeoutError wraps ErrTimeout with the limit that fired.
type TimeoutError struct {
	TaskName string
	Limit    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %q exceeded timeout %s", e.TaskName, e.Limit)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// ExecError wraps a domain failure from inside Execute.
type ExecError struct {
	TaskName string
	Err      error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("task %q failed: %v", e.TaskName, e.Err)
}

// Unwrap returns the underlying error.
func (e *ExecError) Unwrap() error { return e.Err }

// Is checks if the error matches ErrExecution.
func (e *ExecError) Is(target error) bool { return target == ErrExecution }
