package registry

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by registry operations.
var (
	// ErrNotFound is returned when no task is registered under a name.
	ErrNotFound = errors.New("task not found")

	// ErrDuplicateName is returned when registering a name that already
	// exists. The first registration is retained.
	ErrDuplicateName = errors.New("task name already registered")

	// ErrInvalidDescriptor is returned for malformed descriptors.
	ErrInvalidDescriptor = errors.New("invalid task descriptor")

	// ErrIncompatible is returned when a descriptor's engine constraint is
	// not satisfied by the running engine.
	ErrIncompatible = errors.New("task incompatible with engine version")
)

// NotFoundError wraps ErrNotFound with the unknown name and the
// closest-matching registered names.
type NotFoundError struct {
	Name        string
	Suggestions []string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("no task registered under name %q", e.Name)
	}
	return fmt.Sprintf("no task registered under name %q (did you mean %s?)",
		e.Name, strings.Join(e.Suggestions, ", "))
}

// Unwrap returns the underlying error.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// DuplicateNameError wraps ErrDuplicateName with the colliding name.
type DuplicateNameError struct {
	Name string
}

// Error implements the error interface.
func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("task %q is already registered", e.Name)
}

// Unwrap returns the underlying error.
func (e *DuplicateNameError) Unwrap() error { return ErrDuplicateName }

// InvalidDescriptorError wraps ErrInvalidDescriptor with details.
type InvalidDescriptorError struct {
	Name   string
	Reason string
}

// Error implements the error interface.
func (e *InvalidDescriptorError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("invalid task descriptor: %s", e.Reason)
	}
	return fmt.Sprintf("invalid task descriptor %q: %s", e.Name, e.Reason)
}

// Unwrap returns the underlying error.
func (e *InvalidDescriptorError) Unwrap() error { return ErrInvalidDescriptor }

// IncompatibleError wraps ErrIncompatible with the failed constraint.
type IncompatibleError struct {
	Name       string
	Constraint string
	Engine     string
}

// Error implements the error interface.
func (e *IncompatibleError) Error() string {
	return fmt.Sprintf("task %q requires engine %s, running %s", e.Name, e.Constraint, e.Engine)
}

// Unwrap returns the underlying error.
func (e *IncompatibleError) Unwrap() error { return ErrIncompatible }
