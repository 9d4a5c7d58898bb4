package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDefinition is the sentinel for structural workflow problems (cycles,
// dangling references, schema violations) caught before execution starts.
var ErrDefinition = errors.New("invalid workflow definition")

// DefinitionError wraps ErrDefinition with the collected validation errors.
type DefinitionError struct {
	Workflow string
	Issues   []string
}

// NewDefinitionError builds a DefinitionError from a validation result.
func NewDefinitionError(workflow string, result *ValidationResult) *DefinitionError {
	return &DefinitionError{Workflow: workflow, Issues: result.Errors}
}

// Error implements the error interface.
func (e *DefinitionError) Error() string {
	name := e.Workflow
	if name == "" {
		name = "(unnamed)"
	}
	return fmt.Sprintf("workflow %s is invalid: %s", name, strings.Join(e.Issues, "; "))
}

// Unwrap returns the underlying error.
func (e *DefinitionError) Unwrap() error { return ErrDefinition }
