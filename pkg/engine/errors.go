package engine

import (
	"errors"
	"fmt"

	"github.com/aegis-sec/aegis/pkg/registry"
	"github.com/aegis-sec/aegis/pkg/runctx"
	"github.com/aegis-sec/aegis/pkg/task"
	"github.com/aegis-sec/aegis/pkg/workflow"
)

const (
	errorCodeConfig       = "RUN_CONFIG_INVALID"
	errorCodeWorkflow     = "WORKFLOW_INVALID"
	errorCodeNotFound     = "TASK_NOT_FOUND"
	errorCodeDuplicate    = "TASK_DUPLICATE_NAME"
	errorCodeValidation   = "TASK_PARAMS_INVALID"
	errorCodeSubstitution = "STEP_SUBSTITUTION_FAILED"
	errorCodeCancelled    = "RUN_CANCELLED"
	errorCodeTimeout      = "STEP_TIMEOUT"
	errorCodeTaskFailed   = "TASK_FAILED"
)

// ErrSubstitution indicates an unresolvable ${...} token in a step's params.
// It surfaces as that step's failure, never as a crash of the run.
var ErrSubstitution = errors.New("variable substitution failed")

// SubstitutionError wraps ErrSubstitution with the offending token.
type SubstitutionError struct {
	Step   string
	Token  string
	Reason string
}

// Error implements the error interface.
func (e *SubstitutionError) Error() string {
	return fmt.Sprintf("step %q: cannot resolve %s: %s", e.Step, e.Token, e.Reason)
}

// Unwrap returns the underlying error.
func (e *SubstitutionError) Unwrap() error { return ErrSubstitution }

// ErrorCode resolves an error from any core package to its engine error
// code. Unknown errors map to TASK_FAILED.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, runctx.ErrConfig):
		return errorCodeConfig
	case errors.Is(err, workflow.ErrDefinition):
		return errorCodeWorkflow
	case errors.Is(err, registry.ErrNotFound):
		return errorCodeNotFound
	case errors.Is(err, registry.ErrDuplicateName):
		return errorCodeDuplicate
	case errors.Is(err, task.ErrValidation):
		return errorCodeValidation
	case errors.Is(err, ErrSubstitution):
		return errorCodeSubstitution
	case errors.Is(err, task.ErrCancelled):
		return errorCodeCancelled
	case errors.Is(err, task.ErrTimeout):
		return errorCodeTimeout
	default:
		return errorCodeTaskFailed
	}
}

// ExitCode maps errors to CLI exit codes. Structural problems (bad
// definitions, unknown tasks) exit 2; runtime failures exit 1; cancellation
// exits 130 in the usual SIGINT convention.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	switch {
	case errors.Is(err, workflow.ErrDefinition),
		errors.Is(err, runctx.ErrConfig),
		errors.Is(err, registry.ErrNotFound),
		errors.Is(err, registry.ErrDuplicateName),
		errors.Is(err, task.ErrValidation):
		return 2
	case errors.Is(err, task.ErrCancelled):
		return 130
	default:
		return 1
	}
}

// Suggestions provides human readable guidance for CLI usage.
func Suggestions(err error) []string {
	if err == nil {
		return nil
	}

	switch ErrorCode(err) {
	case errorCodeWorkflow:
		return []string{
			"Run aegis workflow validate on the definition file",
			"Fix reported validation errors before running again",
		}
	case errorCodeNotFound:
		return []string{
			"Run aegis task list to see registered tasks",
			"Check the step's task name for typos",
		}
	case errorCodeConfig:
		return []string{
			"Check ENV: references against your environment",
			"Verify the config file path and syntax",
		}
	case errorCodeSubstitution:
		return []string{
			"Check ${step.path} references against the producing task's result shape",
		}
	case errorCodeTimeout:
		return []string{
			"Increase the step's timeout or reduce its workload",
		}
	default:
		return nil
	}
}
