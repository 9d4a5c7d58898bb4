package engine

import (
	"time"

	"github.com/aegis-sec/aegis/pkg/task"
)

// RunStatus is the aggregate outcome of a workflow run.
type RunStatus string

const (
	// RunCompleted means every step, optional or not, completed.
	RunCompleted RunStatus = "completed"

	// RunPartial means every required step completed but some optional
	// steps failed or were skipped.
	RunPartial RunStatus = "partial"

	// RunFailed means at least one required step did not complete.
	RunFailed RunStatus = "failed"
)

// StepError pairs a step name with its terminal error.
type StepError struct {
	Step string
	Err  error
}

func (e StepError) Error() string {
	return e.Step + ": " + e.Err.Error()
}

// RunReport is the aggregated outcome of a workflow run. A report is always
// produced, even for failed or cancelled runs, so callers can inspect which
// steps succeeded, which failed, and why.
type RunReport struct {
	// RunID uniquely identifies this run.
	RunID string

	WorkflowName string

	StartedAt  time.Time
	FinishedAt time.Time

	// StepResults maps step name to its final task instance.
	StepResults map[string]*task.Instance

	Status RunStatus

	// Errors lists every step that ended in failure, timeout, or
	// cancellation, in declaration order.
	Errors []StepError
}

// Duration returns the wall-clock duration of the run.
func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Step returns the instance recorded for a step name.
func (r *RunReport) Step(name string) (*task.Instance, bool) {
	inst, ok := r.StepResults[name]
	return inst, ok
}
