package task

import (
	"fmt"
	"sync"
	"time"
)

// Status is the lifecycle state of a task instance.
type Status int

const (
	StatusPending Status = iota
	StatusWaiting
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusSkipped
	StatusTimedOut
)

// String returns the string representation of the Status value.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusWaiting:
		return "waiting"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	case StatusTimedOut:
		return "timeout"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Instance is the ephemeral record of one task execution. A new Instance is
// created per attempt sequence; re-running a step never mutates a prior
// instance. The result is written at most once.
type Instance struct {
	// TaskName is the registry name the instance was created from.
	TaskName string

	// Params is the fully resolved parameter map the task ran with.
	Params Params

	StartedAt  time.Time
	FinishedAt time.Time

	// Attempts counts Execute invocations, including retries.
	Attempts int

	Status Status

	// Err holds the terminal error for failed/timed-out instances.
	Err error

	mu        sync.Mutex
	result    interface{}
	resultSet bool

	task Task
}

// NewInstance creates a pending instance bound to the given task
// implementation.
func NewInstance(taskName string, impl Task, params Params) *Instance {
	return &Instance{
		TaskName: taskName,
		Params:   params,
		Status:   StatusPending,
		task:     impl,
	}
}

// Task returns the bound task implementation.
func (i *Instance) Task() Task { return i.task }

// SetResult records the execution result. It errors if a result was already
// recorded; a step's output is finalized exactly once.
func (i *Instance) SetResult(v interface{}) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.resultSet {
		return fmt.Errorf("result for task %q already recorded", i.TaskName)
	}
	i.result = v
	i.resultSet = true
	return nil
}

// Result returns the recorded result and whether one was set.
func (i *Instance) Result() (interface{}, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.result, i.resultSet
}

// Duration returns the wall-clock execution time, or 0 when the instance has
// not finished.
func (i *Instance) Duration() time.Duration {
	if i.StartedAt.IsZero() || i.FinishedAt.IsZero() {
		return 0
	}
	return i.FinishedAt.Sub(i.StartedAt)
}
