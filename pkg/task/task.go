// Package task defines the contract every aegis unit of work implements and
// the per-execution instance bookkeeping shared by the registry and the
// workflow engine.
package task

import (
	"context"
	"time"

	"github.com/aegis-sec/aegis/pkg/runctx"
	"github.com/spf13/cast"
)

// Task is the capability interface for a unit of work. Implementations must
// be safe to execute concurrently with unrelated tasks sharing the same
// read-only run context, must honor ctx cancellation promptly, and must not
// retry internally; retry is an engine-level policy.
type Task interface {
	// Validate checks that all required parameters are present and
	// well-formed. It returns a *ValidationError enumerating every
	// violation, not just the first.
	Validate(params Params) error

	// Execute performs the unit of work and returns an opaque structured
	// result. A cancelled ctx must surface as a *CancelledError.
	Execute(ctx context.Context, rc *runctx.Context, params Params) (interface{}, error)
}

// BeforeHook is an optional lifecycle extension run immediately before
// Execute. A non-nil error aborts the execution attempt.
type BeforeHook interface {
	Before(ctx context.Context, rc *runctx.Context, params Params) error
}

// AfterHook is an optional lifecycle extension run after Execute returns,
// whether it succeeded or failed. Hooks run strictly sequentially with
// Execute within a single task.
type AfterHook interface {
	After(ctx context.Context, rc *runctx.Context, params Params, result interface{}, execErr error)
}

// Params is the resolved key/value parameter map handed to a task. Accessors
// coerce loosely typed values (YAML scalars, substituted strings) into the
// type the task expects.
type Params map[string]interface{}

// Has reports whether key is present.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// String returns the parameter coerced to a string, or "" when absent.
func (p Params) String(key string) string {
	return cast.ToString(p[key])
}

// Int returns the parameter coerced to an int, or 0 when absent.
func (p Params) Int(key string) int {
	return cast.ToInt(p[key])
}

// Bool returns the parameter coerced to a bool, or false when absent.
func (p Params) Bool(key string) bool {
	return cast.ToBool(p[key])
}

// Duration returns the parameter coerced to a duration, or 0 when absent or
// malformed.
func (p Params) Duration(key string) time.Duration {
	d, err := cast.ToDurationE(p[key])
	if err != nil {
		return 0
	}
	return d
}

// StringSlice returns the parameter coerced to a string slice.
func (p Params) StringSlice(key string) []string {
	return cast.ToStringSlice(p[key])
}

// Clone returns a shallow copy. The engine clones params before substitution
// so a step never observes another step's resolved values.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
