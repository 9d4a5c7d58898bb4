// Package workflow defines the declarative model for multi-step runs: a
// named DAG of steps referencing registered tasks, with dependencies,
// parameters, and per-step policies. Definitions are validated before the
// engine ever schedules a step.
package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so definitions can spell timeouts as "30s"
// in YAML and JSON.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML accepts "250ms"-style strings or integer nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw interface{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := cast.ToDurationE(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON accepts "250ms"-style strings or integer nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := cast.ToDurationE(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %s: %w", data, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON renders the duration in its string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Step is one node in a workflow: a task invocation wrapped with dependency
// and policy metadata.
type Step struct {
	// Name uniquely identifies the step within its workflow.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Task is the registry name of the task to run.
	Task string `yaml:"task" json:"task" validate:"required"`

	// Params may contain ${step.path} references to dependency results and
	// ${var.name} references to workflow variables.
	Params map[string]interface{} `yaml:"params,omitempty" json:"params,omitempty"`

	// DependsOn lists steps that must complete successfully first.
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`

	// ParallelWith is a scheduling hint only; it carries no ordering
	// semantics and unknown names are reported as warnings.
	ParallelWith []string `yaml:"parallel_with,omitempty" json:"parallel_with,omitempty"`

	// Optional steps may fail without failing the run or skipping
	// dependents' unrelated branches.
	Optional bool `yaml:"optional,omitempty" json:"optional,omitempty"`

	// RetryCount is the number of additional Execute attempts after the
	// first failure.
	RetryCount int `yaml:"retry_count,omitempty" json:"retry_count,omitempty" validate:"gte=0"`

	// RetryDelay is the pause between attempts.
	RetryDelay Duration `yaml:"retry_delay,omitempty" json:"retry_delay,omitempty"`

	// Timeout bounds a single execution attempt; zero means no limit.
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Definition is a declarative workflow: a named DAG of steps.
type Definition struct {
	Name        string `yaml:"name" json:"name" validate:"required"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Variables are workflow-scoped values referenced via ${var.name}.
	Variables map[string]interface{} `yaml:"variables,omitempty" json:"variables,omitempty"`

	Steps []Step `yaml:"steps" json:"steps" validate:"required,min=1,dive"`

	// ContinueOnError lets unrelated branches run to completion after a
	// non-optional step fails.
	ContinueOnError bool `yaml:"continue_on_error,omitempty" json:"continue_on_error,omitempty"`

	// MaxParallel bounds concurrently running steps; zero means unbounded.
	MaxParallel int `yaml:"max_parallel,omitempty" json:"max_parallel,omitempty" validate:"gte=0"`
}

// Step returns the step with the given name.
func (d *Definition) Step(name string) (*Step, bool) {
	for i := range d.Steps {
		if d.Steps[i].Name == name {
			return &d.Steps[i], true
		}
	}
	return nil, false
}

// TransitiveDeps returns every step name reachable from the given step via
// DependsOn edges. The step itself is not included.
func (d *Definition) TransitiveDeps(name string) map[string]bool {
	byName := make(map[string]*Step, len(d.Steps))
	for i := range d.Steps {
		byName[d.Steps[i].Name] = &d.Steps[i]
	}

	reached := make(map[string]bool)
	var visit func(n string)
	visit = func(n string) {
		step, ok := byName[n]
		if !ok {
			return
		}
		for _, dep := range step.DependsOn {
			if !reached[dep] {
				reached[dep] = true
				visit(dep)
			}
		}
	}
	visit(name)
	return reached
}

// structValidator performs the struct-tag layer of definition validation.
var structValidator = validator.New()
