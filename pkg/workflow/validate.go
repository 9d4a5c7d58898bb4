package workflow

import (
	"fmt"
	"strings"
)

// ValidationResult collects definition-time problems. Errors block
// execution; warnings do not.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// IsValid reports whether no errors were collected.
func (r *ValidationResult) IsValid() bool { return len(r.Errors) == 0 }

// AddError records a blocking problem.
func (r *ValidationResult) AddError(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// AddWarning records a non-blocking problem.
func (r *ValidationResult) AddWarning(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// String renders errors and warnings for CLI display.
func (r *ValidationResult) String() string {
	var b strings.Builder
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "error: %s\n", e)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}
	return b.String()
}

// Validate performs every definition-time check: schema constraints, step
// name uniqueness, dependency resolution, acyclicity, and reference
// discipline (a step's ${...} params may only reach steps in its own
// transitive dependsOn set, or declared variables).
func (d *Definition) Validate() *ValidationResult {
	result := &ValidationResult{}

	if err := structValidator.Struct(d); err != nil {
		result.AddError("schema: %v", err)
		return result
	}

	byName := make(map[string]*Step, len(d.Steps))
	for i := range d.Steps {
		step := &d.Steps[i]
		if _, dup := byName[step.Name]; dup {
			result.AddError("duplicate step name %q", step.Name)
			continue
		}
		byName[step.Name] = step
	}

	for _, step := range d.Steps {
		for _, dep := range step.DependsOn {
			if dep == step.Name {
				result.AddError("step %q depends on itself", step.Name)
			} else if _, ok := byName[dep]; !ok {
				result.AddError("step %q depends on undefined step %q", step.Name, dep)
			}
		}
		for _, peer := range step.ParallelWith {
			if _, ok := byName[peer]; !ok {
				result.AddWarning("step %q lists unknown step %q in parallel_with", step.Name, peer)
			}
		}
	}

	if !result.IsValid() {
		return result
	}

	if cycle := d.findCycle(); cycle != "" {
		result.AddError("dependency cycle detected at step %q", cycle)
		return result
	}

	d.validateReferences(result)
	return result
}

// findCycle runs a DFS with temporary marks over DependsOn edges and returns
// the name of a step on a cycle, or "".
func (d *Definition) findCycle() string {
	const (
		white = iota // unvisited
		grey         // on the current DFS path
		black        // fully explored
	)

	color := make(map[string]int, len(d.Steps))
	byName := make(map[string]*Step, len(d.Steps))
	for i := range d.Steps {
		byName[d.Steps[i].Name] = &d.Steps[i]
	}

	var visit func(name string) string
	visit = func(name string) string {
		color[name] = grey
		for _, dep := range byName[name].DependsOn {
			switch color[dep] {
			case grey:
				return dep
			case white:
				if hit := visit(dep); hit != "" {
					return hit
				}
			}
		}
		color[name] = black
		return ""
	}

	for _, step := range d.Steps {
		if color[step.Name] == white {
			if hit := visit(step.Name); hit != "" {
				return hit
			}
		}
	}
	return ""
}

// validateReferences checks every ${...} token in step params against the
// step's transitive dependency set and the declared variables.
func (d *Definition) validateReferences(result *ValidationResult) {
	byName := make(map[string]bool, len(d.Steps))
	for _, step := range d.Steps {
		byName[step.Name] = true
	}

	for _, step := range d.Steps {
		deps := d.TransitiveDeps(step.Name)
		for _, ref := range ExtractRefs(step.Params) {
			if ref.IsVariable() {
				if _, ok := d.Variables[ref.Path]; !ok {
					result.AddError("step %q references undeclared variable %q", step.Name, ref.Path)
				}
				continue
			}
			if !byName[ref.Step] {
				result.AddError("step %q references undefined step %q in params", step.Name, ref.Step)
				continue
			}
			if !deps[ref.Step] {
				result.AddError("step %q references step %q which is not among its dependencies", step.Name, ref.Step)
			}
		}
	}
}
