package engine

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/aegis-sec/aegis/pkg/task"
	"github.com/aegis-sec/aegis/pkg/workflow"
)

// substituteParams resolves every ${step.path} and ${var.name} token in a
// step's params against finalized dependency results and workflow
// variables. It returns a new Params map; the definition is never mutated.
//
// Substitution is referentially transparent: the same results and variables
// always yield the same resolved params.
func substituteParams(stepName string, raw map[string]interface{}, results map[string]*task.Instance, variables map[string]interface{}) (task.Params, error) {
	out := make(task.Params, len(raw))
	for key, val := range raw {
		resolved, err := substituteValue(stepName, val, results, variables)
		if err != nil {
			return nil, err
		}
		out[key] = resolved
	}
	return out, nil
}

func substituteValue(stepName string, v interface{}, results map[string]*task.Instance, variables map[string]interface{}) (interface{}, error) {
	switch val := v.(type) {
	case string:
		return substituteString(stepName, val, results, variables)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, nested := range val {
			resolved, err := substituteValue(stepName, nested, results, variables)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, nested := range val {
			resolved, err := substituteValue(stepName, nested, results, variables)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// substituteString resolves tokens inside a string value. When the whole
// string is a single token the referenced value is passed through with its
// original type; otherwise resolved values are stringified in place.
func substituteString(stepName, s string, results map[string]*task.Instance, variables map[string]interface{}) (interface{}, error) {
	matches := tokenMatches(s)
	if len(matches) == 0 {
		return s, nil
	}

	if len(matches) == 1 && matches[0].raw == s {
		return resolveRef(stepName, matches[0].ref, results, variables)
	}

	resolved := s
	for _, m := range matches {
		val, err := resolveRef(stepName, m.ref, results, variables)
		if err != nil {
			return nil, err
		}
		resolved = strings.Replace(resolved, m.raw, fmt.Sprintf("%v", val), 1)
	}
	return resolved, nil
}

type tokenMatch struct {
	raw string
	ref workflow.Ref
}

func tokenMatches(s string) []tokenMatch {
	refs := workflow.ExtractRefs(map[string]interface{}{"": s})
	out := make([]tokenMatch, len(refs))
	for i, r := range refs {
		out[i] = tokenMatch{raw: r.Raw, ref: r}
	}
	return out
}

func resolveRef(stepName string, ref workflow.Ref, results map[string]*task.Instance, variables map[string]interface{}) (interface{}, error) {
	if ref.IsVariable() {
		val, ok := variables[ref.Path]
		if !ok {
			return nil, &SubstitutionError{Step: stepName, Token: ref.Raw, Reason: "variable is not declared"}
		}
		return val, nil
	}

	inst, ok := results[ref.Step]
	if !ok {
		return nil, &SubstitutionError{Step: stepName, Token: ref.Raw, Reason: fmt.Sprintf("step %q has no recorded result", ref.Step)}
	}
	result, ok := inst.Result()
	if !ok {
		return nil, &SubstitutionError{Step: stepName, Token: ref.Raw, Reason: fmt.Sprintf("step %q produced no result", ref.Step)}
	}

	val, err := navigatePath(result, ref.Path)
	if err != nil {
		return nil, &SubstitutionError{Step: stepName, Token: ref.Raw, Reason: err.Error()}
	}
	return val, nil
}

// navigatePath walks a dotted path through maps and exported struct fields.
// An empty path returns the value itself.
func navigatePath(v interface{}, path string) (interface{}, error) {
	if path == "" {
		return v, nil
	}

	current := v
	for _, segment := range strings.Split(path, ".") {
		next, err := navigateSegment(current, segment)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

func navigateSegment(v interface{}, segment string) (interface{}, error) {
	if v == nil {
		return nil, fmt.Errorf("cannot descend into nil value at %q", segment)
	}

	if m, ok := v.(map[string]interface{}); ok {
		val, exists := m[segment]
		if !exists {
			return nil, fmt.Errorf("key %q not found", segment)
		}
		return val, nil
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, fmt.Errorf("cannot descend into nil pointer at %q", segment)
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		mv := rv.MapIndex(reflect.ValueOf(segment))
		if !mv.IsValid() {
			return nil, fmt.Errorf("key %q not found", segment)
		}
		return mv.Interface(), nil
	case reflect.Struct:
		if fv := rv.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, segment)
		}); fv.IsValid() && fv.CanInterface() {
			return fv.Interface(), nil
		}
		// Fall back to json tags so tasks returning tagged structs can be
		// referenced by their wire names.
		rt := rv.Type()
		for i := 0; i < rt.NumField(); i++ {
			tag := rt.Field(i).Tag.Get("json")
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == segment && rv.Field(i).CanInterface() {
				return rv.Field(i).Interface(), nil
			}
		}
		return nil, fmt.Errorf("field %q not found", segment)
	default:
		return nil, fmt.Errorf("cannot descend into %s value with segment %q", rv.Kind(), segment)
	}
}
