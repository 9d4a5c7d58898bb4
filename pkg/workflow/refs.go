package workflow

import (
	"regexp"
	"strings"
)

// varPrefix marks references to workflow variables, e.g. ${var.target}.
const varPrefix = "var"

// tokenPattern matches ${step.path} and ${var.name} references inside
// parameter values.
var tokenPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_-]+(?:\.[A-Za-z0-9_-]+)*)\}`)

// Ref is a parsed ${...} reference found in a step's params.
type Ref struct {
	// Raw is the full token including the ${} wrapper.
	Raw string

	// Step is the referenced step name, or "var" for variable references.
	Step string

	// Path is the dotted path into the step's result (may be empty), or
	// the variable name for variable references.
	Path string
}

// IsVariable reports whether the reference targets a workflow variable.
func (r Ref) IsVariable() bool { return r.Step == varPrefix }

// ParseRef splits a matched token body into step and path.
func ParseRef(raw, body string) Ref {
	step, path, _ := strings.Cut(body, ".")
	return Ref{Raw: raw, Step: step, Path: path}
}

// ExtractRefs walks a parameter map and returns every ${...} reference found
// in string values, including strings nested in maps and slices.
func ExtractRefs(params map[string]interface{}) []Ref {
	var refs []Ref
	for _, v := range params {
		refs = append(refs, extractFromValue(v)...)
	}
	return refs
}

func extractFromValue(v interface{}) []Ref {
	var refs []Ref
	switch val := v.(type) {
	case string:
		for _, m := range tokenPattern.FindAllStringSubmatch(val, -1) {
			refs = append(refs, ParseRef(m[0], m[1]))
		}
	case map[string]interface{}:
		for _, nested := range val {
			refs = append(refs, extractFromValue(nested)...)
		}
	case []interface{}:
		for _, nested := range val {
			refs = append(refs, extractFromValue(nested)...)
		}
	}
	return refs
}
