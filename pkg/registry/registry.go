// Package registry is the catalogue mapping task names to constructors. A
// Registry is an explicit value owned by the process entry point and passed
// to the engine and CLI; it is append-only after startup and safe for
// concurrent Create calls.
package registry

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/aegis-sec/aegis/pkg/runctx"
	"github.com/aegis-sec/aegis/pkg/task"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sahilm/fuzzy"
)

// EngineVersion is the compatibility version descriptors may constrain
// against via Descriptor.EngineConstraint.
const EngineVersion = "1.0.0"

// maxSuggestions bounds the closest-match hints attached to NotFoundError.
const maxSuggestions = 3

// Factory constructs a fresh task implementation. Each Create call invokes
// the factory so instances never share mutable state.
type Factory func() task.Task

// Descriptor describes a registered task type.
type Descriptor struct {
	// Name is the unique registry key referenced by workflow steps.
	Name string

	// Description is a human-readable summary, searchable via Search.
	Description string

	// Kind is a coarse category (discovery, analysis, reporting, ...) used
	// for CLI listings.
	Kind string

	// Version of the task implementation.
	Version string

	// RequiredParams must all be present when the task is created.
	RequiredParams []string

	// OptionalParams documents accepted but not mandatory keys.
	OptionalParams []string

	// Tags for categorization and filtering.
	Tags []string

	// EngineConstraint is an optional semver constraint on EngineVersion,
	// e.g. ">= 1.0". Registration fails when the running engine does not
	// satisfy it.
	EngineConstraint string

	// Factory constructs the task implementation.
	Factory Factory
}

// Registry holds task descriptors keyed by name.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]*Descriptor
	order       []string
	logger      zerolog.Logger
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		descriptors: make(map[string]*Descriptor),
		logger:      log.With().Str("component", "registry").Logger(),
	}
}

// Register adds a descriptor to the registry. The first registration under a
// name wins; a second one returns a *DuplicateNameError and leaves the
// registry unchanged.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return &InvalidDescriptorError{Reason: "descriptor name cannot be empty"}
	}
	if d.Factory == nil {
		return &InvalidDescriptorError{Name: d.Name, Reason: "descriptor factory cannot be nil"}
	}

	if d.EngineConstraint != "" {
		constraint, err := semver.NewConstraint(d.EngineConstraint)
		if err != nil {
			return &InvalidDescriptorError{Name: d.Name, Reason: "invalid engine constraint: " + err.Error()}
		}
		engineVer := semver.MustParse(EngineVersion)
		if !constraint.Check(engineVer) {
			return &IncompatibleError{Name: d.Name, Constraint: d.EngineConstraint, Engine: EngineVersion}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[d.Name]; exists {
		return &DuplicateNameError{Name: d.Name}
	}

	desc := d
	r.descriptors[d.Name] = &desc
	r.order = append(r.order, d.Name)

	r.logger.Debug().Str("task", d.Name).Str("kind", d.Kind).Msg("task registered")
	return nil
}

// Create looks up the named descriptor, constructs a task instance,
// validates params, and returns a not-yet-executed instance. Unknown names
// yield a *NotFoundError carrying the closest-matching registered names.
func (r *Registry) Create(name string, rc *runctx.Context, params task.Params) (*task.Instance, error) {
	r.mu.RLock()
	desc, exists := r.descriptors[name]
	r.mu.RUnlock()

	if !exists {
		return nil, &NotFoundError{Name: name, Suggestions: r.suggest(name)}
	}

	impl := desc.Factory()
	if params == nil {
		params = task.Params{}
	}

	ve := &task.ValidationError{TaskName: name}
	for _, required := range desc.RequiredParams {
		if !params.Has(required) {
			ve.Add(required, "required parameter is missing")
		}
	}

	if err := impl.Validate(params); err != nil {
		var inner *task.ValidationError
		if !errors.As(err, &inner) {
			return nil, err
		}
		ve.Violations = append(ve.Violations, inner.Violations...)
	}

	if err := ve.OrNil(); err != nil {
		return nil, err
	}

	return task.NewInstance(name, impl, params), nil
}

// Descriptor returns the descriptor registered under name.
func (r *Registry) Descriptor(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[name]
	if !ok {
		return Descriptor{}, false
	}
	return *d, true
}

// List returns all descriptors in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.descriptors[name])
	}
	return out
}

// Search returns descriptors whose name or description contains the query,
// case-insensitive. Substring hits come first in registration order,
// followed by fuzzy name matches ranked by score.
func (r *Registry) Search(query string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q := strings.ToLower(query)
	seen := make(map[string]bool)
	var out []Descriptor

	for _, name := range r.order {
		d := r.descriptors[name]
		if strings.Contains(strings.ToLower(d.Name), q) ||
			strings.Contains(strings.ToLower(d.Description), q) {
			out = append(out, *d)
			seen[name] = true
		}
	}

	for _, m := range fuzzy.Find(query, r.order) {
		if !seen[m.Str] {
			out = append(out, *r.descriptors[m.Str])
			seen[m.Str] = true
		}
	}

	return out
}

// Names returns all registered task names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)
	return names
}

// Len returns the number of registered descriptors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descriptors)
}

// suggest ranks registered names by fuzzy similarity to the unknown name.
func (r *Registry) suggest(name string) []string {
	r.mu.RLock()
	candidates := make([]string, len(r.order))
	copy(candidates, r.order)
	r.mu.RUnlock()

	matches := fuzzy.Find(name, candidates)
	n := len(matches)
	if n > maxSuggestions {
		n = maxSuggestions
	}

	out := make([]string, 0, n)
	for _, m := range matches[:n] {
		out = append(out, m.Str)
	}
	return out
}
