package registry

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// SelectAll is the step-selection literal that expands to the full core
// native set.
const SelectAll = "all"

var (
	// ErrUnknownStep marks a step identifier that resolves to nothing:
	// neither a native table entry nor a registered external step.
	ErrUnknownStep = errors.New("unresolvable step reference")

	// ErrNotAStep marks an external registration that does not satisfy the
	// processing-step capability contract.
	ErrNotAStep = errors.New("not a valid step")

	// ErrConflictingConfig marks a step selected twice with different
	// configurations in one invocation.
	ErrConflictingConfig = errors.New("conflicting step configurations")
)

// Override is a user-supplied configuration for one named step. Supplying
// an override for a step not otherwise selected also selects it.
type Override struct {
	Name   string
	Params Params
}

// StepSpec is an effective step binding for one run: a factory plus its
// merged configuration, resolved once and reused for every file.
type StepSpec struct {
	Name    string
	Factory Factory
	Params  Params
}

// Registry holds the closed native step table plus externally registered
// steps.
type Registry struct {
	native   map[string]Factory
	order    []string
	core     []string
	external map[string]Factory
}

// New builds a Registry over the given native factories. core lists the
// native names the "all" literal expands to, in application order.
func New(natives []Factory, core []string) *Registry {
	r := &Registry{
		native:   make(map[string]Factory, len(natives)),
		core:     core,
		external: map[string]Factory{},
	}
	for _, f := range natives {
		r.native[f.Name()] = f
		r.order = append(r.order, f.Name())
	}
	return r
}

// Register adds an externally supplied step under
// "<namespace>.<factory name>". The factory is capability-checked here so
// a bad registration fails at startup, not mid-run.
func (r *Registry) Register(namespace string, f Factory) error {
	if f == nil {
		return fmt.Errorf("%w: nil factory", ErrNotAStep)
	}
	if namespace == "" || strings.Contains(namespace, ".") {
		return fmt.Errorf("%w: invalid namespace %q", ErrNotAStep, namespace)
	}
	name := f.Name()
	if name == "" || strings.Contains(name, ".") {
		return fmt.Errorf("%w: invalid step name %q", ErrNotAStep, name)
	}
	qualified := namespace + "." + name
	if _, exists := r.external[qualified]; exists {
		return fmt.Errorf("%w: %s is already registered", ErrNotAStep, qualified)
	}
	r.external[qualified] = f
	return nil
}

// Names returns every resolvable step identifier: native names in table
// order, then registered external identifiers sorted.
func (r *Registry) Names() []string {
	out := append([]string{}, r.order...)
	ext := make([]string, 0, len(r.external))
	for name := range r.external {
		ext = append(ext, name)
	}
	sort.Strings(ext)
	return append(out, ext...)
}

// Core returns the native names the "all" literal expands to.
func (r *Registry) Core() []string {
	return append([]string{}, r.core...)
}

// Lookup resolves one identifier. Identifiers containing a dot are
// external references; everything else must be in the native table.
func (r *Registry) Lookup(name string) (Factory, error) {
	if strings.Contains(name, ".") {
		f, ok := r.external[name]
		if !ok {
			return nil, fmt.Errorf("%w: external step %q has not been registered", ErrUnknownStep, name)
		}
		return f, nil
	}
	f, ok := r.native[name]
	if !ok {
		return nil, fmt.Errorf(
			"%w: %q is not a native step (external steps use the <namespace>.<name> form)",
			ErrUnknownStep, name)
	}
	return f, nil
}

// Select resolves a step-selection list plus per-step overrides into the
// run's effective StepSpecs. Configuration is merged here, once per run.
// The "all" literal expands to the core set and suppresses every other
// explicitly named step, surfaced through warn rather than silently.
func (r *Registry) Select(names []string, overrides []Override, warn func(string)) ([]StepSpec, error) {
	if containsAll(names) {
		var suppressed []string
		for _, n := range names {
			if n != SelectAll {
				suppressed = append(suppressed, n)
			}
		}
		if len(suppressed) > 0 && warn != nil {
			warn(fmt.Sprintf(
				"step selection %q expands the full core set; ignoring explicitly named steps: %s",
				SelectAll, strings.Join(suppressed, ", ")))
		}
		names = r.Core()
	}

	type entry struct {
		name   string
		params Params // nil means defaults only
	}
	var (
		entries []entry
		index   = map[string]int{}
	)
	for _, n := range names {
		if _, ok := index[n]; ok {
			continue
		}
		index[n] = len(entries)
		entries = append(entries, entry{name: n})
	}
	for _, ov := range overrides {
		if i, ok := index[ov.Name]; ok {
			if entries[i].params != nil && !reflect.DeepEqual(entries[i].params, ov.Params) {
				return nil, fmt.Errorf("%w: step %s configured twice with different options",
					ErrConflictingConfig, ov.Name)
			}
			entries[i].params = ov.Params
			continue
		}
		index[ov.Name] = len(entries)
		entries = append(entries, entry{name: ov.Name, params: ov.Params})
	}

	specs := make([]StepSpec, 0, len(entries))
	for _, e := range entries {
		f, err := r.Lookup(e.name)
		if err != nil {
			return nil, err
		}
		merged, err := Effective(f, e.params)
		if err != nil {
			return nil, err
		}
		specs = append(specs, StepSpec{Name: e.name, Factory: f, Params: merged})
	}
	return specs, nil
}

func containsAll(names []string) bool {
	for _, n := range names {
		if n == SelectAll {
			return true
		}
	}
	return false
}
