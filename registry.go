package daemon

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ModuleRegistry owns the registrations of one manager and computes the
// order they are started and stopped in.
type ModuleRegistry struct {
	mu            sync.RWMutex
	registrations []*ModuleRegistration
	ordered       []*ModuleRegistration
	logger        Logger
}

// NewModuleRegistry creates an empty registry.
func NewModuleRegistry(logger Logger) *ModuleRegistry {
	if logger == nil {
		logger = nopLogger{}
	}
	return &ModuleRegistry{logger: logger}
}

// Register adds module under name, taking its metadata from
// DependencyDeclarer when the module implements it.
//
// Names are not checked for uniqueness here; the manager skips duplicates
// before they reach the registry.
func (r *ModuleRegistry) Register(name string, module DaemonModule) (*ModuleRegistration, error) {
	var deps Dependencies
	if declarer, ok := module.(DependencyDeclarer); ok {
		deps = declarer.Dependencies()
	}
	return r.RegisterWithDependencies(name, module, deps)
}

// RegisterWithDependencies adds module under name with explicitly supplied
// metadata.
func (r *ModuleRegistry) RegisterWithDependencies(name string, module DaemonModule, deps Dependencies) (*ModuleRegistration, error) {
	if module == nil {
		return nil, fmt.Errorf("%w: %s", ErrModuleNil, name)
	}
	if name == "" {
		return nil, ErrModuleNameEmpty
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	reg := newModuleRegistration(name, module, deps, len(r.registrations))
	if reg.optionalMismatch() && len(deps.Optional) > 0 {
		r.logger.Warn("Optional flags do not match requirements, treating all requirements as required",
			"module", name, "requires", len(deps.Requires), "optional", len(deps.Optional))
	}
	r.registrations = append(r.registrations, reg)
	r.ordered = nil

	r.logger.Debug("Registered module", "module", name, "type", reg.typeName,
		"provides", reg.deps.Provides, "requires", reg.deps.Requires, "after", reg.deps.After)
	return reg, nil
}

// Lookup returns the first registration with the given name.
func (r *ModuleRegistry) Lookup(name string) (*ModuleRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, reg := range r.registrations {
		if reg.name == name {
			return reg, true
		}
	}
	return nil, false
}

// Registrations returns all registrations in registration order.
func (r *ModuleRegistry) Registrations() []*ModuleRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.registrations)
}

// Len returns the number of registrations.
func (r *ModuleRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.registrations)
}

// CheckDependencyGraph validates the dependency graph.
//
// An unresolved requirement is logged; when strict is set and the
// requirement is not optional it is returned as ErrRequiredServiceNotFound.
// Any cycle is returned as a *CircularDependencyError.
func (r *ModuleRegistry) CheckDependencyGraph(strict bool) error {
	regs := r.Registrations()

	providers := make(map[string][]*ModuleRegistration)
	for _, reg := range regs {
		for _, svc := range reg.deps.Provides {
			providers[svc] = append(providers[svc], reg)
		}
	}

	var errs []error
	for _, reg := range regs {
		for i, svc := range reg.deps.Requires {
			if found := providers[svc]; len(found) > 0 {
				r.logger.Debug("Resolved required service", "module", reg.name, "service", svc,
					"providers", registrationNames(found))
				continue
			}
			switch {
			case reg.optional[i]:
				r.logger.Warn("Optional service is not provided by any module", "module", reg.name, "service", svc)
			case strict:
				errs = append(errs, fmt.Errorf("%w: module %s requires %s", ErrRequiredServiceNotFound, reg.name, svc))
			default:
				r.logger.Warn("Required service is not provided by any module, module may run degraded",
					"module", reg.name, "service", svc)
			}
		}
	}

	edges := buildEdges(regs)
	cleared := make(map[*ModuleRegistration]bool)
	for _, reg := range regs {
		if err := findCycle(reg, edges, nil, map[*ModuleRegistration]bool{}, cleared); err != nil {
			errs = append(errs, err)
			break
		}
	}

	return errors.Join(errs...)
}

// OrderedRegistrations returns the registrations in start order: every
// module comes after the modules it must start after, and unrelated modules
// keep their registration order.
//
// The order is computed once and reused until the next registration, so
// ReverseOrderedRegistrations always mirrors it.
func (r *ModuleRegistry) OrderedRegistrations() ([]*ModuleRegistration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ordered == nil {
		ordered, err := sortRegistrations(r.registrations)
		if err != nil {
			return nil, err
		}
		r.ordered = ordered
		r.logger.Debug("Module start order", "order", registrationNames(ordered))
	}
	return slices.Clone(r.ordered), nil
}

// ReverseOrderedRegistrations returns the exact reverse of
// OrderedRegistrations.
func (r *ModuleRegistry) ReverseOrderedRegistrations() ([]*ModuleRegistration, error) {
	ordered, err := r.OrderedRegistrations()
	if err != nil {
		return nil, err
	}
	slices.Reverse(ordered)
	return ordered, nil
}

// buildEdges maps every registration to the registrations that must start
// before it, in registration order.
func buildEdges(regs []*ModuleRegistration) map[*ModuleRegistration][]*ModuleRegistration {
	edges := make(map[*ModuleRegistration][]*ModuleRegistration, len(regs))
	for _, reg := range regs {
		edges[reg] = nil
		for _, other := range regs {
			if reg.MustStartAfter(other) {
				edges[reg] = append(edges[reg], other)
			}
		}
	}
	return edges
}

// findCycle walks the must-start-after edges depth first from node. onPath
// is copied for every call so sibling branches never see each other's path.
// Nodes in cleared were fully explored before without finding a cycle.
func findCycle(node *ModuleRegistration, edges map[*ModuleRegistration][]*ModuleRegistration,
	path []*ModuleRegistration, onPath map[*ModuleRegistration]bool, cleared map[*ModuleRegistration]bool,
) error {
	if onPath[node] {
		start := slices.Index(path, node)
		cycle := registrationNames(path[start:])
		return &CircularDependencyError{Cycle: append(cycle, node.name)}
	}
	if cleared[node] {
		return nil
	}

	nextPath := append(slices.Clone(path), node)
	nextOnPath := make(map[*ModuleRegistration]bool, len(onPath)+1)
	for reg := range onPath {
		nextOnPath[reg] = true
	}
	nextOnPath[node] = true

	for _, dep := range edges[node] {
		if err := findCycle(dep, edges, nextPath, nextOnPath, cleared); err != nil {
			return err
		}
	}
	cleared[node] = true
	return nil
}

// sortRegistrations is a Kahn sort that always emits the ready registration
// with the lowest sequence number.
func sortRegistrations(regs []*ModuleRegistration) ([]*ModuleRegistration, error) {
	edges := buildEdges(regs)
	pending := make(map[*ModuleRegistration]int, len(regs))
	dependents := make(map[*ModuleRegistration][]*ModuleRegistration, len(regs))
	for _, reg := range regs {
		pending[reg] = len(edges[reg])
		for _, dep := range edges[reg] {
			dependents[dep] = append(dependents[dep], reg)
		}
	}

	ordered := make([]*ModuleRegistration, 0, len(regs))
	placed := make(map[*ModuleRegistration]bool, len(regs))
	for len(ordered) < len(regs) {
		var next *ModuleRegistration
		for _, reg := range regs {
			if !placed[reg] && pending[reg] == 0 {
				next = reg
				break
			}
		}
		if next == nil {
			cleared := make(map[*ModuleRegistration]bool)
			for _, reg := range regs {
				if placed[reg] {
					continue
				}
				if err := findCycle(reg, edges, nil, map[*ModuleRegistration]bool{}, cleared); err != nil {
					return nil, err
				}
			}
			return nil, ErrCircularDependency
		}
		placed[next] = true
		ordered = append(ordered, next)
		for _, dependent := range dependents[next] {
			pending[dependent]--
		}
	}
	return ordered, nil
}

func registrationNames(regs []*ModuleRegistration) []string {
	names := make([]string, len(regs))
	for i, reg := range regs {
		names[i] = reg.name
	}
	return names
}
