package daemon

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// ModuleRegistration holds one module together with its declared metadata
// and the session it owns while started.
type ModuleRegistration struct {
	name     string
	typeName string
	module   DaemonModule
	deps     Dependencies
	optional []bool
	seq      int

	mu      sync.RWMutex
	session Session
	state   ModuleState

	cancelMu  sync.Mutex
	cancelGen uint64
	cancelled bool

	// lock serializes reconfiguration against lifecycle transitions.
	// Holding it means owning its single slot.
	lock chan struct{}
}

func newModuleRegistration(name string, module DaemonModule, deps Dependencies, seq int) *ModuleRegistration {
	deps = Dependencies{
		Provides: slices.Clone(deps.Provides),
		Requires: slices.Clone(deps.Requires),
		Optional: slices.Clone(deps.Optional),
		After:    slices.Clone(deps.After),
	}
	optional := make([]bool, len(deps.Requires))
	if len(deps.Optional) == len(deps.Requires) {
		copy(optional, deps.Optional)
	}
	return &ModuleRegistration{
		name:     name,
		typeName: ModuleTypeName(module),
		module:   module,
		deps:     deps,
		optional: optional,
		seq:      seq,
		state:    ModuleStateRegistered,
		lock:     make(chan struct{}, 1),
	}
}

func (r *ModuleRegistration) Name() string         { return r.name }
func (r *ModuleRegistration) TypeName() string     { return r.typeName }
func (r *ModuleRegistration) Module() DaemonModule { return r.module }

// Provides returns the service identifiers the module provides.
func (r *ModuleRegistration) Provides() []string {
	return cloneOrEmpty(r.deps.Provides)
}

// Requires returns the service identifiers the module requires.
func (r *ModuleRegistration) Requires() []string {
	return cloneOrEmpty(r.deps.Requires)
}

// OptionalFlags returns one flag per entry of Requires. If the declared flags
// did not line up with the requirements, every flag is false.
func (r *ModuleRegistration) OptionalFlags() []bool {
	return cloneOrEmpty(r.optional)
}

// After returns the module types that must start before this one.
func (r *ModuleRegistration) After() []string {
	return cloneOrEmpty(r.deps.After)
}

// optionalMismatch reports whether the declared optional flags were ignored.
func (r *ModuleRegistration) optionalMismatch() bool {
	return len(r.deps.Optional) != len(r.deps.Requires)
}

// MustStartAfter reports whether other has to be started before r: other
// provides a service r requires, or other's type is one of r's After hints.
func (r *ModuleRegistration) MustStartAfter(other *ModuleRegistration) bool {
	for _, provided := range other.deps.Provides {
		if slices.Contains(r.deps.Requires, provided) {
			return true
		}
	}
	return slices.Contains(r.deps.After, other.typeName)
}

// State returns the module's lifecycle state.
func (r *ModuleRegistration) State() ModuleState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *ModuleRegistration) setState(state ModuleState) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
}

// Session returns the attached session, or nil when the module is not started.
func (r *ModuleRegistration) Session() Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.session
}

// HasSession reports whether a session is attached.
func (r *ModuleRegistration) HasSession() bool {
	return r.Session() != nil
}

// AttachSession hands session to the registration and marks the module
// started.
func (r *ModuleRegistration) AttachSession(session Session) error {
	if session == nil {
		return fmt.Errorf("%w: %s", ErrSessionNil, r.name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		return fmt.Errorf("%w: %s", ErrSessionAlreadyAttached, r.name)
	}
	r.session = session
	r.state = ModuleStateStarted
	return nil
}

// DetachSession takes the session back from the registration and marks the
// module stopped. The caller owns the returned session.
func (r *ModuleRegistration) DetachSession() (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotAttached, r.name)
	}
	session := r.session
	r.session = nil
	r.state = ModuleStateStopped
	return session, nil
}

// Acquire blocks until the registration lock is held or ctx is done.
func (r *ModuleRegistration) Acquire(ctx context.Context) error {
	select {
	case r.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("acquire lock for module %s: %w", r.name, ctx.Err())
	}
}

// Release releases the registration lock. Releasing a lock that is not held
// panics, like sync.Mutex.Unlock.
func (r *ModuleRegistration) Release() {
	select {
	case <-r.lock:
	default:
		panic("daemon: release of unlocked module registration " + r.name)
	}
}

// WithLock runs fn while holding the registration lock. The lock is released
// even when fn panics.
func (r *ModuleRegistration) WithLock(ctx context.Context, fn func() error) error {
	if err := r.Acquire(ctx); err != nil {
		return err
	}
	defer r.Release()
	return fn()
}

// Cancel asks an in-flight reconfiguration to stop at its next safe point.
func (r *ModuleRegistration) Cancel() {
	r.cancelMu.Lock()
	defer r.cancelMu.Unlock()
	r.cancelGen++
	r.cancelled = true
}

// IsCancelled reports whether Cancel was called since the flag was last
// cleared.
func (r *ModuleRegistration) IsCancelled() bool {
	r.cancelMu.Lock()
	defer r.cancelMu.Unlock()
	return r.cancelled
}

// cancelGeneration returns a token that cancelledSince compares against.
func (r *ModuleRegistration) cancelGeneration() uint64 {
	r.cancelMu.Lock()
	defer r.cancelMu.Unlock()
	return r.cancelGen
}

// cancelledSince reports whether Cancel was called after gen was taken.
func (r *ModuleRegistration) cancelledSince(gen uint64) bool {
	r.cancelMu.Lock()
	defer r.cancelMu.Unlock()
	return r.cancelGen != gen
}

// clearCancel clears the flag unless Cancel was called after gen was taken.
func (r *ModuleRegistration) clearCancel(gen uint64) {
	r.cancelMu.Lock()
	defer r.cancelMu.Unlock()
	if r.cancelGen == gen {
		r.cancelled = false
	}
}

func (r *ModuleRegistration) String() string {
	return r.name
}

func cloneOrEmpty[T any](s []T) []T {
	if len(s) == 0 {
		return []T{}
	}
	return slices.Clone(s)
}
