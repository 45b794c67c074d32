package daemon

import (
	"fmt"
	"sort"
	"sync"
)

// ModuleFactory constructs a fresh module instance.
type ModuleFactory func() DaemonModule

// FactoryRegistry resolves the class names found in module configuration
// entries to module constructors.
type FactoryRegistry struct {
	mu        sync.RWMutex
	factories map[string]ModuleFactory
}

// NewFactoryRegistry creates an empty factory registry.
func NewFactoryRegistry() *FactoryRegistry {
	return &FactoryRegistry{factories: make(map[string]ModuleFactory)}
}

// Register binds className to factory.
func (f *FactoryRegistry) Register(className string, factory ModuleFactory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.factories[className]; exists {
		return fmt.Errorf("%w: %s", ErrFactoryExists, className)
	}
	f.factories[className] = factory
	return nil
}

// MustRegister is Register that panics on a duplicate class name. Meant for
// package init blocks.
func (f *FactoryRegistry) MustRegister(className string, factory ModuleFactory) {
	if err := f.Register(className, factory); err != nil {
		panic(err)
	}
}

// New constructs a module for className.
func (f *FactoryRegistry) New(className string) (DaemonModule, error) {
	f.mu.RLock()
	factory, ok := f.factories[className]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModuleClass, className)
	}
	module := factory()
	if module == nil {
		return nil, fmt.Errorf("%w: factory for %s returned nil", ErrModuleNil, className)
	}
	return module, nil
}

// ClassNames returns the registered class names, sorted.
func (f *FactoryRegistry) ClassNames() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.factories))
	for name := range f.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
