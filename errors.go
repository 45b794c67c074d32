package daemon

import (
	"errors"
	"fmt"
	"strings"
)

// Manager and registry errors
var (
	// Dependency graph errors
	ErrCircularDependency      = errors.New("circular dependency detected")
	ErrRequiredServiceNotFound = errors.New("required service not found for module")

	// Registration errors
	ErrSessionAlreadyAttached = errors.New("session already attached to module")
	ErrSessionNotAttached     = errors.New("no session attached to module")
	ErrSessionNil             = errors.New("session is nil")
	ErrModuleNil              = errors.New("module is nil")
	ErrModuleNameEmpty        = errors.New("module name is empty")

	// Manager errors
	ErrManagerAlreadyStarted    = errors.New("module manager already started")
	ErrManagerNotRunning        = errors.New("module manager is not running")
	ErrRootSessionNil           = errors.New("root session is nil")
	ErrModuleNotFound           = errors.New("module not found")
	ErrModuleNotStarted         = errors.New("module is not started")
	ErrModuleNotReconfigurable  = errors.New("module does not support reconfiguration")
	ErrReconfigurationCancelled = errors.New("reconfiguration cancelled")
	ErrUnknownHostCategory      = errors.New("unknown host category")
	ErrCredentialsEmpty         = errors.New("credentials have no user id")
	ErrModulePanicked           = errors.New("module panicked")

	// Discovery errors
	ErrUnknownModuleClass  = errors.New("no factory registered for module class")
	ErrFactoryExists       = errors.New("factory already registered for module class")
	ErrModuleConfigMissing = errors.New("module configuration entry has no class name")

	// Observer errors
	ErrObserverNil = errors.New("observer is nil")
)

// CircularDependencyError reports a dependency cycle. Cycle lists the module
// names on the cycle in traversal order, starting and ending with the same
// module.
type CircularDependencyError struct {
	Cycle []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCircularDependency, strings.Join(e.Cycle, ", "))
}

func (e *CircularDependencyError) Unwrap() error {
	return ErrCircularDependency
}
