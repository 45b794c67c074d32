package daemon

import (
	"context"
	"errors"
	"fmt"
)

// Reconfigure pushes the current configuration node of the named module to
// it. The push holds the module's registration lock, so it never overlaps the
// module's start or stop, and gives up at the next safe point once
// CancelReconfiguration or Stop is called after it began.
func (m *Manager) Reconfigure(ctx context.Context, name string) error {
	reg, ok := m.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	module, ok := reg.Module().(ReconfigurableDaemonModule)
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotReconfigurable, name)
	}
	gen := reg.cancelGeneration()
	cancelled := func() bool {
		return reg.cancelledSince(gen) || m.State() == ManagerStopping
	}

	err := reg.WithLock(ctx, func() error {
		session := reg.Session()
		if session == nil {
			return fmt.Errorf("%w: %s", ErrModuleNotStarted, name)
		}
		if cancelled() {
			return fmt.Errorf("%w: %s", ErrReconfigurationCancelled, name)
		}
		reg.clearCancel(gen)
		node, found := m.moduleConfig(session, reg)
		if !found {
			return fmt.Errorf("%w: %s", ErrModuleConfigMissing, ModuleConfigPath(m.modulesPath, name))
		}
		if cancelled() {
			return fmt.Errorf("%w: %s", ErrReconfigurationCancelled, name)
		}
		return safeCall(func() error { return module.Reconfigure(ctx, node) })
	})
	if err != nil {
		return err
	}

	m.logger.Info("Reconfigured module", "module", name)
	m.emitEvent(ctx, EventTypeModuleReconfigured, map[string]any{"moduleName": name})
	return nil
}

// CancelReconfiguration abandons the reconfigurations of the named module
// that are already in flight. Later Reconfigure calls are not affected.
func (m *Manager) CancelReconfiguration(name string) error {
	reg, ok := m.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	reg.Cancel()
	m.logger.Debug("Reconfiguration cancelled", "module", name)
	return nil
}

// ReconfigureAll reconfigures every started reconfigurable module in start
// order. Modules without a configuration node keep running on their current
// settings. Other failures are logged per module and joined into the
// returned error.
func (m *Manager) ReconfigureAll(ctx context.Context) error {
	if state := m.State(); state != ManagerRunning {
		return fmt.Errorf("%w: state %s", ErrManagerNotRunning, state)
	}
	ordered, err := m.registry.OrderedRegistrations()
	if err != nil {
		return err
	}

	var errs []error
	for _, reg := range ordered {
		if _, ok := reg.Module().(ReconfigurableDaemonModule); !ok || reg.State() != ModuleStateStarted {
			continue
		}
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		err := m.Reconfigure(ctx, reg.Name())
		if errors.Is(err, ErrModuleConfigMissing) {
			m.logger.Debug("Skipping reconfiguration without configuration node", "module", reg.Name())
			continue
		}
		if err != nil {
			m.logger.Error("Failed to reconfigure module", "module", reg.Name(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
