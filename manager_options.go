package daemon

import "fmt"

// ManagerOption configures a Manager.
type ManagerOption func(*Manager) error

// WithStaticModules adds modules that are always registered, under their
// type name, ahead of the configured modules.
func WithStaticModules(modules ...DaemonModule) ManagerOption {
	return func(m *Manager) error {
		for _, module := range modules {
			if module == nil {
				return fmt.Errorf("static module: %w", ErrModuleNil)
			}
			m.static = append(m.static, module)
		}
		return nil
	}
}

// WithFactories sets the registry configured class names are resolved in.
func WithFactories(factories *FactoryRegistry) ManagerOption {
	return func(m *Manager) error {
		if factories != nil {
			m.factories = factories
		}
		return nil
	}
}

// WithHostCategory tells the manager what kind of process hosts it.
// The default is HostPlatform.
func WithHostCategory(host HostCategory) ManagerOption {
	return func(m *Manager) error {
		switch host {
		case HostPlatform, HostCMS:
			m.host = host
			return nil
		default:
			return fmt.Errorf("%w: %q", ErrUnknownHostCategory, host)
		}
	}
}

// WithModulesPath sets the configuration path module entries are read from.
func WithModulesPath(path string) ManagerOption {
	return func(m *Manager) error {
		if path != "" {
			m.modulesPath = path
		}
		return nil
	}
}

// WithStrictDependencies controls whether an unresolved required service
// aborts Start. It is on by default.
func WithStrictDependencies(strict bool) ManagerOption {
	return func(m *Manager) error {
		m.strict = strict
		return nil
	}
}

// WithModuleCredentials overrides the identity module sessions are
// impersonated as.
func WithModuleCredentials(creds Credentials) ManagerOption {
	return func(m *Manager) error {
		if creds.UserID == "" {
			return fmt.Errorf("module credentials: %w", ErrCredentialsEmpty)
		}
		m.credentials = creds
		return nil
	}
}

// WithObserver registers an observer before the manager starts.
func WithObserver(observer Observer, eventTypes ...string) ManagerOption {
	return func(m *Manager) error {
		return m.RegisterObserver(observer, eventTypes...)
	}
}
