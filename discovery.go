package daemon

import (
	"context"
	"path"
)

// Configuration tree layout of module entries.
const (
	DefaultModulesPath = "/hippo:configuration/hippo:modules"

	PropertyClassName = "hipposys:className"
	PropertyCMSOnly   = "hipposys:cmsonly"
	NodeModuleConfig  = "hippo:moduleconfig"
)

// ModuleConfigEntry is one module declared in the configuration tree.
type ModuleConfigEntry struct {
	Name            string
	ClassName       string
	CMSOnly         bool
	HasModuleConfig bool
}

// ModuleConfigPath returns the path of a module's configuration node.
func ModuleConfigPath(modulesPath, name string) string {
	return path.Join(modulesPath, name, NodeModuleConfig)
}

// ReadModuleEntries reads the module entries below modulesPath. Entries
// without a class name are logged and left out.
func ReadModuleEntries(session Session, modulesPath string, logger Logger) ([]ModuleConfigEntry, error) {
	if logger == nil {
		logger = nopLogger{}
	}
	root, err := session.Node(modulesPath)
	if err != nil {
		return nil, err
	}

	children := root.Children()
	entries := make([]ModuleConfigEntry, 0, len(children))
	for _, child := range children {
		className := child.String(PropertyClassName, "")
		if className == "" {
			logger.Error("Skipping module entry", "module", child.Name(), "path", child.Path(),
				"error", ErrModuleConfigMissing)
			continue
		}
		_, hasConfig := child.Child(NodeModuleConfig)
		entries = append(entries, ModuleConfigEntry{
			Name:            child.Name(),
			ClassName:       className,
			CMSOnly:         child.Bool(PropertyCMSOnly, false),
			HasModuleConfig: hasConfig,
		})
	}
	return entries, nil
}

// discover registers the static modules followed by the configured ones.
// Every problem with a single entry is logged and the entry is skipped.
func (m *Manager) discover(ctx context.Context) {
	seen := make(map[string]bool)

	for _, module := range m.static {
		m.registerDiscovered(ctx, ModuleTypeName(module), module, seen)
	}

	entries, err := ReadModuleEntries(m.root, m.modulesPath, m.logger)
	if err != nil {
		m.logger.Warn("No configured modules found", "path", m.modulesPath, "error", err)
		return
	}
	for _, entry := range entries {
		if entry.CMSOnly && m.host != HostCMS {
			m.logger.Info("Skipping CMS-only module", "module", entry.Name, "host", m.host)
			m.emitEvent(ctx, EventTypeModuleExcluded, map[string]any{
				"moduleName": entry.Name,
				"className":  entry.ClassName,
				"host":       string(m.host),
			})
			continue
		}
		if seen[entry.Name] {
			m.logger.Warn("Skipping module with duplicate name", "module", entry.Name, "className", entry.ClassName)
			continue
		}
		module, err := m.factories.New(entry.ClassName)
		if err != nil {
			m.logger.Error("Cannot create configured module", "module", entry.Name, "className", entry.ClassName, "error", err)
			continue
		}
		m.registerDiscovered(ctx, entry.Name, module, seen)
	}
}

func (m *Manager) registerDiscovered(ctx context.Context, name string, module DaemonModule, seen map[string]bool) {
	if seen[name] {
		m.logger.Warn("Skipping module with duplicate name", "module", name, "type", ModuleTypeName(module))
		return
	}
	reg, err := m.registry.Register(name, module)
	if err != nil {
		m.logger.Error("Cannot register module", "module", name, "error", err)
		return
	}
	seen[name] = true
	m.emitEvent(ctx, EventTypeModuleRegistered, map[string]any{
		"moduleName": reg.Name(),
		"moduleType": reg.TypeName(),
	})
}
