// Package daemon orchestrates the lifecycle of long-lived backend services
// ("daemon modules") hosted by the content repository process.
//
// Modules are discovered from a static list and from configuration nodes,
// ordered by the services they provide and require, started one after the
// other with a dedicated impersonated session each, and stopped in the exact
// reverse order.
//
// Basic usage:
//
//	mgr, err := daemon.NewManager(rootSession, logger,
//		daemon.WithStaticModules(scheduler.NewModule(logger)),
//		daemon.WithFactories(factories),
//	)
//	if err != nil {
//		return err
//	}
//	if err := mgr.Start(ctx); err != nil {
//		return err
//	}
//	defer mgr.Stop(ctx)
package daemon

import (
	"context"
	"reflect"
)

// DaemonModule is a long-lived backend service with a start/stop lifecycle.
//
// Initialize is called once, in dependency order, with a session that belongs
// to the module until Shutdown returns. Shutdown is called once during the
// manager's stop pass, in reverse dependency order, even when Initialize
// failed, so it must tolerate a module that never fully came up.
type DaemonModule interface {
	Initialize(ctx context.Context, session Session) error
	Shutdown(ctx context.Context) error
}

// ConfigurableDaemonModule is implemented by modules that read their own
// configuration node. Configure is called right before Initialize with a
// read-only view of the module's configuration node.
type ConfigurableDaemonModule interface {
	DaemonModule
	Configure(config ConfigNode) error
}

// ReconfigurableDaemonModule is implemented by modules that accept
// configuration changes while running.
//
// Reconfigure is serialized against the module's own lifecycle transitions.
// Long-running implementations should return early once ctx is done.
type ReconfigurableDaemonModule interface {
	ConfigurableDaemonModule
	Reconfigure(ctx context.Context, config ConfigNode) error
}

// DependencyDeclarer is implemented by modules that declare their
// dependencies themselves. Metadata can also be passed alongside the module
// at registration time, see ModuleRegistry.RegisterWithDependencies.
type DependencyDeclarer interface {
	Dependencies() Dependencies
}

// TypeNamer lets a module choose the type identifier other modules refer to
// in their After hints. Without it the Go type name is used.
type TypeNamer interface {
	TypeName() string
}

// Dependencies is the declared dependency metadata of a module.
type Dependencies struct {
	// Provides lists the service identifiers the module makes available.
	Provides []string `yaml:"provides" toml:"provides" json:"provides"`

	// Requires lists the service identifiers the module consumes.
	Requires []string `yaml:"requires" toml:"requires" json:"requires"`

	// Optional marks requirements as optional, positionally aligned with
	// Requires. When its length does not match Requires every requirement is
	// treated as required.
	Optional []bool `yaml:"optional" toml:"optional" json:"optional"`

	// After lists module type identifiers that must start before this module
	// without a service relation between them.
	After []string `yaml:"after" toml:"after" json:"after"`
}

// HostCategory tells the manager what kind of process hosts it. Modules
// configured as CMS-only are skipped on any other host.
type HostCategory string

const (
	// HostPlatform is a repository process without the CMS web application.
	HostPlatform HostCategory = "platform"

	// HostCMS is a process that also serves the CMS web application.
	HostCMS HostCategory = "cms"
)

// ModuleState is the lifecycle state of a registered module.
type ModuleState string

const (
	ModuleStateRegistered ModuleState = "registered"
	ModuleStateStarted    ModuleState = "started"
	ModuleStateStopped    ModuleState = "stopped"
)

// ModuleTypeName returns the type identifier used for After hints.
func ModuleTypeName(module DaemonModule) string {
	if namer, ok := module.(TypeNamer); ok {
		return namer.TypeName()
	}
	t := reflect.TypeOf(module)
	if t == nil {
		return ""
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.String()
}
