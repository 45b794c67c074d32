package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ManagerState is the lifecycle state of a Manager.
type ManagerState string

const (
	ManagerIdle           ManagerState = "idle"
	ManagerDiscovering    ManagerState = "discovering"
	ManagerGraphValidated ManagerState = "graph-validated"
	ManagerStarting       ManagerState = "starting"
	ManagerRunning        ManagerState = "running"
	ManagerStopping       ManagerState = "stopping"
	ManagerStopped        ManagerState = "stopped"

	// ManagerFailed is entered when Start returns a fatal error. No module
	// was touched; Stop only releases the root session.
	ManagerFailed ManagerState = "failed"
)

// Manager discovers daemon modules, starts them in dependency order with a
// session of their own, and stops them in the exact reverse order.
//
// A Manager is single use: Start and Stop are each called once.
type Manager struct {
	root        Session
	logger      Logger
	registry    *ModuleRegistry
	factories   *FactoryRegistry
	static      []DaemonModule
	host        HostCategory
	modulesPath string
	strict      bool
	credentials Credentials

	mu    sync.RWMutex
	state ManagerState

	observerMu sync.RWMutex
	observers  map[string]*observerRegistration
}

// NewManager creates a manager that derives module sessions from root.
func NewManager(root Session, logger Logger, opts ...ManagerOption) (*Manager, error) {
	if root == nil {
		return nil, ErrRootSessionNil
	}
	if logger == nil {
		logger = nopLogger{}
	}
	m := &Manager{
		root:        root,
		logger:      logger,
		registry:    NewModuleRegistry(logger),
		factories:   NewFactoryRegistry(),
		host:        HostPlatform,
		modulesPath: DefaultModulesPath,
		strict:      true,
		credentials: SystemCredentials,
		state:       ManagerIdle,
		observers:   make(map[string]*observerRegistration),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry returns the manager's module registry.
func (m *Manager) Registry() *ModuleRegistry {
	return m.registry
}

// State returns the manager's lifecycle state.
func (m *Manager) State() ManagerState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) setState(state ManagerState) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

// Start discovers the modules, validates the dependency graph and starts
// every module in dependency order.
//
// A cycle, or an unresolved required service in strict mode, is returned
// before any module is touched. A module whose Initialize fails is logged
// and left without a session; the remaining modules are still started.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != ManagerIdle {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrManagerAlreadyStarted, state)
	}
	m.state = ManagerDiscovering
	m.mu.Unlock()

	begin := time.Now()
	m.discover(ctx)
	m.logger.Info("Discovered daemon modules", "count", m.registry.Len(), "host", m.host)

	if err := m.registry.CheckDependencyGraph(m.strict); err != nil {
		return m.failStart(ctx, err)
	}
	ordered, err := m.registry.OrderedRegistrations()
	if err != nil {
		return m.failStart(ctx, err)
	}
	m.setState(ManagerGraphValidated)
	m.logger.Info("Module start order", "order", registrationNames(ordered))

	m.setState(ManagerStarting)
	started := 0
	for _, reg := range ordered {
		if m.startModule(ctx, reg) {
			started++
		}
	}
	m.setState(ManagerRunning)

	m.logger.Info("Daemon modules started", "started", started, "total", len(ordered),
		"duration", time.Since(begin))
	m.emitEvent(ctx, EventTypeManagerStarted, map[string]any{
		"started": started,
		"total":   len(ordered),
		"order":   registrationNames(ordered),
	})
	return nil
}

func (m *Manager) failStart(ctx context.Context, err error) error {
	m.setState(ManagerFailed)
	m.logger.Error("Refusing to start daemon modules", "error", err)
	m.emitEvent(ctx, EventTypeManagerFailed, map[string]any{"error": err.Error()})
	return fmt.Errorf("check module dependencies: %w", err)
}

// startModule runs one module's start transition and reports whether the
// module ended up started.
func (m *Manager) startModule(ctx context.Context, reg *ModuleRegistration) bool {
	begin := time.Now()
	// The lifecycle passes never give up on the lock; ctx only reaches the
	// module hooks.
	err := reg.WithLock(context.WithoutCancel(ctx), func() error {
		return m.initializeModule(ctx, reg)
	})
	if err != nil {
		m.logger.Error("Failed to start module", "module", reg.Name(), "type", reg.TypeName(), "error", err)
		m.emitEvent(ctx, EventTypeModuleFailed, map[string]any{
			"moduleName": reg.Name(),
			"phase":      "initialize",
			"error":      err.Error(),
		})
		return false
	}
	m.logger.Info("Started module", "module", reg.Name(), "type", reg.TypeName(), "duration", time.Since(begin))
	m.emitEvent(ctx, EventTypeModuleStarted, map[string]any{
		"moduleName": reg.Name(),
		"moduleType": reg.TypeName(),
	})
	return true
}

func (m *Manager) initializeModule(ctx context.Context, reg *ModuleRegistration) (err error) {
	session, err := m.root.Impersonate(m.credentials)
	if err != nil {
		return fmt.Errorf("impersonate %s: %w", m.credentials.UserID, err)
	}
	defer func() {
		if err != nil {
			m.closeSession(reg, session)
		}
	}()

	if configurable, ok := reg.Module().(ConfigurableDaemonModule); ok {
		if node, found := m.moduleConfig(session, reg); found {
			if err := safeCall(func() error { return configurable.Configure(node) }); err != nil {
				return fmt.Errorf("configure: %w", err)
			}
		}
	}

	if err := safeCall(func() error { return reg.Module().Initialize(ctx, session) }); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	return reg.AttachSession(session)
}

// moduleConfig returns the module's configuration node, if it has one.
func (m *Manager) moduleConfig(session Session, reg *ModuleRegistration) (ConfigNode, bool) {
	configPath := ModuleConfigPath(m.modulesPath, reg.Name())
	node, err := session.Node(configPath)
	if err != nil {
		m.logger.Debug("Module has no configuration node", "module", reg.Name(), "path", configPath)
		return nil, false
	}
	return node, true
}

// Stop shuts every registered module down in the exact reverse of the start
// order and releases the root session. Failures are logged per module and
// never interrupt the pass.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	previous := m.state
	switch previous {
	case ManagerRunning, ManagerFailed:
		m.state = ManagerStopping
	default:
		m.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrManagerNotRunning, previous)
	}
	m.mu.Unlock()

	begin := time.Now()
	if previous == ManagerRunning {
		reversed, err := m.registry.ReverseOrderedRegistrations()
		if err != nil {
			m.logger.Error("Cannot compute module stop order", "error", err)
		}
		for _, reg := range reversed {
			m.stopModule(ctx, reg)
		}
	}

	if err := m.root.Close(); err != nil {
		m.logger.Error("Failed to close root session", "error", err)
	}
	m.setState(ManagerStopped)

	m.logger.Info("Daemon modules stopped", "duration", time.Since(begin))
	m.emitEvent(ctx, EventTypeManagerStopped, nil)
	return nil
}

func (m *Manager) stopModule(ctx context.Context, reg *ModuleRegistration) {
	// Abandon any reconfiguration still waiting on the lock.
	reg.Cancel()

	shutdown := func() error {
		err := safeCall(func() error { return reg.Module().Shutdown(ctx) })
		if reg.HasSession() {
			if session, detachErr := reg.DetachSession(); detachErr == nil {
				m.closeSession(reg, session)
			}
		} else {
			reg.setState(ModuleStateStopped)
		}
		return err
	}

	// Waits for a reconfiguration that already holds the lock to return.
	err := reg.WithLock(context.WithoutCancel(ctx), shutdown)
	if err != nil {
		m.logger.Error("Failed to shut down module", "module", reg.Name(), "error", err)
		m.emitEvent(ctx, EventTypeModuleFailed, map[string]any{
			"moduleName": reg.Name(),
			"phase":      "shutdown",
			"error":      err.Error(),
		})
		return
	}
	m.logger.Info("Stopped module", "module", reg.Name())
	m.emitEvent(ctx, EventTypeModuleStopped, map[string]any{"moduleName": reg.Name()})
}

func (m *Manager) closeSession(reg *ModuleRegistration, session Session) {
	if err := session.Close(); err != nil {
		m.logger.Warn("Failed to close module session", "module", reg.Name(), "error", err)
	}
}

// ModuleStatus is a point-in-time view of one registration.
type ModuleStatus struct {
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	State      ModuleState `json:"state"`
	HasSession bool        `json:"hasSession"`
	Provides   []string    `json:"provides"`
	Requires   []string    `json:"requires"`
}

// Modules returns the status of every registration in start order, or in
// registration order while the graph is invalid.
func (m *Manager) Modules() []ModuleStatus {
	regs, err := m.registry.OrderedRegistrations()
	if err != nil {
		regs = m.registry.Registrations()
	}
	statuses := make([]ModuleStatus, 0, len(regs))
	for _, reg := range regs {
		statuses = append(statuses, ModuleStatus{
			Name:       reg.Name(),
			Type:       reg.TypeName(),
			State:      reg.State(),
			HasSession: reg.HasSession(),
			Provides:   reg.Provides(),
			Requires:   reg.Requires(),
		})
	}
	return statuses
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrModulePanicked, r)
		}
	}()
	return fn()
}
