// Package heartbeat provides a daemon module that periodically reports that
// the daemon is alive. It requires the scheduler service and follows changes
// to its module configuration without a restart.
//
// Module configuration:
//
//	schedule  cron schedule of the beat (default "@every 30s")
//	message   text logged with each beat (default "alive")
//	enabled   set to false to pause beating (default true)
package heartbeat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hippocms/daemon"
	"github.com/hippocms/daemon/modules/scheduler"
)

// ModuleName is the name the module is usually registered under.
const ModuleName = "heartbeat"

const (
	DefaultSchedule = "@every 30s"
	DefaultMessage  = "alive"
)

var ErrNoScheduler = errors.New("heartbeat requires a scheduler")

// Settings is the module configuration.
type Settings struct {
	Schedule string `json:"schedule" yaml:"schedule" toml:"schedule"`
	Message  string `json:"message" yaml:"message" toml:"message"`
	Enabled  bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
}

// DefaultSettings returns the settings used when the module has no
// configuration node.
func DefaultSettings() Settings {
	return Settings{Schedule: DefaultSchedule, Message: DefaultMessage, Enabled: true}
}

// SettingsFrom reads settings from a config node, falling back to defaults
// per property.
func SettingsFrom(node daemon.ConfigNode) Settings {
	d := DefaultSettings()
	return Settings{
		Schedule: node.String("schedule", d.Schedule),
		Message:  node.String("message", d.Message),
		Enabled:  node.Bool("enabled", d.Enabled),
	}
}

// Module is the heartbeat daemon module.
type Module struct {
	scheduler *scheduler.Scheduler
	logger    daemon.Logger

	mu       sync.Mutex
	settings Settings
	jobID    string
	user     string

	beats    atomic.Int64
	lastBeat atomic.Pointer[time.Time]
}

var (
	_ daemon.ReconfigurableDaemonModule = (*Module)(nil)
	_ daemon.DependencyDeclarer         = (*Module)(nil)
)

// NewModule creates the module scheduling its beats on sched.
func NewModule(sched *scheduler.Scheduler, logger daemon.Logger) *Module {
	if logger == nil {
		logger = daemon.NewZapLogger(nil)
	}
	return &Module{scheduler: sched, logger: logger, settings: DefaultSettings()}
}

func (m *Module) Dependencies() daemon.Dependencies {
	return daemon.Dependencies{
		Requires: []string{scheduler.ServiceName},
		Optional: []bool{false},
	}
}

func (m *Module) Configure(node daemon.ConfigNode) error {
	m.mu.Lock()
	m.settings = SettingsFrom(node)
	m.mu.Unlock()
	return nil
}

func (m *Module) Initialize(ctx context.Context, session daemon.Session) error {
	if m.scheduler == nil {
		return ErrNoScheduler
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.user = session.UserID()
	return m.apply(m.settings)
}

// Reconfigure switches to the settings in node. The beat count is kept.
func (m *Module) Reconfigure(ctx context.Context, node daemon.ConfigNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := SettingsFrom(node)
	if err := m.apply(next); err != nil {
		return err
	}
	m.logger.Info("Heartbeat reconfigured", "schedule", next.Schedule, "enabled", next.Enabled)
	return nil
}

func (m *Module) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unschedule()
}

// apply makes the scheduled job match s. Must hold m.mu.
func (m *Module) apply(s Settings) error {
	switch {
	case !s.Enabled:
		if err := m.unschedule(); err != nil {
			return err
		}
	case m.jobID == "":
		id, err := m.scheduler.ScheduleRecurring(ModuleName, s.Schedule, m.beat)
		if err != nil {
			return err
		}
		m.jobID = id
	case s.Schedule != m.settings.Schedule:
		if err := m.scheduler.Reschedule(m.jobID, s.Schedule); err != nil {
			return err
		}
	}
	m.settings = s
	return nil
}

func (m *Module) unschedule() error {
	if m.jobID == "" {
		return nil
	}
	err := m.scheduler.Remove(m.jobID)
	m.jobID = ""
	if errors.Is(err, scheduler.ErrJobNotFound) {
		return nil
	}
	return err
}

func (m *Module) beat(ctx context.Context) error {
	m.mu.Lock()
	msg, user := m.settings.Message, m.user
	m.mu.Unlock()

	now := time.Now()
	m.lastBeat.Store(&now)
	n := m.beats.Add(1)
	m.logger.Info("Heartbeat", "message", msg, "beat", n, "user", user)
	return nil
}

// Beats returns how many beats have happened.
func (m *Module) Beats() int64 {
	return m.beats.Load()
}

// LastBeat returns the time of the latest beat, or the zero time.
func (m *Module) LastBeat() time.Time {
	if t := m.lastBeat.Load(); t != nil {
		return *t
	}
	return time.Time{}
}

// Settings returns the active settings.
func (m *Module) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// Scheduled reports whether a beat job is scheduled.
func (m *Module) Scheduled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobID != ""
}
