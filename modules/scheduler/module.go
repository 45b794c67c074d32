// Package scheduler provides a daemon module running recurring jobs on cron
// schedules.
//
// The module provides the "scheduler" service. Modules requiring it start
// after it and stop before it, so they can schedule jobs in Initialize and
// remove them in Shutdown:
//
//	id, err := sched.ScheduleRecurring("cleanup", "@every 10m", cleanup)
//	...
//	_ = sched.Remove(id)
//
// Module configuration, read from the module's config node:
//
//	timezone  IANA zone schedules are evaluated in (default local)
//	seconds   accept six-field schedules (default false)
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/hippocms/daemon"
)

// ModuleName is the name the module is usually registered under.
const ModuleName = "scheduler"

// ServiceName is the service the module provides to dependent modules.
const ServiceName = "scheduler"

// Module wraps a Scheduler as a daemon module.
type Module struct {
	scheduler *Scheduler
	logger    daemon.Logger
}

var (
	_ daemon.ConfigurableDaemonModule = (*Module)(nil)
	_ daemon.DependencyDeclarer       = (*Module)(nil)
)

// NewModule creates the module. Share the returned module's Scheduler with
// the modules depending on it.
func NewModule(logger daemon.Logger) *Module {
	if logger == nil {
		logger = daemon.NewZapLogger(nil)
	}
	return &Module{
		scheduler: NewScheduler(WithLogger(logger)),
		logger:    logger,
	}
}

// Scheduler returns the service
func (m *Module) Scheduler() *Scheduler {
	return m.scheduler
}

func (m *Module) Dependencies() daemon.Dependencies {
	return daemon.Dependencies{Provides: []string{ServiceName}}
}

// Configure applies the timezone and seconds settings.
func (m *Module) Configure(node daemon.ConfigNode) error {
	var opts []SchedulerOption
	if tz := node.String("timezone", ""); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("scheduler timezone %q: %w", tz, err)
		}
		opts = append(opts, WithLocation(loc))
	}
	opts = append(opts, WithSeconds(node.Bool("seconds", false)))
	m.scheduler.Apply(opts...)
	return nil
}

func (m *Module) Initialize(ctx context.Context, session daemon.Session) error {
	m.logger.Debug("Initializing scheduler module", "user", session.UserID())
	return m.scheduler.Start(ctx)
}

func (m *Module) Shutdown(ctx context.Context) error {
	return m.scheduler.Stop(ctx)
}
