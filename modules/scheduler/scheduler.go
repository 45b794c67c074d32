package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hippocms/daemon"
	"github.com/robfig/cron/v3"
)

var (
	ErrNotStarted      = errors.New("scheduler is not started")
	ErrJobNotFound     = errors.New("job not found")
	ErrJobFuncNil      = errors.New("job function is nil")
	ErrInvalidSchedule = errors.New("invalid cron schedule")
)

// JobFunc defines a function that can be executed as a job
type JobFunc func(ctx context.Context) error

// JobStatus represents the status of a job
type JobStatus string

const (
	// JobStatusPending indicates a job is waiting for its next run
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a job is currently executing
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the last run succeeded
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the last run returned an error or panicked
	JobStatusFailed JobStatus = "failed"
)

// Job is a snapshot of a scheduled job
type Job struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	CreatedAt time.Time  `json:"createdAt"`
	Status    JobStatus  `json:"status"`
	Runs      int        `json:"runs"`
	LastRun   *time.Time `json:"lastRun,omitempty"`
	LastError string     `json:"lastError,omitempty"`
	NextRun   *time.Time `json:"nextRun,omitempty"`
}

type job struct {
	Job
	fn    JobFunc
	entry cron.EntryID
}

// Scheduler runs recurring jobs on cron schedules
type Scheduler struct {
	logger      daemon.Logger
	location    *time.Location
	withSeconds bool

	mu      sync.RWMutex
	cron    *cron.Cron
	jobs    map[string]*job
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// SchedulerOption defines a function that can configure a scheduler
type SchedulerOption func(*Scheduler)

// WithLogger sets the logger
func WithLogger(logger daemon.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLocation evaluates schedules in loc instead of the local time zone
func WithLocation(loc *time.Location) SchedulerOption {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithSeconds accepts six-field schedules with a leading seconds field
func WithSeconds(enabled bool) SchedulerOption {
	return func(s *Scheduler) {
		s.withSeconds = enabled
	}
}

// NewScheduler creates a new scheduler
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		logger:   daemon.NewZapLogger(nil),
		location: time.Local,
		jobs:     make(map[string]*job),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply changes options of a stopped scheduler.
func (s *Scheduler) Apply(opts ...SchedulerOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, opt := range opts {
		opt(s)
	}
}

// Start starts the scheduler. Jobs scheduled afterwards run until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	cronOpts := []cron.Option{cron.WithLocation(s.location)}
	if s.withSeconds {
		cronOpts = append(cronOpts, cron.WithSeconds())
	}
	s.cron = cron.New(cronOpts...)
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true

	s.logger.Info("Starting scheduler", "location", s.location.String(), "seconds", s.withSeconds)
	return nil
}

// Stop stops the scheduler and waits for running jobs until ctx is done.
// All jobs are dropped.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.logger.Info("Stopping scheduler")
	cronCtx := s.cron.Stop()
	s.cancel()
	s.started = false
	s.jobs = make(map[string]*job)
	s.mu.Unlock()

	select {
	case <-cronCtx.Done():
		s.logger.Info("Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler shutdown timed out")
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

// IsStarted reports whether the scheduler is running
func (s *Scheduler) IsStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// ScheduleRecurring adds a job running fn on the cron schedule spec and
// returns its id.
func (s *Scheduler) ScheduleRecurring(name, spec string, fn JobFunc) (string, error) {
	if fn == nil {
		return "", ErrJobFuncNil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return "", ErrNotStarted
	}

	j := &job{
		Job: Job{
			ID:        uuid.New().String(),
			Name:      name,
			Schedule:  spec,
			CreatedAt: time.Now(),
			Status:    JobStatusPending,
		},
		fn: fn,
	}
	entry, err := s.cron.AddFunc(spec, func() { s.execute(j.ID) })
	if err != nil {
		return "", fmt.Errorf("%w %q: %w", ErrInvalidSchedule, spec, err)
	}
	j.entry = entry
	s.jobs[j.ID] = j

	s.logger.Debug("Scheduled job", "id", j.ID, "name", name, "schedule", spec)
	return j.ID, nil
}

// Reschedule moves a job to a new cron schedule, keeping its id and history.
func (s *Scheduler) Reschedule(id, spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return ErrNotStarted
	}
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	entry, err := s.cron.AddFunc(spec, func() { s.execute(id) })
	if err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidSchedule, spec, err)
	}
	s.cron.Remove(j.entry)
	j.entry = entry
	j.Schedule = spec

	s.logger.Debug("Rescheduled job", "id", id, "name", j.Name, "schedule", spec)
	return nil
}

// Remove cancels a job. A run in progress finishes.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if s.cron != nil {
		s.cron.Remove(j.entry)
	}
	delete(s.jobs, id)
	s.logger.Debug("Removed job", "id", id, "name", j.Name)
	return nil
}

// Job returns a snapshot of one job.
func (s *Scheduler) Job(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return s.snapshot(j), true
}

// Jobs returns snapshots of all jobs ordered by name, then id.
func (s *Scheduler) Jobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, s.snapshot(j))
	}
	slices.SortFunc(out, func(a, b Job) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (s *Scheduler) snapshot(j *job) Job {
	out := j.Job
	if s.cron != nil {
		if next := s.cron.Entry(j.entry).Next; !next.IsZero() {
			out.NextRun = &next
		}
	}
	return out
}

// execute runs a job and records the outcome
func (s *Scheduler) execute(id string) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	j.Status = JobStatusRunning
	fn, name, ctx := j.fn, j.Name, s.ctx
	s.mu.Unlock()

	s.logger.Debug("Executing job", "id", id, "name", name)
	err := run(ctx, fn)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	j.LastRun = &now
	j.Runs++
	if err != nil {
		j.Status = JobStatusFailed
		j.LastError = err.Error()
		s.logger.Error("Job execution failed", "id", id, "name", name, "error", err)
		return
	}
	j.Status = JobStatusCompleted
	j.LastError = ""
}

func run(ctx context.Context, fn JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx)
}
