// Package watcher triggers a reload whenever the repository document changes
// on disk, and optionally on a cron schedule as a fallback for file systems
// that do not deliver change events.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hippocms/daemon"
	"github.com/robfig/cron/v3"
)

// DefaultDebounce collapses the burst of events a single save produces.
const DefaultDebounce = 200 * time.Millisecond

var ErrAlreadyWatching = errors.New("watcher already started")

// ChangeFunc is called once per detected change. Calls never overlap.
type ChangeFunc func(ctx context.Context) error

// Watcher watches one file.
type Watcher struct {
	file     string
	onChange ChangeFunc
	logger   daemon.Logger
	schedule string
	debounce time.Duration

	mu       sync.Mutex
	fs       *fsnotify.Watcher
	cron     *cron.Cron
	cancel   context.CancelFunc
	timer    *time.Timer
	wg       sync.WaitGroup
	changeMu sync.Mutex

	triggered atomic.Int64
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithResyncSchedule also triggers on a cron schedule such as "@every 5m".
func WithResyncSchedule(spec string) Option {
	return func(w *Watcher) { w.schedule = spec }
}

// WithDebounce sets how long to wait for further events before triggering.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New creates a watcher for file.
func New(file string, onChange ChangeFunc, logger daemon.Logger, opts ...Option) *Watcher {
	if logger == nil {
		logger = daemon.NewZapLogger(nil)
	}
	w := &Watcher{
		file:     filepath.Clean(file),
		onChange: onChange,
		logger:   logger,
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. The watcher runs until Stop is called or ctx is
// done.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fs != nil {
		return ErrAlreadyWatching
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory: editors often replace the file by renaming.
	if err := fsw.Add(filepath.Dir(w.file)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.file, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	var c *cron.Cron
	if w.schedule != "" {
		c = cron.New()
		if _, err := c.AddFunc(w.schedule, func() { w.trigger(runCtx, "resync") }); err != nil {
			cancel()
			_ = fsw.Close()
			return fmt.Errorf("invalid resync schedule %q: %w", w.schedule, err)
		}
	}

	w.fs = fsw
	w.cron = c
	w.cancel = cancel

	w.wg.Add(1)
	go w.loop(runCtx, fsw)
	if c != nil {
		c.Start()
	}
	w.logger.Info("Watching repository file", "file", w.file, "resyncSchedule", w.schedule)
	return nil
}

// Stop ends watching and waits for a running change callback to return.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	fsw, c, cancel := w.fs, w.cron, w.cancel
	w.fs, w.cron, w.cancel = nil, nil, nil
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	if fsw == nil {
		return nil
	}
	cancel()
	err := fsw.Close()
	if c != nil {
		<-c.Stop().Done()
	}
	w.wg.Wait()
	w.changeMu.Lock()
	w.changeMu.Unlock()
	return err
}

// Triggered returns how many times the change callback ran.
func (w *Watcher) Triggered() int64 {
	return w.triggered.Load()
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer w.wg.Done()
	events, errs := fsw.Events, fsw.Errors
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.file {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("Repository file event", "file", event.Name, "op", event.Op.String())
			w.arm(ctx)
		case err, ok := <-errs:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", "file", w.file, "error", err)
		}
	}
}

// arm restarts the debounce timer.
func (w *Watcher) arm(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.trigger(ctx, "file") })
}

func (w *Watcher) trigger(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	w.changeMu.Lock()
	defer w.changeMu.Unlock()

	w.triggered.Add(1)
	if err := w.onChange(ctx); err != nil {
		w.logger.Error("Failed to apply repository change", "file", w.file, "reason", reason, "error", err)
		return
	}
	w.logger.Info("Applied repository change", "file", w.file, "reason", reason)
}
