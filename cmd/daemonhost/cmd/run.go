package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hippocms/daemon"
	"github.com/hippocms/daemon/config"
	"github.com/hippocms/daemon/modules/scheduler"
	"github.com/hippocms/daemon/repository"
	"github.com/hippocms/daemon/watcher"
	"github.com/spf13/cobra"
)

// AdminCredentials is the identity of the root session.
var AdminCredentials = daemon.Credentials{UserID: "admin"}

// ShutdownTimeout bounds how long module shutdown may take after a signal.
const ShutdownTimeout = 30 * time.Second

// NewRunCommand creates the run command
func NewRunCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the configured modules and run until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Run(ctx, cfg)
		},
	}
}

// Run hosts the module manager until ctx is done.
func Run(ctx context.Context, cfg config.HostConfig) error {
	zl, err := NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := daemon.NewZapLogger(zl)
	defer func() { _ = logger.Sync() }()

	repo, err := repository.Open(cfg.Repository)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	root, err := repo.Login(AdminCredentials)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	sched := scheduler.NewModule(logger.Named(scheduler.ModuleName))
	mgr, err := daemon.NewManager(root, logger.Named("manager"),
		daemon.WithFactories(Factories(sched, logger)),
		daemon.WithHostCategory(daemon.HostCategory(cfg.Host)),
		daemon.WithModulesPath(cfg.ModulesPath),
		daemon.WithStrictDependencies(cfg.StrictDependencies),
		daemon.WithModuleCredentials(daemon.Credentials{UserID: cfg.SystemUser}),
	)
	if err != nil {
		_ = root.Close()
		return err
	}

	if err := mgr.Start(ctx); err != nil {
		_ = mgr.Stop(context.Background())
		return err
	}

	var w *watcher.Watcher
	if cfg.Watch || cfg.ResyncSchedule != "" {
		w = watcher.New(repo.Source(), func(ctx context.Context) error {
			if err := repo.Reload(); err != nil {
				return err
			}
			return mgr.ReconfigureAll(ctx)
		}, logger.Named("watcher"), watcher.WithResyncSchedule(cfg.ResyncSchedule))
		if err := w.Start(ctx); err != nil {
			logger.Error("Failed to start repository watcher", "error", err)
			w = nil
		}
	}

	var srv *http.Server
	if cfg.StatusAddr != "" {
		srv = &http.Server{
			Addr:              cfg.StatusAddr,
			Handler:           NewStatusRouter(mgr),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("Serving status", "addr", cfg.StatusAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Status server failed", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if srv != nil {
		_ = srv.Shutdown(shutdownCtx)
	}
	if w != nil {
		_ = w.Stop()
	}
	return mgr.Stop(shutdownCtx)
}
