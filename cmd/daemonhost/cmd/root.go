package cmd

import (
	"fmt"

	"github.com/hippocms/daemon"
	"github.com/hippocms/daemon/config"
	"github.com/hippocms/daemon/modules/heartbeat"
	"github.com/hippocms/daemon/modules/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version information
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// PrintVersion prints version information
func PrintVersion() string {
	return fmt.Sprintf("daemonhost v%s (commit: %s, built on: %s)", Version, Commit, Date)
}

// NewRootCommand creates the root command for the daemonhost application
func NewRootCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "daemonhost",
		Short: "daemonhost - runs the daemon modules configured in a repository",
		Long: `daemonhost loads a configuration repository, discovers the daemon modules
declared in it, and runs them in dependency order until interrupted.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "host configuration file (yaml, toml or json)")

	cmd.AddCommand(NewRunCommand(&configFile))
	cmd.AddCommand(NewModulesCommand(&configFile))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(PrintVersion())
		},
	})

	return cmd
}

// NewLogger builds a production zap logger at the given level.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// Factories returns the module classes this binary can instantiate. All
// heartbeat instances share the scheduler of sched.
func Factories(sched *scheduler.Module, logger *daemon.ZapLogger) *daemon.FactoryRegistry {
	factories := daemon.NewFactoryRegistry()
	factories.MustRegister(daemon.ModuleTypeName(sched), func() daemon.DaemonModule {
		return sched
	})
	factories.MustRegister(daemon.ModuleTypeName(&heartbeat.Module{}), func() daemon.DaemonModule {
		return heartbeat.NewModule(sched.Scheduler(), logger.Named(heartbeat.ModuleName))
	})
	return factories
}

func loadConfig(file string) (config.HostConfig, error) {
	cfg, err := config.Load(file)
	if err != nil {
		return cfg, fmt.Errorf("load host config: %w", err)
	}
	return cfg, nil
}
