// Package config loads the host configuration of a daemon module process
// from a YAML, TOML or JSON file, with DAEMON_* environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/golobby/cast"
	"github.com/hippocms/daemon"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DAEMON"

var (
	ErrUnsupportedFormat = errors.New("unsupported config file format")
	ErrInvalidConfig     = errors.New("invalid host configuration")
)

// HostConfig configures the process that hosts the module manager.
type HostConfig struct {
	// Host is "platform" or "cms".
	Host string `yaml:"host" toml:"host" json:"host" env:"HOST"`

	// Repository is the configuration document backing the repository.
	Repository string `yaml:"repository" toml:"repository" json:"repository" env:"REPOSITORY"`

	// ModulesPath is where module entries live in the repository.
	ModulesPath string `yaml:"modulesPath" toml:"modulesPath" json:"modulesPath" env:"MODULES_PATH"`

	// StrictDependencies aborts startup on an unresolved required service.
	StrictDependencies bool `yaml:"strictDependencies" toml:"strictDependencies" json:"strictDependencies" env:"STRICT_DEPENDENCIES"`

	// SystemUser is the identity module sessions are impersonated as.
	SystemUser string `yaml:"systemUser" toml:"systemUser" json:"systemUser" env:"SYSTEM_USER"`

	// Watch reloads the repository and reconfigures modules when the
	// repository file changes.
	Watch bool `yaml:"watch" toml:"watch" json:"watch" env:"WATCH"`

	// ResyncSchedule is a cron spec for reloading the repository even when
	// no file event arrives. Empty disables it.
	ResyncSchedule string `yaml:"resyncSchedule" toml:"resyncSchedule" json:"resyncSchedule" env:"RESYNC_SCHEDULE"`

	// StatusAddr is the listen address of the status endpoint. Empty
	// disables it.
	StatusAddr string `yaml:"statusAddr" toml:"statusAddr" json:"statusAddr" env:"STATUS_ADDR"`

	// LogLevel is a zap level name.
	LogLevel string `yaml:"logLevel" toml:"logLevel" json:"logLevel" env:"LOG_LEVEL"`
}

// Default returns the configuration used for every unset field.
func Default() HostConfig {
	return HostConfig{
		Host:               "platform",
		Repository:         "repository.yaml",
		ModulesPath:        daemon.DefaultModulesPath,
		StrictDependencies: true,
		SystemUser:         daemon.SystemCredentials.UserID,
		LogLevel:           "info",
	}
}

// Load reads file on top of the defaults and then applies environment
// overrides. An empty file name skips straight to the overrides.
func Load(file string) (HostConfig, error) {
	cfg := Default()
	if file != "" {
		if err := decodeFile(file, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func decodeFile(file string, cfg *HostConfig) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", file, err)
	}
	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err = toml.Decode(string(data), cfg)
	case ".json":
		err = json.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, file)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config %s: %w", file, err)
	}
	return nil
}

// ApplyEnv overrides every field tagged env with DAEMON_<tag> when set.
func ApplyEnv(cfg *HostConfig) error {
	rv := reflect.ValueOf(cfg).Elem()
	rt := rv.Type()
	for i := 0; i < rv.NumField(); i++ {
		tag, ok := rt.Field(i).Tag.Lookup("env")
		if !ok {
			continue
		}
		value, set := os.LookupEnv(EnvPrefix + "_" + tag)
		if !set {
			continue
		}
		field := rv.Field(i)
		converted, err := cast.FromType(value, field.Type())
		if err != nil {
			return fmt.Errorf("env %s_%s: cannot convert %q to %v: %w", EnvPrefix, tag, value, field.Type(), err)
		}
		field.Set(reflect.ValueOf(converted))
	}
	return nil
}

// Validate checks the values that have a fixed set of choices.
func (c HostConfig) Validate() error {
	switch c.Host {
	case "platform", "cms":
	default:
		return fmt.Errorf("%w: host must be platform or cms, got %q", ErrInvalidConfig, c.Host)
	}
	if c.Repository == "" {
		return fmt.Errorf("%w: repository is required", ErrInvalidConfig)
	}
	if c.SystemUser == "" {
		return fmt.Errorf("%w: systemUser is required", ErrInvalidConfig)
	}
	return nil
}
