// Package config loads runtime configuration for the coordinator and
// workers: YAML file, NOTEFLOW_* environment overrides, defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Liveness LivenessConfig `mapstructure:"liveness"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

// StoreConfig locates the event log database.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// LivenessConfig tunes the heartbeat watchdog.
type LivenessConfig struct {
	// WindowSeconds is how long a session may go without a heartbeat
	// before the monitor terminates it.
	WindowSeconds int `mapstructure:"window_seconds"`

	// SweepSeconds is the watchdog's check period.
	SweepSeconds int `mapstructure:"sweep_seconds"`
}

// Window returns the heartbeat window as a duration.
func (c LivenessConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// SweepInterval returns the sweep period as a duration.
func (c LivenessConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepSeconds) * time.Second
}

// WorkerConfig describes the kernel session a worker registers.
type WorkerConfig struct {
	KernelID         string `mapstructure:"kernel_id"`
	KernelType       string `mapstructure:"kernel_type"`
	CanExecuteCode   bool   `mapstructure:"can_execute_code"`
	CanExecuteSQL    bool   `mapstructure:"can_execute_sql"`
	CanExecuteAI     bool   `mapstructure:"can_execute_ai"`
	HeartbeatSeconds int    `mapstructure:"heartbeat_seconds"`
}

// HeartbeatInterval returns the heartbeat period as a duration.
func (c WorkerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// Load reads configuration from the optional YAML file at path, applying
// defaults and NOTEFLOW_* environment overrides (NOTEFLOW_STORE_PATH,
// NOTEFLOW_LIVENESS_WINDOW_SECONDS, ...). A missing file is not an error;
// a malformed one is.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	}

	v.SetDefault("store.path", "noteflow.db")
	v.SetDefault("liveness.window_seconds", 30)
	v.SetDefault("liveness.sweep_seconds", 5)
	v.SetDefault("worker.kernel_id", "kernel-default")
	v.SetDefault("worker.kernel_type", "python")
	v.SetDefault("worker.can_execute_code", true)
	v.SetDefault("worker.can_execute_sql", false)
	v.SetDefault("worker.can_execute_ai", false)
	v.SetDefault("worker.heartbeat_seconds", 5)

	v.SetEnvPrefix("NOTEFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if cfg.Liveness.WindowSeconds <= 0 {
		return fmt.Errorf("liveness.window_seconds must be positive")
	}
	if cfg.Liveness.SweepSeconds <= 0 {
		return fmt.Errorf("liveness.sweep_seconds must be positive")
	}
	if cfg.Worker.HeartbeatSeconds <= 0 {
		return fmt.Errorf("worker.heartbeat_seconds must be positive")
	}
	if cfg.Worker.HeartbeatSeconds >= cfg.Liveness.WindowSeconds {
		return fmt.Errorf("worker.heartbeat_seconds (%d) must be below liveness.window_seconds (%d)",
			cfg.Worker.HeartbeatSeconds, cfg.Liveness.WindowSeconds)
	}
	return nil
}
