// Package config provides configuration types and defaults for trezorbridge.
package config

import (
	"fmt"
	"time"

	"github.com/zjrosen/trezorbridge/internal/bridge"
	"github.com/zjrosen/trezorbridge/internal/tracing"
)

// WorkerConfig controls how the worker process is located and supervised.
type WorkerConfig struct {
	// ScriptDir is the directory containing the worker script.
	// Empty means: resolve relative to the host executable's directory.
	ScriptDir string `mapstructure:"script_dir" yaml:"script_dir,omitempty"`

	// Script is the worker script filename.
	Script string `mapstructure:"script" yaml:"script"`

	// StartupDelay is the settling time after the worker starts, giving it
	// room to load its native modules before the first request.
	StartupDelay time.Duration `mapstructure:"startup_delay" yaml:"startup_delay"`

	// ShutdownTimeout bounds the graceful wait before the worker is killed.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// CaptureStderr folds worker stderr into spawn/exit error messages.
	CaptureStderr bool `mapstructure:"capture_stderr" yaml:"capture_stderr"`
}

// RuntimeConfig controls the runtime binary that executes the worker script.
type RuntimeConfig struct {
	// Binary is the runtime executable, e.g. "deno".
	Binary string `mapstructure:"binary" yaml:"binary"`

	// Args are the runtime arguments placed before the script path.
	Args []string `mapstructure:"args" yaml:"args,omitempty"`
}

// Config holds all configuration options for trezorbridge.
type Config struct {
	// Coin is the default currency identifier passed to the worker.
	Coin string `mapstructure:"coin" yaml:"coin"`

	Worker  WorkerConfig   `mapstructure:"worker" yaml:"worker"`
	Runtime RuntimeConfig  `mapstructure:"runtime" yaml:"runtime"`
	Tracing tracing.Config `mapstructure:"tracing" yaml:"tracing"`

	// Debug enables the structured debug log.
	Debug bool `mapstructure:"debug" yaml:"debug"`

	// LogFile is the debug log destination.
	LogFile string `mapstructure:"log_file" yaml:"log_file"`
}

// Defaults returns the default configuration.
func Defaults() Config {
	return Config{
		Coin: "bitcoin",
		Worker: WorkerConfig{
			Script:          bridge.DefaultScript,
			StartupDelay:    bridge.DefaultStartupDelay,
			ShutdownTimeout: bridge.DefaultShutdownTimeout,
			CaptureStderr:   true,
		},
		Runtime: RuntimeConfig{
			Binary: bridge.DefaultRuntime,
			Args:   bridge.DefaultRuntimeArgs(),
		},
		Tracing: tracing.DefaultConfig(),
		LogFile: "trezorbridge.log",
	}
}

// Validate rejects configurations the bridge cannot run with.
func (c Config) Validate() error {
	if c.Worker.Script == "" {
		return fmt.Errorf("worker.script must not be empty")
	}
	if c.Runtime.Binary == "" {
		return fmt.Errorf("runtime.binary must not be empty")
	}
	if c.Worker.StartupDelay < 0 {
		return fmt.Errorf("worker.startup_delay must not be negative")
	}
	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker.shutdown_timeout must be positive")
	}
	return nil
}

// ClientOptions translates the configuration into bridge client options.
func (c Config) ClientOptions() []bridge.Option {
	return []bridge.Option{
		bridge.WithScriptDir(c.Worker.ScriptDir),
		bridge.WithScript(c.Worker.Script),
		bridge.WithRuntime(c.Runtime.Binary, c.Runtime.Args...),
		bridge.WithStartupDelay(c.Worker.StartupDelay),
		bridge.WithShutdownTimeout(c.Worker.ShutdownTimeout),
		bridge.WithStderrCapture(c.Worker.CaptureStderr),
	}
}
