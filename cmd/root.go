// Package cmd implements the trezorbridge command-line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/trezorbridge/internal/bridge"
	"github.com/zjrosen/trezorbridge/internal/config"
	"github.com/zjrosen/trezorbridge/internal/log"
	"github.com/zjrosen/trezorbridge/internal/tracing"
)

var (
	version = "dev"
	cfgFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:     "trezorbridge",
	Short:   "Bridge to a hardware-wallet worker process",
	Long:    `trezorbridge talks to a Trezor device through an external worker process, exchanging one JSON message per line over the worker's standard streams.`,
	Version: version,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/trezorbridge/config.yaml)")
	rootCmd.PersistentFlags().String("script-dir", "",
		"directory containing the worker script (default: executable directory)")
	rootCmd.PersistentFlags().String("coin", "",
		"currency identifier passed to the worker")
	rootCmd.PersistentFlags().Bool("debug", false,
		"enable the structured debug log")

	// Bind flags to viper
	_ = viper.BindPFlag("worker.script_dir", rootCmd.PersistentFlags().Lookup("script-dir"))
	_ = viper.BindPFlag("coin", rootCmd.PersistentFlags().Lookup("coin"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("coin", defaults.Coin)
	viper.SetDefault("worker.script", defaults.Worker.Script)
	viper.SetDefault("worker.startup_delay", defaults.Worker.StartupDelay)
	viper.SetDefault("worker.shutdown_timeout", defaults.Worker.ShutdownTimeout)
	viper.SetDefault("worker.capture_stderr", defaults.Worker.CaptureStderr)
	viper.SetDefault("runtime.binary", defaults.Runtime.Binary)
	viper.SetDefault("runtime.args", defaults.Runtime.Args)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)
	viper.SetDefault("log_file", defaults.LogFile)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		viper.AddConfigPath(filepath.Join(home, ".config", "trezorbridge"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TREZORBRIDGE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "reading config: %v\n", err)
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parsing config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
}

// SetVersion sets the version string shown by --version.
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// withClient sets up logging and tracing, spawns and initializes a client,
// runs fn, and guarantees the worker is torn down on every exit path.
func withClient(fn func(ctx context.Context, c *bridge.Client) error) error {
	if cfg.Debug {
		cleanup, err := log.Init(cfg.LogFile)
		if err != nil {
			return fmt.Errorf("init log: %w", err)
		}
		defer cleanup()
	}

	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	ctx := context.Background()
	defer func() { _ = provider.Shutdown(ctx) }()

	opts := append(cfg.ClientOptions(), bridge.WithTracer(provider.Tracer()))
	client, err := bridge.New(opts...)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	if err := client.Init(ctx); err != nil {
		return err
	}
	return fn(ctx, client)
}
