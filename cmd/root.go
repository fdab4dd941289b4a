// Package cmd provides the command-line interface for trafficlight.
//
// Configuration System:
//
//	Configuration is read from several sources, highest priority first:
//	1. Command-line flags (--config, --port, --quiet, ...)
//	2. Individual environment variables (TRAFFICLIGHT_SERVER_PORT, ...)
//	3. The configuration file (.trafficlight.yml, or the file named by
//	   --config or TRAFFICLIGHT_CONFIG_FILE)
//	4. Built-in defaults
//
// A .env file in the working directory is loaded before anything else, so
// TRAFFICLIGHT_ variables can be kept next to the project.
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/trafficlight/internal/config"
	"github.com/conneroisu/trafficlight/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "trafficlight",
	Short: "Build localized HTML and PDF reports from templates and data",
	Long: `trafficlight renders data-driven report templates into one HTML page per
locale, converts every page to PDF and serves the results.

Quick Start:
  trafficlight build              Run one build
  trafficlight watch              Rebuild whenever a source file changes
  trafficlight serve              Serve the latest build
  trafficlight dev                Watch and serve in one process
  trafficlight i18n init de_DE    Start a catalog for a new locale`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .trafficlight.yml, can also use TRAFFICLIGHT_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
}

// initConfig selects the configuration file and enables environment
// overrides.
//
// Configuration File Priority (highest to lowest):
//  1. --config flag
//  2. TRAFFICLIGHT_CONFIG_FILE environment variable
//  3. .trafficlight.yml in the current directory
func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "Ignoring .env:", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv(config.EnvPrefix + "_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".trafficlight")
	}

	config.BindEnv(viper.GetViper())
}

// loadConfig binds the flags of cmd to their configuration keys, reads the
// configuration file and returns the validated configuration. bindings maps
// flag names to keys.
func loadConfig(cmd *cobra.Command, bindings map[string]string) (*config.Config, error) {
	if err := bindFlags(cmd, map[string]string{"log-level": "log.level"}); err != nil {
		return nil, err
	}
	if err := bindFlags(cmd, bindings); err != nil {
		return nil, err
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		fmt.Fprintln(cmd.ErrOrStderr(), "Using config file:", viper.ConfigFileUsed())
	}

	return config.Load()
}

func bindFlags(cmd *cobra.Command, bindings map[string]string) error {
	for name, key := range bindings {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			return fmt.Errorf("unknown flag %q", name)
		}
		if err := viper.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("binding --%s: %w", name, err)
		}
	}

	return nil
}

// newLogger builds the logger described by cfg, writing to the command's
// error stream.
func newLogger(cmd *cobra.Command, cfg *config.Config) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	}), nil
}
