// Package config provides configuration management for trafficlight using
// Viper for loading from files, environment variables, and command-line flags.
//
// Every key can be overridden through a TRAFFICLIGHT_ prefixed environment
// variable with dots replaced by underscores, for example
// TRAFFICLIGHT_SERVER_PORT or TRAFFICLIGHT_WATCH_QUIET.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Inputs       InputsConfig       `mapstructure:"inputs"`
	Outputs      OutputsConfig      `mapstructure:"outputs"`
	Build        BuildConfig        `mapstructure:"build"`
	Styles       StylesConfig       `mapstructure:"styles"`
	PDF          PDFConfig          `mapstructure:"pdf"`
	Localization LocalizationConfig `mapstructure:"localization"`
	Watch        WatchConfig        `mapstructure:"watch"`
	Server       ServerConfig       `mapstructure:"server"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	History      HistoryConfig      `mapstructure:"history"`
	Log          LogConfig          `mapstructure:"log"`
}

// InputsConfig names the source directories.
type InputsConfig struct {
	Templates string `mapstructure:"templates"`
	Data      string `mapstructure:"data"`
	Assets    string `mapstructure:"assets"`
	Styles    string `mapstructure:"styles"`
	Locales   string `mapstructure:"locales"`
}

// OutputsConfig names the build output directories.
type OutputsConfig struct {
	HTML   string `mapstructure:"html"`
	Assets string `mapstructure:"assets"`
	CSS    string `mapstructure:"css"`
	PDF    string `mapstructure:"pdf"`
}

// BuildConfig controls the pipeline.
type BuildConfig struct {
	Placeholder   string        `mapstructure:"placeholder"`
	AtomicPublish bool          `mapstructure:"atomic_publish"`
	ToolTimeout   time.Duration `mapstructure:"tool_timeout"`
}

// StylesConfig configures the external style compiler.
type StylesConfig struct {
	Command     string   `mapstructure:"command"`
	Args        []string `mapstructure:"args"`
	Entry       string   `mapstructure:"entry"`
	OutputStyle string   `mapstructure:"output_style"`
}

// PDFConfig selects and configures the document converter.
type PDFConfig struct {
	Engine  string   `mapstructure:"engine"`
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	Zoom    float64  `mapstructure:"zoom"`
	Browser string   `mapstructure:"browser"`
}

// LocalizationConfig configures catalog management.
type LocalizationConfig struct {
	Domain string `mapstructure:"domain"`
}

// WatchConfig configures the file watcher and rebuild gate.
type WatchConfig struct {
	Mode         string        `mapstructure:"mode"`
	Quiet        time.Duration `mapstructure:"quiet"`
	RebuildEvery time.Duration `mapstructure:"rebuild_every"`
}

// ServerConfig configures the read-only file server.
type ServerConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	DefaultLocale string        `mapstructure:"default_locale"`
	CacheMaxAge   time.Duration `mapstructure:"cache_max_age"`
	RateLimit     int           `mapstructure:"rate_limit"`
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// HistoryConfig configures the build history store.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Gate policies accepted by watch.mode.
const (
	WatchModeThrottle = "throttle"
	WatchModeDebounce = "debounce"
)

// PDF engines accepted by pdf.engine.
const (
	PDFEngineChrome  = "chrome"
	PDFEngineCommand = "command"
)

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("inputs.templates", "templates")
	v.SetDefault("inputs.data", "data")
	v.SetDefault("inputs.assets", "assets")
	v.SetDefault("inputs.styles", "sass")
	v.SetDefault("inputs.locales", "i18n")

	v.SetDefault("outputs.html", "dist")
	v.SetDefault("outputs.assets", "assets")
	v.SetDefault("outputs.css", "css")
	v.SetDefault("outputs.pdf", "pdf")

	v.SetDefault("build.placeholder", "ERROR HAPPENED")
	v.SetDefault("build.atomic_publish", false)
	v.SetDefault("build.tool_timeout", time.Duration(0))

	v.SetDefault("styles.command", "sass")
	v.SetDefault("styles.args", []string{})
	v.SetDefault("styles.entry", "main")
	v.SetDefault("styles.output_style", "compressed")

	v.SetDefault("pdf.engine", PDFEngineChrome)
	v.SetDefault("pdf.command", "wkhtmltopdf")
	v.SetDefault("pdf.args", []string{"--enable-local-file-access"})
	v.SetDefault("pdf.zoom", 1.75)
	v.SetDefault("pdf.browser", "")

	v.SetDefault("localization.domain", "messages")

	v.SetDefault("watch.mode", WatchModeThrottle)
	v.SetDefault("watch.quiet", 5*time.Second)
	v.SetDefault("watch.rebuild_every", time.Duration(0))

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.default_locale", "en_US")
	v.SetDefault("server.cache_max_age", time.Second)
	v.SetDefault("server.rate_limit", 0)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", "127.0.0.1:9464")

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", ".trafficlight/history.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "TRAFFICLIGHT"

// BindEnv enables TRAFFICLIGHT_ environment overrides on v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration with every default applied.
func Default() *Config {
	cfg, err := LoadFrom(viper.New())
	if err != nil {
		panic(err)
	}

	return cfg
}

// CSSDir is the directory the compiled stylesheet is written to, relative to
// the HTML root.
func (o OutputsConfig) CSSDir() string {
	return filepath.Join(o.Assets, o.CSS)
}

// Addr returns the listen address of the file server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
