package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// validateConfig validates configuration values for correctness
func validateConfig(config *Config) error {
	if err := validateInputs(&config.Inputs); err != nil {
		return fmt.Errorf("inputs config: %w", err)
	}

	if err := validateOutputs(&config.Outputs); err != nil {
		return fmt.Errorf("outputs config: %w", err)
	}

	if err := validateStyles(&config.Styles); err != nil {
		return fmt.Errorf("styles config: %w", err)
	}

	if err := validatePDF(&config.PDF); err != nil {
		return fmt.Errorf("pdf config: %w", err)
	}

	if err := validateWatch(&config.Watch); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}

	if err := validateServer(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if config.Localization.Domain == "" {
		return fmt.Errorf("localization config: domain must not be empty")
	}
	if err := validateName(config.Localization.Domain); err != nil {
		return fmt.Errorf("localization config: domain: %w", err)
	}

	if config.Build.ToolTimeout < 0 {
		return fmt.Errorf("build config: tool_timeout must not be negative")
	}

	return nil
}

func validateInputs(config *InputsConfig) error {
	paths := map[string]string{
		"templates": config.Templates,
		"data":      config.Data,
		"assets":    config.Assets,
		"styles":    config.Styles,
		"locales":   config.Locales,
	}
	for name, path := range paths {
		if err := validatePath(path); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	return nil
}

func validateOutputs(config *OutputsConfig) error {
	if err := validatePath(config.HTML); err != nil {
		return fmt.Errorf("html: %w", err)
	}
	if err := validatePath(config.PDF); err != nil {
		return fmt.Errorf("pdf: %w", err)
	}
	if err := validateName(config.Assets); err != nil {
		return fmt.Errorf("assets: %w", err)
	}
	if err := validateName(config.CSS); err != nil {
		return fmt.Errorf("css: %w", err)
	}

	if filepath.Clean(config.HTML) == filepath.Clean(config.PDF) {
		return fmt.Errorf("html and pdf output directories must differ")
	}
	if filepath.Clean(config.HTML) == "." || filepath.Clean(config.PDF) == "." {
		return fmt.Errorf("output directories must not be the project root")
	}

	return nil
}

func validateStyles(config *StylesConfig) error {
	if strings.TrimSpace(config.Command) == "" {
		return fmt.Errorf("command must not be empty")
	}
	if err := validateName(config.Entry); err != nil {
		return fmt.Errorf("entry: %w", err)
	}

	switch config.OutputStyle {
	case "expanded", "compressed":
	default:
		return fmt.Errorf("unknown output_style %q (expanded, compressed)", config.OutputStyle)
	}

	return nil
}

func validatePDF(config *PDFConfig) error {
	switch config.Engine {
	case PDFEngineChrome:
	case PDFEngineCommand:
		if strings.TrimSpace(config.Command) == "" {
			return fmt.Errorf("command must not be empty for the command engine")
		}
	default:
		return fmt.Errorf("unknown engine %q (%s, %s)", config.Engine, PDFEngineChrome, PDFEngineCommand)
	}

	if config.Zoom <= 0 || config.Zoom > 2 {
		return fmt.Errorf("zoom %.2f is not in range (0, 2]", config.Zoom)
	}

	return nil
}

func validateWatch(config *WatchConfig) error {
	switch config.Mode {
	case WatchModeThrottle, WatchModeDebounce:
	default:
		return fmt.Errorf("unknown mode %q (%s, %s)", config.Mode, WatchModeThrottle, WatchModeDebounce)
	}

	if config.Quiet <= 0 {
		return fmt.Errorf("quiet interval must be positive")
	}
	if config.RebuildEvery < 0 {
		return fmt.Errorf("rebuild_every must not be negative")
	}

	return nil
}

func validateServer(config *ServerConfig) error {
	// Allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	if config.DefaultLocale == "" {
		return fmt.Errorf("default_locale must not be empty")
	}
	if err := validateName(config.DefaultLocale); err != nil {
		return fmt.Errorf("default_locale: %w", err)
	}

	if config.CacheMaxAge < 0 {
		return fmt.Errorf("cache_max_age must not be negative")
	}
	if config.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}

	return nil
}

// validatePath validates a project-relative directory path
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)

	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains traversal: %s", path)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}

// validateName validates a single path element such as a file stem or locale.
func validateName(name string) error {
	if err := validatePath(name); err != nil {
		return err
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%q must be a single path element", name)
	}

	return nil
}
