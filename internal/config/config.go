// Package config handles configuration loading and management for Harmonia.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all configuration for Harmonia.
type Config struct {
	Provider  ProviderConfig  `mapstructure:"provider"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ProviderConfig holds model provider settings.
type ProviderConfig struct {
	// Name selects the provider: "anthropic" or "openai".
	Name string `mapstructure:"name"`
	// Model overrides the provider's default model.
	Model string `mapstructure:"model"`
	// AnthropicAPIKey authenticates against the Anthropic API.
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	// OpenAIAPIKey authenticates against the OpenAI API.
	OpenAIAPIKey string `mapstructure:"openai_api_key"`
	// Timeout bounds a single model invocation.
	Timeout time.Duration `mapstructure:"timeout"`
}

// StorageConfig holds task store settings.
type StorageConfig struct {
	// DBPath is the SQLite database file. Empty means the XDG data dir.
	DBPath string `mapstructure:"db_path"`
}

// QueueConfig holds command queue settings.
type QueueConfig struct {
	// Capacity bounds pending commands. Zero means unbounded.
	Capacity int `mapstructure:"capacity"`
	// FullPolicy selects behavior at capacity: "block" or "reject".
	FullPolicy string `mapstructure:"full_policy"`
}

// SchedulerConfig holds scheduled command settings.
type SchedulerConfig struct {
	// File is the YAML definitions file. Empty disables the scheduler.
	File string `mapstructure:"file"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum level: debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Format is "text" or "json".
	Format string `mapstructure:"format"`
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Provider.Name {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unknown provider %q", c.Provider.Name)
	}
	switch c.Queue.FullPolicy {
	case "block", "reject":
	default:
		return fmt.Errorf("unknown queue full_policy %q", c.Queue.FullPolicy)
	}
	if c.Queue.Capacity < 0 {
		return fmt.Errorf("queue capacity must be non-negative")
	}
	return nil
}

// APIKey returns the key for the selected provider.
func (c *Config) APIKey() string {
	switch c.Provider.Name {
	case "openai":
		return expandEnv(c.Provider.OpenAIAPIKey)
	default:
		return expandEnv(c.Provider.AnthropicAPIKey)
	}
}

// DatabasePath resolves the SQLite file, defaulting to the XDG data dir.
func (c *Config) DatabasePath() string {
	if c.Storage.DBPath != "" {
		return expandEnv(c.Storage.DBPath)
	}
	return filepath.Join(getUserDataDir(), "harmonia.db")
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// getUserConfigDir returns the XDG config directory for Harmonia.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "harmonia")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "harmonia")
	}
	return filepath.Join(home, ".config", "harmonia")
}

// getUserDataDir returns the XDG data directory for Harmonia.
func getUserDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "harmonia")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".local", "share", "harmonia")
	}
	return filepath.Join(home, ".local", "share", "harmonia")
}

// findProjectConfig searches for .harmonia.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".harmonia.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:    "anthropic",
			Timeout: 2 * time.Minute,
		},
		Queue: QueueConfig{
			Capacity:   0,
			FullPolicy: "block",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
