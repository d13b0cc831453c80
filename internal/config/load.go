package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (HARMONIA_*, ANTHROPIC_API_KEY, OPENAI_API_KEY)
// 2. Project config (.harmonia.yaml in current directory or parent)
// 3. User config (~/.config/harmonia/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	bindEnv(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	bindEnv(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// bindEnv maps specific environment variables onto config keys.
func bindEnv(v *viper.Viper) {
	v.BindEnv("provider.anthropic_api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("provider.openai_api_key", "OPENAI_API_KEY")
	v.BindEnv("provider.name", "HARMONIA_PROVIDER")
	v.BindEnv("provider.model", "HARMONIA_MODEL")
	v.BindEnv("storage.db_path", "HARMONIA_DB_PATH")
	v.BindEnv("queue.capacity", "HARMONIA_QUEUE_CAPACITY")
	v.BindEnv("queue.full_policy", "HARMONIA_QUEUE_FULL_POLICY")
	v.BindEnv("scheduler.file", "HARMONIA_SCHEDULE_FILE")
	v.BindEnv("logging.level", "HARMONIA_LOG_LEVEL")
	v.BindEnv("logging.format", "HARMONIA_LOG_FORMAT")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	// Provider defaults
	v.SetDefault("provider.name", "anthropic")
	v.SetDefault("provider.model", "")
	v.SetDefault("provider.anthropic_api_key", "")
	v.SetDefault("provider.openai_api_key", "")
	v.SetDefault("provider.timeout", "2m")

	// Storage defaults
	v.SetDefault("storage.db_path", "")

	// Queue defaults
	v.SetDefault("queue.capacity", 0)
	v.SetDefault("queue.full_policy", "block")

	// Scheduler defaults
	v.SetDefault("scheduler.file", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}
