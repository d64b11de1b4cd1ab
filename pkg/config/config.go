// Package config loads and validates the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/whoson/whoson/pkg/engine"
	"github.com/whoson/whoson/pkg/store"
	"github.com/whoson/whoson/pkg/telemetry"
)

// envBotToken overrides discord.token when set, keeping the secret out of
// config files.
const envBotToken = "DISCORD_BOT_TOKEN"

// DiscordConfig holds the gateway connection settings.
type DiscordConfig struct {
	// Token is the bot token. Prefer the DISCORD_BOT_TOKEN environment
	// variable over putting it here. Only serve needs it; the offline
	// commands run without one.
	Token string `yaml:"token"`
}

// Config is the daemon's full configuration.
type Config struct {
	Discord  DiscordConfig           `yaml:"discord"`
	Store    store.Config            `yaml:"store"`
	Tracking engine.Config           `yaml:"tracking"`
	Logging  telemetry.LoggingConfig `yaml:"logging"`
	Metrics  telemetry.MetricsConfig `yaml:"metrics"`
}

// Default returns the configuration defaults. The token has no default.
func Default() *Config {
	return &Config{
		Store:    store.Config{Path: "whoson.db"},
		Tracking: engine.DefaultConfig(),
		Logging:  telemetry.DefaultLoggingConfig(),
		Metrics:  telemetry.DefaultMetricsConfig(),
	}
}

// Load reads the YAML file at path over the defaults and applies
// environment overrides. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if token := os.Getenv(envBotToken); token != "" {
		cfg.Discord.Token = token
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration using struct tags plus the sections'
// own Validate methods.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("invalid configuration: store.path must not be empty")
	}
	if err := c.Tracking.Validate(); err != nil {
		return fmt.Errorf("invalid tracking configuration: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging configuration: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics configuration: %w", err)
	}
	return nil
}
