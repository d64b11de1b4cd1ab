package engine

import (
	"fmt"
	"time"
)

const (
	// DefaultCategoryName is the container all tracking channels live under.
	DefaultCategoryName = "WhosOn Tracking"

	// DefaultCycleInterval is the time between the starts of two cycles.
	DefaultCycleInterval = 120 * time.Second

	// DefaultTargetSpacing is the delay between consecutive targets within
	// one cycle, spreading the platform API load.
	DefaultTargetSpacing = 2 * time.Second

	// DefaultRestartCooldown is how long the scheduler stays Stopped after
	// a cycle fault before restarting itself.
	DefaultRestartCooldown = 30 * time.Second
)

// Config holds the tracking engine's tunables.
type Config struct {
	// CategoryName is the container channels are grouped under.
	CategoryName string `yaml:"category_name" validate:"required"`

	// CycleInterval is the scheduler's full-cycle period.
	CycleInterval time.Duration `yaml:"cycle_interval" validate:"required,min=1s"`

	// TargetSpacing is the inter-target delay within a cycle.
	TargetSpacing time.Duration `yaml:"target_spacing" validate:"min=0"`

	// RestartCooldown is the pause before a faulted scheduler restarts.
	RestartCooldown time.Duration `yaml:"restart_cooldown" validate:"required,min=1s"`

	// ProbeTimeout bounds every single status probe.
	ProbeTimeout time.Duration `yaml:"probe_timeout" validate:"required,min=1s"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		CategoryName:    DefaultCategoryName,
		CycleInterval:   DefaultCycleInterval,
		TargetSpacing:   DefaultTargetSpacing,
		RestartCooldown: DefaultRestartCooldown,
		ProbeTimeout:    5 * time.Second,
	}
}

// Validate checks the configuration for sanity.
func (c *Config) Validate() error {
	if c.CategoryName == "" {
		return fmt.Errorf("category_name must not be empty")
	}
	if c.CycleInterval <= 0 {
		return fmt.Errorf("cycle_interval must be positive")
	}
	if c.TargetSpacing < 0 {
		return fmt.Errorf("target_spacing must not be negative")
	}
	if c.TargetSpacing >= c.CycleInterval {
		return fmt.Errorf("target_spacing must be shorter than cycle_interval")
	}
	if c.RestartCooldown <= 0 {
		return fmt.Errorf("restart_cooldown must be positive")
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("probe_timeout must be positive")
	}
	return nil
}
