package batch

import (
	"time"
)

// Config controls orchestrator intervals, per-layer timeouts and which
// layers a process runs. An empty EnabledLayers list enables everything
// (monolith mode).
type Config struct {
	RunInterval   time.Duration
	LayerTimeout  time.Duration
	EnabledLayers []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:  time.Minute,
		LayerTimeout: 5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.LayerTimeout <= 0 {
		c.LayerTimeout = defaults.LayerTimeout
	}
	return c
}
