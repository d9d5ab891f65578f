package streaming

import "time"

// Config controls stream consumption and flush cadence.
type Config struct {
	Stream        string
	Group         string
	Consumer      string
	BatchSize     int
	FlushInterval time.Duration
	BlockTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Stream:        "usage:events",
		Group:         "cdrflow-ingest",
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		BlockTimeout:  2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Stream == "" {
		c.Stream = defaults.Stream
	}
	if c.Group == "" {
		c.Group = defaults.Group
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaults.FlushInterval
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = defaults.BlockTimeout
	}
	return c
}
