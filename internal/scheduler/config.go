package scheduler

import (
	"time"
)

// Config controls the loop interval. The loop exists for deployments without
// a host cron; one run per day is the expected cadence.
type Config struct {
	RunInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval: 24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	return c
}
