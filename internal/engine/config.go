// Package engine drives a download manager from a single goroutine.
package engine

import "time"

// Config defines the loop configuration.
type Config struct {
	// Tick is the interval between updates.
	Tick time.Duration `yaml:"tick" toml:"tick"`
	// TimeScale multiplies the real elapsed time to produce the scaled
	// delta passed as dt.
	TimeScale float64 `yaml:"time_scale" toml:"time_scale"`
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() *Config {
	return &Config{
		Tick:      100 * time.Millisecond,
		TimeScale: 1,
	}
}

func (c *Config) scale(realDt time.Duration) time.Duration {
	if c.TimeScale <= 0 {
		return realDt
	}
	return time.Duration(float64(realDt) * c.TimeScale)
}
