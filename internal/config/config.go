package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/fentz26/fetchpool/internal/download"
	"github.com/fentz26/fetchpool/internal/engine"
)

// ErrInvalidConfig is wrapped by every Validate error.
var ErrInvalidConfig = errors.New("config: invalid")

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "FETCHPOOL_"

// Config defines configuration for fetchpool.
type Config struct {
	Listen    string
	DB        string
	LogLevel  string
	Agents    int
	OutputDir string
	// Bucket is a gocloud bucket URL. When set, download URIs are object
	// keys inside it instead of HTTP URLs.
	Bucket string

	Tick      time.Duration
	TimeScale float64

	Download   DownloadConfig
	Throughput ThroughputConfig
	HTTP       HTTPConfig
	Retry      RetryConfig
}

// DownloadConfig holds per-download defaults.
type DownloadConfig struct {
	FlushSize int64
	Timeout   time.Duration
}

// ThroughputConfig configures the speed counter.
type ThroughputConfig struct {
	UpdateInterval time.Duration
	RecordInterval time.Duration
}

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	Timeout    time.Duration
	UserAgent  string
	BufferSize int64
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	Attempts        int
	DiscardOnGiveUp bool
}

// Default returns a Config with sensible defaults.
func Default() Config {
	homeDir, _ := os.UserHomeDir()
	return Config{
		Listen:    "127.0.0.1:7467",
		DB:        filepath.Join(homeDir, ".fetchpool", "history.db"),
		LogLevel:  "info",
		Agents:    4,
		OutputDir: ".",
		Tick:      100 * time.Millisecond,
		TimeScale: 1,
		Download: DownloadConfig{
			FlushSize: 1 << 20,
			Timeout:   30 * time.Second,
		},
		Throughput: ThroughputConfig{
			UpdateInterval: time.Second,
			RecordInterval: 10 * time.Second,
		},
		HTTP: HTTPConfig{
			Timeout:    30 * time.Second,
			UserAgent:  "fetchpool",
			BufferSize: 32 << 10,
		},
		Retry: RetryConfig{
			Attempts: 3,
		},
	}
}

// fileConfig mirrors Config with string sizes and durations.
type fileConfig struct {
	Listen     string         `yaml:"listen" toml:"listen"`
	DB         string         `yaml:"db" toml:"db"`
	LogLevel   string         `yaml:"log_level" toml:"log_level"`
	Agents     int            `yaml:"agents" toml:"agents"`
	OutputDir  string         `yaml:"output_dir" toml:"output_dir"`
	Bucket     string         `yaml:"bucket" toml:"bucket"`
	Tick       string         `yaml:"tick" toml:"tick"`
	TimeScale  float64        `yaml:"time_scale" toml:"time_scale"`
	Download   fileDownload   `yaml:"download" toml:"download"`
	Throughput fileThroughput `yaml:"throughput" toml:"throughput"`
	HTTP       fileHTTP       `yaml:"http" toml:"http"`
	Retry      fileRetry      `yaml:"retry" toml:"retry"`
}

type fileDownload struct {
	FlushSize string `yaml:"flush_size" toml:"flush_size"`
	Timeout   string `yaml:"timeout" toml:"timeout"`
}

type fileThroughput struct {
	UpdateInterval string `yaml:"update_interval" toml:"update_interval"`
	RecordInterval string `yaml:"record_interval" toml:"record_interval"`
}

type fileHTTP struct {
	Timeout    string `yaml:"timeout" toml:"timeout"`
	UserAgent  string `yaml:"user_agent" toml:"user_agent"`
	BufferSize string `yaml:"buffer_size" toml:"buffer_size"`
}

type fileRetry struct {
	Attempts        int  `yaml:"attempts" toml:"attempts"`
	DiscardOnGiveUp bool `yaml:"discard_on_give_up" toml:"discard_on_give_up"`
}

// LoadFromFile loads configuration from a YAML or TOML file. Fields missing
// from the file keep their defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg := Default()
	if err := cfg.apply(fc); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) apply(fc fileConfig) error {
	if fc.Listen != "" {
		c.Listen = fc.Listen
	}
	if fc.DB != "" {
		c.DB = fc.DB
	}
	if fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}
	if fc.Agents != 0 {
		c.Agents = fc.Agents
	}
	if fc.OutputDir != "" {
		c.OutputDir = fc.OutputDir
	}
	if fc.Bucket != "" {
		c.Bucket = fc.Bucket
	}
	if fc.TimeScale != 0 {
		c.TimeScale = fc.TimeScale
	}
	if fc.Retry.Attempts != 0 {
		c.Retry.Attempts = fc.Retry.Attempts
	}
	c.Retry.DiscardOnGiveUp = fc.Retry.DiscardOnGiveUp
	if fc.HTTP.UserAgent != "" {
		c.HTTP.UserAgent = fc.HTTP.UserAgent
	}

	durations := []struct {
		key string
		src string
		dst *time.Duration
	}{
		{"tick", fc.Tick, &c.Tick},
		{"download.timeout", fc.Download.Timeout, &c.Download.Timeout},
		{"throughput.update_interval", fc.Throughput.UpdateInterval, &c.Throughput.UpdateInterval},
		{"throughput.record_interval", fc.Throughput.RecordInterval, &c.Throughput.RecordInterval},
		{"http.timeout", fc.HTTP.Timeout, &c.HTTP.Timeout},
	}
	for _, d := range durations {
		if d.src == "" {
			continue
		}
		v, err := time.ParseDuration(d.src)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	sizes := []struct {
		key string
		src string
		dst *int64
	}{
		{"download.flush_size", fc.Download.FlushSize, &c.Download.FlushSize},
		{"http.buffer_size", fc.HTTP.BufferSize, &c.HTTP.BufferSize},
	}
	for _, s := range sizes {
		if s.src == "" {
			continue
		}
		v, err := ParseBytes(s.src)
		if err != nil {
			return fmt.Errorf("parse %s: %w", s.key, err)
		}
		*s.dst = v
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the FETCHPOOL_ prefix.
func (c *Config) LoadFromEnv() error {
	strs := map[string]*string{
		"LISTEN":          &c.Listen,
		"DB":              &c.DB,
		"LOG_LEVEL":       &c.LogLevel,
		"OUTPUT_DIR":      &c.OutputDir,
		"BUCKET":          &c.Bucket,
		"HTTP_USER_AGENT": &c.HTTP.UserAgent,
	}
	for key, dst := range strs {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"AGENTS":         &c.Agents,
		"RETRY_ATTEMPTS": &c.Retry.Attempts,
	}
	for key, dst := range ints {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"TICK":                       &c.Tick,
		"DOWNLOAD_TIMEOUT":           &c.Download.Timeout,
		"THROUGHPUT_UPDATE_INTERVAL": &c.Throughput.UpdateInterval,
		"THROUGHPUT_RECORD_INTERVAL": &c.Throughput.RecordInterval,
		"HTTP_TIMEOUT":               &c.HTTP.Timeout,
	}
	for key, dst := range durations {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", EnvPrefix, key, err)
			}
			*dst = d
		}
	}

	sizes := map[string]*int64{
		"DOWNLOAD_FLUSH_SIZE": &c.Download.FlushSize,
		"HTTP_BUFFER_SIZE":    &c.HTTP.BufferSize,
	}
	for key, dst := range sizes {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			n, err := ParseBytes(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}

	if v := os.Getenv(EnvPrefix + "TIME_SCALE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse %sTIME_SCALE: %w", EnvPrefix, err)
		}
		c.TimeScale = f
	}
	if v := os.Getenv(EnvPrefix + "RETRY_DISCARD_ON_GIVE_UP"); v != "" {
		c.Retry.DiscardOnGiveUp = v == "true" || v == "1"
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch {
	case c.Agents < 1:
		return fmt.Errorf("%w: agents must be at least 1", ErrInvalidConfig)
	case c.Tick <= 0:
		return fmt.Errorf("%w: tick must be positive", ErrInvalidConfig)
	case c.TimeScale <= 0:
		return fmt.Errorf("%w: time_scale must be positive", ErrInvalidConfig)
	case c.Download.FlushSize <= 0:
		return fmt.Errorf("%w: download.flush_size must be positive", ErrInvalidConfig)
	case c.Download.Timeout <= 0:
		return fmt.Errorf("%w: download.timeout must be positive", ErrInvalidConfig)
	case c.Throughput.UpdateInterval <= 0 || c.Throughput.RecordInterval <= 0:
		return fmt.Errorf("%w: throughput intervals must be positive", ErrInvalidConfig)
	case c.Retry.Attempts < 1:
		return fmt.Errorf("%w: retry.attempts must be at least 1", ErrInvalidConfig)
	case c.HTTP.BufferSize <= 0:
		return fmt.Errorf("%w: http.buffer_size must be positive", ErrInvalidConfig)
	}
	return nil
}

// ManagerConfig returns the download manager configuration.
func (c *Config) ManagerConfig() download.Config {
	return download.Config{
		FlushSize:           c.Download.FlushSize,
		Timeout:             c.Download.Timeout,
		SpeedUpdateInterval: c.Throughput.UpdateInterval,
		SpeedRecordInterval: c.Throughput.RecordInterval,
	}
}

// EngineConfig returns the loop configuration.
func (c *Config) EngineConfig() *engine.Config {
	return &engine.Config{Tick: c.Tick, TimeScale: c.TimeScale}
}

// ParseBytes parses a human readable byte size such as "1MiB".
func ParseBytes(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("size %q is too large", s)
	}
	return int64(n), nil
}
