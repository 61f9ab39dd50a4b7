package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, int64(1<<20), cfg.Download.FlushSize)
	assert.Equal(t, 30*time.Second, cfg.Download.Timeout)
}

func TestLoadFromYAML(t *testing.T) {
	path := writeFile(t, "fetchpool.yaml", `
listen: 0.0.0.0:9000
agents: 8
tick: 50ms
download:
  flush_size: 4MiB
  timeout: 1m
throughput:
  record_interval: 20s
http:
  buffer_size: 64KiB
  user_agent: test-agent
retry:
  attempts: 5
  discard_on_give_up: true
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, 8, cfg.Agents)
	assert.Equal(t, 50*time.Millisecond, cfg.Tick)
	assert.Equal(t, int64(4<<20), cfg.Download.FlushSize)
	assert.Equal(t, time.Minute, cfg.Download.Timeout)
	assert.Equal(t, time.Second, cfg.Throughput.UpdateInterval)
	assert.Equal(t, 20*time.Second, cfg.Throughput.RecordInterval)
	assert.Equal(t, int64(64<<10), cfg.HTTP.BufferSize)
	assert.Equal(t, "test-agent", cfg.HTTP.UserAgent)
	assert.Equal(t, 5, cfg.Retry.Attempts)
	assert.True(t, cfg.Retry.DiscardOnGiveUp)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromTOML(t *testing.T) {
	path := writeFile(t, "fetchpool.toml", `
agents = 2
output_dir = "/srv/downloads"

[download]
flush_size = "512KiB"
timeout = "10s"
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Agents)
	assert.Equal(t, "/srv/downloads", cfg.OutputDir)
	assert.Equal(t, int64(512<<10), cfg.Download.FlushSize)
	assert.Equal(t, 10*time.Second, cfg.Download.Timeout)
	assert.Equal(t, "127.0.0.1:7467", cfg.Listen)
}

func TestLoadFromFileErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadFromFile(writeFile(t, "bad.yaml", "download:\n  timeout: soon\n"))
	assert.ErrorContains(t, err, "download.timeout")

	_, err = LoadFromFile(writeFile(t, "bad.toml", "[download]\nflush_size = \"lots\"\n"))
	assert.ErrorContains(t, err, "download.flush_size")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FETCHPOOL_AGENTS", "6")
	t.Setenv("FETCHPOOL_DOWNLOAD_FLUSH_SIZE", "2MiB")
	t.Setenv("FETCHPOOL_DOWNLOAD_TIMEOUT", "45s")
	t.Setenv("FETCHPOOL_LOG_LEVEL", "debug")
	t.Setenv("FETCHPOOL_TIME_SCALE", "0.5")
	t.Setenv("FETCHPOOL_RETRY_DISCARD_ON_GIVE_UP", "1")

	cfg := Default()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, 6, cfg.Agents)
	assert.Equal(t, int64(2<<20), cfg.Download.FlushSize)
	assert.Equal(t, 45*time.Second, cfg.Download.Timeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 0.5, cfg.TimeScale)
	assert.True(t, cfg.Retry.DiscardOnGiveUp)
}

func TestLoadFromEnvErrors(t *testing.T) {
	t.Setenv("FETCHPOOL_AGENTS", "many")
	cfg := Default()
	assert.ErrorContains(t, cfg.LoadFromEnv(), "FETCHPOOL_AGENTS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no agents", func(c *Config) { c.Agents = 0 }},
		{"zero tick", func(c *Config) { c.Tick = 0 }},
		{"zero flush size", func(c *Config) { c.Download.FlushSize = 0 }},
		{"negative timeout", func(c *Config) { c.Download.Timeout = -time.Second }},
		{"zero record interval", func(c *Config) { c.Throughput.RecordInterval = 0 }},
		{"no attempts", func(c *Config) { c.Retry.Attempts = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestDerivedConfigs(t *testing.T) {
	cfg := Default()
	mc := cfg.ManagerConfig()
	assert.Equal(t, cfg.Download.FlushSize, mc.FlushSize)
	assert.Equal(t, cfg.Throughput.RecordInterval, mc.SpeedRecordInterval)

	ec := cfg.EngineConfig()
	assert.Equal(t, cfg.Tick, ec.Tick)
	assert.Equal(t, cfg.TimeScale, ec.TimeScale)
}
