package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "stranger", cfg.Service.Name)
	assert.Equal(t, "match:request:stream", cfg.Worker.MatchStream)
	assert.Equal(t, "match:dead_letter:stream", cfg.Worker.DeadLetterStream)
	assert.Equal(t, "match-consumer-group", cfg.Worker.Group)
	assert.Equal(t, 3, cfg.Worker.MaxRetries)
	assert.Equal(t, "key", cfg.Session.KeyParam)
	assert.Empty(t, cfg.Postgres.DSN)
	assert.Less(t, cfg.Worker.ReclaimMinIdle+cfg.Worker.ReclaimInterval, cfg.Worker.PoolTTL,
		"a reclaimed match request is retried before it expires")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://cache:6380/1")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("WORKER_BLOCK_TIMEOUT", "250ms")
	t.Setenv("WS_ALLOW_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "redis://cache:6380/1", cfg.Redis.URL)
	assert.Equal(t, 8, cfg.Worker.Count)
	assert.Equal(t, 250*time.Millisecond, cfg.Worker.BlockTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Session.AllowOrigins)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
service:
  addr: ":9000"
worker:
  count: 2
  batch_size: 5
logger:
  format: text
`), 0o644))
	t.Setenv("WORKER_COUNT", "6")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Service.Addr)
	assert.Equal(t, 5, cfg.Worker.BatchSize)
	assert.Equal(t, 6, cfg.Worker.Count, "environment wins over the file")
	assert.Equal(t, "text", cfg.Logger.Format)
	// Untouched sections keep their defaults.
	assert.Equal(t, 256, cfg.Session.SendBuffer)
}

func TestLoad_UnknownFileField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worker:\n  nope: 1\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no redis", func(c *Config) { c.Redis.URL = "" }},
		{"no workers", func(c *Config) { c.Worker.Count = 0 }},
		{"no batch", func(c *Config) { c.Worker.BatchSize = 0 }},
		{"no block", func(c *Config) { c.Worker.BlockTimeout = 0 }},
		{"same streams", func(c *Config) { c.Worker.DeadLetterStream = c.Worker.MatchStream }},
		{"no pool ttl", func(c *Config) { c.Worker.PoolTTL = 0 }},
		{"no reclaim idle", func(c *Config) { c.Worker.ReclaimMinIdle = 0 }},
		{"reclaim after expiry", func(c *Config) { c.Worker.ReclaimMinIdle = c.Worker.PoolTTL }},
		{"slow reclaim sweep", func(c *Config) { c.Worker.ReclaimInterval = c.Worker.PoolTTL }},
		{"ping after pong", func(c *Config) { c.Session.PingPeriod = c.Session.PongWait }},
		{"bad path", func(c *Config) { c.Session.Path = "ws" }},
		{"bad format", func(c *Config) { c.Logger.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}
