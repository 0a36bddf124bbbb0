package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Server.Address)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("MIDIRELAY_SERVER_ADDRESS", "")
	t.Setenv("MIDIRELAY_REDIS_ADDRESS", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 256, cfg.Relay.SendQueueSize)
}

func TestLoad_PortEnvOverride(t *testing.T) {
	t.Setenv("PORT", "9123")
	t.Setenv("MIDIRELAY_SERVER_ADDRESS", "")
	t.Setenv("MIDIRELAY_REDIS_ADDRESS", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":9123", cfg.Server.Address)
}

func TestLoad_YAMLFile(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("MIDIRELAY_SERVER_ADDRESS", "")
	t.Setenv("MIDIRELAY_LOG_LEVEL", "")
	t.Setenv("MIDIRELAY_REDIS_ADDRESS", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  address: ":7000"
relay:
  send_queue_size: 16
  max_send_failures: 5
  ping_interval: 5s
  pong_timeout: 15s
logging:
  level: debug
  format: console
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Address)
	assert.Equal(t, 16, cfg.Relay.SendQueueSize)
	assert.Equal(t, 5, cfg.Relay.MaxSendFailures)
	assert.Equal(t, 5*time.Second, cfg.Relay.PingInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// untouched keys keep their defaults
	assert.Equal(t, 10*time.Second, cfg.Relay.WriteTimeout)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RedisEnvEnablesCluster(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("MIDIRELAY_SERVER_ADDRESS", "")
	t.Setenv("MIDIRELAY_REDIS_ADDRESS", "redis:6379")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Address)
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.ConnectionsPerMinute = 0
	cfg.RateLimiting.MessagesPerSecond = 0
	cfg.RateLimiting.Burst = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty address", func(c *Config) { c.Server.Address = "" }},
		{"pong timeout not above ping interval", func(c *Config) { c.Relay.PongTimeout = c.Relay.PingInterval }},
		{"zero send queue", func(c *Config) { c.Relay.SendQueueSize = 0 }},
		{"zero max message size", func(c *Config) { c.Relay.MaxMessageSizeBytes = 0 }},
		{"zero max send failures", func(c *Config) { c.Relay.MaxSendFailures = 0 }},
		{"redis without channel", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Channel = ""
		}},
		{"redis without heartbeat", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.HeartbeatInterval = 0
		}},
		{"tracing sample rate above one", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.SampleRate = 1.5
		}},
		{"rate limiting zero burst", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.Burst = 0
		}},
		{"rate limiting zero messages per second", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.MessagesPerSecond = 0
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}
