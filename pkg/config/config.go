package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Relay struct {
		PingInterval        time.Duration `yaml:"ping_interval"`
		PongTimeout         time.Duration `yaml:"pong_timeout"`
		WriteTimeout        time.Duration `yaml:"write_timeout"`
		SendQueueSize       int           `yaml:"send_queue_size"`
		MaxMessageSizeBytes int64         `yaml:"max_message_size_bytes"`
		MaxSendFailures     int           `yaml:"max_send_failures"`
		AllowedOrigins      []string      `yaml:"allowed_origins"`
	} `yaml:"relay"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis RedisConfig `yaml:"redis"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	RateLimiting struct {
		Enabled              bool    `yaml:"enabled"`
		ConnectionsPerMinute int     `yaml:"connections_per_minute"`
		MessagesPerSecond    float64 `yaml:"messages_per_second"`
		Burst                int     `yaml:"burst"`
	} `yaml:"rate_limiting"`
}

// RedisConfig is shared with the cluster bridge's client constructor.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Channel  string `yaml:"channel"`

	// HeartbeatInterval paces presence snapshots; remote presence expires
	// after three missed beats.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Relay
	if c.Relay.PingInterval <= 0 {
		return fmt.Errorf("relay.ping_interval must be > 0")
	}
	if c.Relay.PongTimeout <= c.Relay.PingInterval {
		return fmt.Errorf("relay.pong_timeout must be greater than relay.ping_interval")
	}
	if c.Relay.WriteTimeout <= 0 {
		return fmt.Errorf("relay.write_timeout must be > 0")
	}
	if c.Relay.SendQueueSize <= 0 {
		return fmt.Errorf("relay.send_queue_size must be > 0")
	}
	if c.Relay.MaxMessageSizeBytes <= 0 {
		return fmt.Errorf("relay.max_message_size_bytes must be > 0")
	}
	if c.Relay.MaxSendFailures <= 0 {
		return fmt.Errorf("relay.max_send_failures must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.Channel == "" {
			return fmt.Errorf("redis.channel must not be empty when redis.enabled=true")
		}
		if c.Redis.HeartbeatInterval <= 0 {
			return fmt.Errorf("redis.heartbeat_interval must be > 0 when redis.enabled=true")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("rate_limiting.connections_per_minute must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.ShutdownTimeout = 10 * time.Second

	cfg.Relay.PingInterval = 30 * time.Second
	cfg.Relay.PongTimeout = 60 * time.Second
	cfg.Relay.WriteTimeout = 10 * time.Second
	cfg.Relay.SendQueueSize = 256
	cfg.Relay.MaxMessageSizeBytes = 64 * 1024
	cfg.Relay.MaxSendFailures = 3
	cfg.Relay.AllowedOrigins = []string{"*"}

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.Channel = "midirelay:frames"
	cfg.Redis.HeartbeatInterval = 10 * time.Second

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.ConnectionsPerMinute = 60
	cfg.RateLimiting.MessagesPerSecond = 500
	cfg.RateLimiting.Burst = 1000

	return cfg
}

func (c *Config) applyEnvOverrides() {
	// PORT wins over the file so hosted platforms can assign the port.
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Address = ":" + strings.TrimPrefix(port, ":")
	}
	if addr := os.Getenv("MIDIRELAY_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("MIDIRELAY_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if addr := os.Getenv("MIDIRELAY_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
}
