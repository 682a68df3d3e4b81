package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"stranger/internal/core/domain"
)

// Default returns the configuration used when neither a file nor the
// environment says otherwise.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:            "stranger",
			Env:             "development",
			Addr:            ":3000",
			ShutdownTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			URL:          "redis://localhost:6379",
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
			MinIdleConns: 2,
			PingTimeout:  2 * time.Second,
			StreamMaxLen: 100000,
		},
		Postgres: PostgresConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 15 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			PingTimeout:     5 * time.Second,
		},
		Worker: WorkerConfig{
			MatchStream:      domain.MatchStream,
			DeadLetterStream: domain.DeadLetterStream,
			Group:            domain.MatchGroup,
			ConsumerPrefix:   "worker",
			Count:            4,
			BatchSize:        10,
			BlockTimeout:     5 * time.Second,
			Backoff:          time.Second,
			ReclaimInterval:  15 * time.Second,
			ReclaimMinIdle:   5 * time.Second,
			MaxRetries:       domain.MaxRetryCount,
			PoolPrefix:       domain.MatchPoolPrefix,
			PoolTTL:          domain.MatchTimeout,
		},
		Session: SessionConfig{
			Path:       "/ws",
			KeyParam:   "key",
			SendBuffer: 256,
			ReadLimit:  64 * 1024,
			WriteWait:  10 * time.Second,
			PongWait:   60 * time.Second,
			PingPeriod: 54 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load starts from Default, applies the optional YAML file at path, then
// lets environment variables override both.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	return decoder.Decode(cfg)
}

func (c *Config) Validate() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("redis url is required")
	}
	if c.Worker.Count <= 0 {
		return fmt.Errorf("worker count must be positive, got %d", c.Worker.Count)
	}
	if c.Worker.BatchSize <= 0 {
		return fmt.Errorf("worker batch size must be positive, got %d", c.Worker.BatchSize)
	}
	if c.Worker.BlockTimeout <= 0 {
		return fmt.Errorf("worker block timeout must be positive")
	}
	if c.Worker.MatchStream == c.Worker.DeadLetterStream {
		return fmt.Errorf("dead letter stream must differ from match stream")
	}
	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("worker max retries cannot be negative")
	}
	if c.Worker.PoolTTL <= 0 {
		return fmt.Errorf("worker pool ttl must be positive")
	}
	if c.Worker.ReclaimMinIdle <= 0 {
		return fmt.Errorf("worker reclaim min idle must be positive")
	}
	// A reclaimed request has to reach a worker before it expires.
	if c.Worker.ReclaimMinIdle+max(c.Worker.ReclaimInterval, 0) >= c.Worker.PoolTTL {
		return fmt.Errorf("reclaim min idle (%s) plus interval (%s) must be shorter than pool ttl (%s)",
			c.Worker.ReclaimMinIdle, c.Worker.ReclaimInterval, c.Worker.PoolTTL)
	}
	if c.Session.SendBuffer <= 0 {
		return fmt.Errorf("session send buffer must be positive")
	}
	if c.Session.PingPeriod >= c.Session.PongWait {
		return fmt.Errorf("ping period (%s) must be shorter than pong wait (%s)", c.Session.PingPeriod, c.Session.PongWait)
	}
	if !strings.HasPrefix(c.Session.Path, "/") {
		return fmt.Errorf("websocket path must start with /")
	}
	switch strings.ToLower(c.Logger.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Logger.Format)
	}
	return nil
}
