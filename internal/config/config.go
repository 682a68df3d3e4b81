package config

import "time"

type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Worker   WorkerConfig   `yaml:"worker"`
	Session  SessionConfig  `yaml:"session"`
	Logger   LoggerConfig   `yaml:"logger"`
	Tracer   TracerConfig   `yaml:"tracer"`
}

type ServiceConfig struct {
	Name            string        `yaml:"name" envconfig:"SERVICE_NAME"`
	Env             string        `yaml:"env" envconfig:"SERVICE_ENV"`
	Addr            string        `yaml:"addr" envconfig:"SERVICE_ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SERVICE_SHUTDOWN_TIMEOUT"`
}

type RedisConfig struct {
	URL          string        `yaml:"url" envconfig:"REDIS_URL"`
	DialTimeout  time.Duration `yaml:"dial_timeout" envconfig:"REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"REDIS_WRITE_TIMEOUT"`
	PoolSize     int           `yaml:"pool_size" envconfig:"REDIS_POOL_SIZE"`
	MinIdleConns int           `yaml:"min_idle_conns" envconfig:"REDIS_MIN_IDLE"`
	PingTimeout  time.Duration `yaml:"ping_timeout" envconfig:"REDIS_PING_TIMEOUT"`
	// StreamMaxLen caps streams approximately on append; 0 disables trimming.
	StreamMaxLen int64 `yaml:"stream_max_len" envconfig:"REDIS_STREAM_MAXLEN"`
}

// PostgresConfig is optional: an empty DSN disables match history.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn" envconfig:"DATABASE_URL"`
	MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" envconfig:"DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"DB_CONN_LIFETIME"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" envconfig:"DB_CONN_IDLE_TIME"`
	PingTimeout     time.Duration `yaml:"ping_timeout" envconfig:"DB_PING_TIMEOUT"`
}

type WorkerConfig struct {
	MatchStream      string        `yaml:"match_stream" envconfig:"WORKER_MATCH_STREAM"`
	DeadLetterStream string        `yaml:"dead_letter_stream" envconfig:"WORKER_DEAD_LETTER_STREAM"`
	Group            string        `yaml:"group" envconfig:"WORKER_GROUP"`
	ConsumerPrefix   string        `yaml:"consumer_prefix" envconfig:"WORKER_CONSUMER_PREFIX"`
	Count            int           `yaml:"count" envconfig:"WORKER_COUNT"`
	BatchSize        int           `yaml:"batch_size" envconfig:"WORKER_BATCH_SIZE"`
	BlockTimeout     time.Duration `yaml:"block_timeout" envconfig:"WORKER_BLOCK_TIMEOUT"`
	Backoff          time.Duration `yaml:"backoff" envconfig:"WORKER_BACKOFF"`
	ReclaimInterval  time.Duration `yaml:"reclaim_interval" envconfig:"WORKER_RECLAIM_INTERVAL"`
	ReclaimMinIdle   time.Duration `yaml:"reclaim_min_idle" envconfig:"WORKER_RECLAIM_MIN_IDLE"`
	MaxRetries       int           `yaml:"max_retries" envconfig:"WORKER_MAX_RETRIES"`
	PoolPrefix       string        `yaml:"pool_prefix" envconfig:"WORKER_POOL_PREFIX"`
	PoolTTL          time.Duration `yaml:"pool_ttl" envconfig:"WORKER_POOL_TTL"`
	// DeleteAcked removes entries from the stream once acknowledged.
	DeleteAcked bool `yaml:"delete_acked" envconfig:"WORKER_DELETE_ACKED"`
}

type SessionConfig struct {
	Path         string        `yaml:"path" envconfig:"WS_PATH"`
	KeyParam     string        `yaml:"key_param" envconfig:"WS_KEY_PARAM"`
	SendBuffer   int           `yaml:"send_buffer" envconfig:"WS_SEND_BUFFER"`
	ReadLimit    int64         `yaml:"read_limit" envconfig:"WS_READ_LIMIT"`
	WriteWait    time.Duration `yaml:"write_wait" envconfig:"WS_WRITE_WAIT"`
	PongWait     time.Duration `yaml:"pong_wait" envconfig:"WS_PONG_WAIT"`
	PingPeriod   time.Duration `yaml:"ping_period" envconfig:"WS_PING_PERIOD"`
	AllowOrigins []string      `yaml:"allow_origins" envconfig:"WS_ALLOW_ORIGINS"`
}

type LoggerConfig struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT"`
}

// TracerConfig points at an OTLP/gRPC collector. An empty address turns
// exporting off.
type TracerConfig struct {
	Address string `yaml:"address" envconfig:"OTEL_EXPORTER_ADDRESS"`
}
