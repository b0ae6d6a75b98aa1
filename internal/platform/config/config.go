package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration, read from the environment so main stays lean.
type Config struct {
	Server       Server
	Log          Log
	Database     Database
	Redis        RedisConfig
	Kafka        Kafka
	Pipeline     Pipeline
	Review       Review
	Providers    Providers
	MetricsAddr  string        `env:"METRICS_ADDR" envDefault:":9090"`
	ShutdownWait time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string `env:"VERITAS_ADDR" envDefault:":8080"`
	JWTSigningKey string `env:"JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	JWTIssuer     string `env:"JWT_ISSUER" envDefault:"veritas"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// Database selects PostgreSQL when URL is set; otherwise stores are in memory.
type Database struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
	Migrate         bool          `env:"DATABASE_MIGRATE" envDefault:"true"`
}

// RedisConfig enables the Redis-backed portal cache when URL is set.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// Kafka enables completion notifications over Kafka when Brokers is non-empty.
type Kafka struct {
	Brokers     []string `env:"KAFKA_BROKERS" envSeparator:","`
	Topic       string   `env:"KAFKA_VERIFICATION_TOPIC" envDefault:"verification.completed"`
	Partitions  int32    `env:"KAFKA_TOPIC_PARTITIONS" envDefault:"3"`
	Replication int16    `env:"KAFKA_TOPIC_REPLICATION" envDefault:"1"`
}

// Pipeline bounds the asynchronous verification pipelines.
type Pipeline struct {
	Workers      int           `env:"PIPELINE_WORKERS" envDefault:"8"`
	QueueSize    int           `env:"PIPELINE_QUEUE_SIZE" envDefault:"256"`
	CheckTimeout time.Duration `env:"CHECK_TIMEOUT" envDefault:"30s"`
}

type Review struct {
	SLAWindow time.Duration `env:"REVIEW_SLA_WINDOW" envDefault:"24h"`
}

// Providers holds the base URLs of the external check authorities.
type Providers struct {
	DigitalURL       string        `env:"PROVIDER_DIGITAL_URL" envDefault:"http://localhost:8091"`
	PortalURL        string        `env:"PROVIDER_PORTAL_URL" envDefault:"http://localhost:8092"`
	ForensicURL      string        `env:"PROVIDER_FORENSIC_URL" envDefault:"http://localhost:8093"`
	IdentityURL      string        `env:"PROVIDER_IDENTITY_URL" envDefault:"http://localhost:8094"`
	APIKey           string        `env:"PROVIDER_API_KEY"`
	RetryMax         int           `env:"PROVIDER_RETRY_MAX" envDefault:"2"`
	RetryWaitMin     time.Duration `env:"PROVIDER_RETRY_WAIT_MIN" envDefault:"200ms"`
	RetryWaitMax     time.Duration `env:"PROVIDER_RETRY_WAIT_MAX" envDefault:"2s"`
	PortalCacheTTL   time.Duration `env:"PORTAL_CACHE_TTL" envDefault:"15m"`
	BreakerThreshold int           `env:"PROVIDER_BREAKER_THRESHOLD" envDefault:"5"`
	BreakerCooldown  time.Duration `env:"PROVIDER_BREAKER_COOLDOWN" envDefault:"30s"`
}

// FromEnv builds a Config from environment variables.
func FromEnv() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Pipeline.Workers < 1 {
		return Config{}, fmt.Errorf("PIPELINE_WORKERS must be positive, got %d", cfg.Pipeline.Workers)
	}
	if cfg.Pipeline.CheckTimeout <= 0 {
		return Config{}, fmt.Errorf("CHECK_TIMEOUT must be positive")
	}
	return cfg, nil
}
