// Package config loads and validates the synchronizer configuration from YAML
// files with environment-variable overrides. It provides typed structs for
// every subsystem (Postgres, Redis, Elastic, Kafka, Checkpoint, ETL, Backoff,
// etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Elastic    ElasticConfig    `yaml:"elastic"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	ETL        ETLConfig        `yaml:"etl"`
	Backoff    BackoffConfig    `yaml:"backoff"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// ElasticConfig holds the search cluster endpoints and request limits.
type ElasticConfig struct {
	Addresses      []string      `yaml:"addresses"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Sniff          bool          `yaml:"sniff"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// KafkaConfig holds Kafka broker and topic settings. Kafka is optional: when
// disabled, sync events are dropped and triggers are not consumed.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	SyncEvents  string `yaml:"syncEvents"`
	SyncTrigger string `yaml:"syncTrigger"`
}

// CheckpointConfig selects where the watermark lives.
type CheckpointConfig struct {
	Backend    string `yaml:"backend"`
	Prefix     string `yaml:"prefix"`
	SQLitePath string `yaml:"sqlitePath"`
}

// Checkpoint backends.
const (
	CheckpointRedis  = "redis"
	CheckpointSQLite = "sqlite"
)

// ETLConfig controls the synchronization loop.
type ETLConfig struct {
	Interval       time.Duration `yaml:"interval"`
	BatchSize      int           `yaml:"batchSize"`
	Schema         string        `yaml:"schema"`
	OnMalformedRow string        `yaml:"onMalformedRow"`
}

// Malformed row policies.
const (
	MalformedSkip  = "skip"
	MalformedAbort = "abort"
)

// BackoffConfig controls retries of calls to Postgres, Redis and Elastic.
// Delay for attempt n is Factor * Base^n, capped at MaxDelay. MaxAttempts of
// zero retries forever.
type BackoffConfig struct {
	Base        float64       `yaml:"base"`
	Factor      time.Duration `yaml:"factor"`
	MaxDelay    time.Duration `yaml:"maxDelay"`
	MaxAttempts int           `yaml:"maxAttempts"`
	Jitter      float64       `yaml:"jitter"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

// BreakerConfig controls the per-dependency circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig toggles per-cycle span logging.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics and health server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.ETL.Interval <= 0 {
		return fmt.Errorf("etl.interval must be positive, got %v", c.ETL.Interval)
	}
	if c.ETL.BatchSize <= 0 {
		return fmt.Errorf("etl.batchSize must be positive, got %d", c.ETL.BatchSize)
	}
	if c.ETL.Schema == "" {
		return fmt.Errorf("etl.schema must not be empty")
	}
	switch c.ETL.OnMalformedRow {
	case MalformedSkip, MalformedAbort:
	default:
		return fmt.Errorf("etl.onMalformedRow must be %q or %q, got %q", MalformedSkip, MalformedAbort, c.ETL.OnMalformedRow)
	}
	switch c.Checkpoint.Backend {
	case CheckpointRedis:
	case CheckpointSQLite:
		if c.Checkpoint.SQLitePath == "" {
			return fmt.Errorf("checkpoint.sqlitePath is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("checkpoint.backend must be %q or %q, got %q", CheckpointRedis, CheckpointSQLite, c.Checkpoint.Backend)
	}
	if c.Backoff.Base < 1 {
		return fmt.Errorf("backoff.base must be >= 1, got %v", c.Backoff.Base)
	}
	if c.Backoff.MaxAttempts < 0 {
		return fmt.Errorf("backoff.maxAttempts must not be negative, got %d", c.Backoff.MaxAttempts)
	}
	if len(c.Elastic.Addresses) == 0 {
		return fmt.Errorf("elastic.addresses must not be empty")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers must not be empty when kafka is enabled")
	}
	return nil
}

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "movies_database",
			User:            "app",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 4,
		},
		Elastic: ElasticConfig{
			Addresses:      []string{"http://localhost:9200"},
			RequestTimeout: 30 * time.Second,
		},
		Kafka: KafkaConfig{
			Enabled:       false,
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "movies-etl",
			Topics: KafkaTopics{
				SyncEvents:  "etl.sync-events",
				SyncTrigger: "etl.sync-trigger",
			},
		},
		Checkpoint: CheckpointConfig{
			Backend:    CheckpointRedis,
			Prefix:     "movies",
			SQLitePath: "data/checkpoint.db",
		},
		ETL: ETLConfig{
			Interval:       10 * time.Second,
			BatchSize:      50,
			Schema:         "content",
			OnMalformedRow: MalformedSkip,
		},
		Backoff: BackoffConfig{
			Base:        2,
			Factor:      100 * time.Millisecond,
			MaxDelay:    10 * time.Second,
			MaxAttempts: 10,
			Jitter:      0.1,
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads ETL_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ETL_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("ETL_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("ETL_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("ETL_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("ETL_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("ETL_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("ETL_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("ETL_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ETL_ELASTIC_ADDRESSES"); v != "" {
		cfg.Elastic.Addresses = strings.Split(v, ",")
	}
	if v := os.Getenv("ETL_ELASTIC_USERNAME"); v != "" {
		cfg.Elastic.Username = v
	}
	if v := os.Getenv("ETL_ELASTIC_PASSWORD"); v != "" {
		cfg.Elastic.Password = v
	}
	if v := os.Getenv("ETL_KAFKA_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = enabled
		}
	}
	if v := os.Getenv("ETL_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("ETL_CHECKPOINT_BACKEND"); v != "" {
		cfg.Checkpoint.Backend = v
	}
	if v := os.Getenv("ETL_CHECKPOINT_PREFIX"); v != "" {
		cfg.Checkpoint.Prefix = v
	}
	if v := os.Getenv("ETL_CHECKPOINT_SQLITE_PATH"); v != "" {
		cfg.Checkpoint.SQLitePath = v
	}
	if v := os.Getenv("ETL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ETL.Interval = d
		}
	}
	if v := os.Getenv("ETL_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ETL.BatchSize = n
		}
	}
	if v := os.Getenv("ETL_ON_MALFORMED_ROW"); v != "" {
		cfg.ETL.OnMalformedRow = v
	}
	if v := os.Getenv("ETL_BACKOFF_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backoff.MaxAttempts = n
		}
	}
	if v := os.Getenv("ETL_BACKOFF_MAX_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Backoff.MaxDelay = d
		}
	}
	if v := os.Getenv("ETL_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ETL_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("ETL_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
