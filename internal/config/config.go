// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Lease     LeaseConfig     `mapstructure:"lease"`
	Reaper    ReaperConfig    `mapstructure:"reaper"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int             `mapstructure:"port"`
	RequestTimeout  time.Duration   `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig throttles report creation per class. RPS <= 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DatabaseConfig controls the Postgres request store. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// QueueConfig selects and configures the job queue backend.
type QueueConfig struct {
	Backend string            `mapstructure:"backend"`
	Memory  MemoryQueueConfig `mapstructure:"memory"`
	PubSub  PubSubConfig      `mapstructure:"pubsub"`
	Asynq   AsynqConfig       `mapstructure:"asynq"`
}

// MemoryQueueConfig sizes the in-process queue.
type MemoryQueueConfig struct {
	Depth     int           `mapstructure:"depth"`
	NackDelay time.Duration `mapstructure:"nack_delay"`
}

// PubSubConfig holds the Google Cloud Pub/Sub topic and subscription.
type PubSubConfig struct {
	ProjectID    string `mapstructure:"project_id"`
	Topic        string `mapstructure:"topic"`
	Subscription string `mapstructure:"subscription"`
}

// AsynqConfig holds the Redis connection used by asynq.
type AsynqConfig struct {
	RedisURL string `mapstructure:"redis_url"`
	Queue    string `mapstructure:"queue"`
	MaxRetry int    `mapstructure:"max_retry"`
}

// StorageConfig selects and configures the artifact store.
type StorageConfig struct {
	Backend string      `mapstructure:"backend"`
	Prefix  string      `mapstructure:"prefix"`
	GCS     GCSConfig   `mapstructure:"gcs"`
	S3      S3Config    `mapstructure:"s3"`
	Local   LocalConfig `mapstructure:"local"`
}

// GCSConfig configures the Google Cloud Storage artifact store.
type GCSConfig struct {
	Bucket         string `mapstructure:"bucket"`
	SignerEmail    string `mapstructure:"signer_email"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
}

// S3Config configures the S3 (or MinIO) artifact store.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	PartSizeMB      int64  `mapstructure:"part_size_mb"`
}

// LocalConfig configures the filesystem artifact store.
type LocalConfig struct {
	BaseDir       string `mapstructure:"base_dir"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	SigningKey    string `mapstructure:"signing_key"`
}

// WorkerConfig governs the worker pool.
type WorkerConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	JobTimeout    time.Duration `mapstructure:"job_timeout"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

// LeaseConfig selects the processing lease backend. An empty RedisURL selects
// the in-process lease.
type LeaseConfig struct {
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ReaperConfig controls the stale-processing sweep.
type ReaperConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Schedule string        `mapstructure:"schedule"`
	MaxAge   time.Duration `mapstructure:"max_age"`
}

// TelemetryConfig controls tracing export.
type TelemetryConfig struct {
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	GCPProjectID string `mapstructure:"gcp_project_id"`
}

// Load builds a Config from disk/environment. A .env file in the working
// directory is loaded into the process environment first when present.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("REPORTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit.rps", 0)
	v.SetDefault("server.rate_limit.burst", 5)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.memory.depth", 64)
	v.SetDefault("queue.memory.nack_delay", "1s")
	v.SetDefault("queue.pubsub.project_id", "")
	v.SetDefault("queue.pubsub.topic", "")
	v.SetDefault("queue.pubsub.subscription", "")
	v.SetDefault("queue.asynq.redis_url", "")
	v.SetDefault("queue.asynq.queue", "reports")
	v.SetDefault("queue.asynq.max_retry", 5)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "reports")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.signer_email", "")
	v.SetDefault("storage.gcs.private_key_path", "")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")
	v.SetDefault("storage.s3.part_size_mb", 5)
	v.SetDefault("storage.local.base_dir", "data/reports")
	v.SetDefault("storage.local.public_base_url", "http://localhost:8080")
	v.SetDefault("storage.local.signing_key", "")
	v.SetDefault("worker.concurrency", 3)
	v.SetDefault("worker.job_timeout", "0s")
	v.SetDefault("worker.shutdown_grace", "30s")
	v.SetDefault("lease.redis_url", "")
	v.SetDefault("lease.ttl", "30m")
	v.SetDefault("reaper.enabled", true)
	v.SetDefault("reaper.schedule", "@every 1m")
	v.SetDefault("reaper.max_age", "30m")
	v.SetDefault("telemetry.service_name", "class-reports")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.gcp_project_id", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RateLimit.RPS > 0 && c.Server.RateLimit.Burst <= 0 {
		return fmt.Errorf("server.rate_limit.burst must be > 0 when rate limiting is enabled")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.JobTimeout < 0 {
		return fmt.Errorf("worker.job_timeout must be >= 0")
	}
	if c.Database.MaxConns < 0 || c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database.min_conns must be between 0 and database.max_conns")
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if c.Lease.TTL <= 0 {
		return fmt.Errorf("lease.ttl must be > 0")
	}
	if c.Reaper.Enabled {
		if c.Reaper.MaxAge <= 0 {
			return fmt.Errorf("reaper.max_age must be > 0 when the reaper is enabled")
		}
		if strings.TrimSpace(c.Reaper.Schedule) == "" {
			return fmt.Errorf("reaper.schedule must be set when the reaper is enabled")
		}
	}
	return nil
}

func (c Config) validateQueue() error {
	switch c.Queue.Backend {
	case "memory":
		if c.Queue.Memory.Depth <= 0 {
			return fmt.Errorf("queue.memory.depth must be > 0")
		}
	case "pubsub":
		if c.Queue.PubSub.ProjectID == "" || c.Queue.PubSub.Topic == "" || c.Queue.PubSub.Subscription == "" {
			return fmt.Errorf("queue.pubsub.project_id, topic and subscription are required for the pubsub backend")
		}
	case "asynq":
		if c.Queue.Asynq.RedisURL == "" {
			return fmt.Errorf("queue.asynq.redis_url is required for the asynq backend")
		}
	default:
		return fmt.Errorf("unknown queue.backend %q", c.Queue.Backend)
	}
	return nil
}

func (c Config) validateStorage() error {
	switch c.Storage.Backend {
	case "memory":
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required for the gcs backend")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
	case "local":
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir is required for the local backend")
		}
		if c.Storage.Local.SigningKey == "" {
			return fmt.Errorf("storage.local.signing_key is required for the local backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	return nil
}

// Sanitized returns a copy safe for logging, with secrets masked.
func (c Config) Sanitized() Config {
	out := c
	if out.Database.DSN != "" {
		out.Database.DSN = "***"
	}
	if out.Storage.S3.SecretAccessKey != "" {
		out.Storage.S3.SecretAccessKey = "***"
	}
	if out.Storage.Local.SigningKey != "" {
		out.Storage.Local.SigningKey = "***"
	}
	return out
}
