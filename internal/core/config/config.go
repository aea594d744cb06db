package config

import (
	"time"

	"github.com/vietddude/queuerunner/internal/infra/ats"
	redisclient "github.com/vietddude/queuerunner/internal/infra/redis"
	"github.com/vietddude/queuerunner/internal/infra/storage/postgres"
	"github.com/vietddude/queuerunner/internal/notify"
	"github.com/vietddude/queuerunner/internal/recovery"
)

// Queue backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendRemote   = "remote"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Queue       QueueConfig            `yaml:"queue"`
	Ingest      IngestConfig           `yaml:"ingest"`
	Process     ProcessConfig          `yaml:"process"`
	Remote      ats.Config             `yaml:"remote"`
	Redis       redisclient.Config     `yaml:"redis"`
	Database    postgres.Config        `yaml:"database"`
	Notify      notify.Config          `yaml:"notify"`
	Environment recovery.CommandConfig `yaml:"environment"`
	Server      ServerConfig           `yaml:"server"`
	Logging     LoggingConfig          `yaml:"logging"`
}

// QueueConfig selects the queue and its storage backend.
type QueueConfig struct {
	Name     string        `yaml:"name"`
	Backend  string        `yaml:"backend"`   // memory, redis, postgres, remote
	ClaimTTL time.Duration `yaml:"claim_ttl"` // redis and postgres only
}

// IngestConfig bounds the ingestion pipeline.
type IngestConfig struct {
	SourcePath     string        `yaml:"source_path"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	PageSize       int           `yaml:"page_size"`
}

// ProcessConfig holds the processing loop settings.
type ProcessConfig struct {
	Name     string `yaml:"name"`      // shown in notifications, defaults to the queue name
	MaxRetry int    `yaml:"max_retry"` // process errors tolerated per run
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"` // 0 disables the health server
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}
