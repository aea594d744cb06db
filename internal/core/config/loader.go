package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	defaultQueueName      = "default"
	defaultMaxConcurrency = 10
	defaultMaxRetries     = 3
	defaultRetryBaseDelay = time.Second
	defaultPageSize       = 200
	defaultMaxRetry       = 3
)

// Load reads configuration from a YAML file. An empty path yields the
// defaults, with the remote backend settings taken from the environment.
func Load(path string) (*AppConfig, error) {
	var cfg AppConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Expand environment variables in the YAML content
		expandedData := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Queue.Name == "" {
		cfg.Queue.Name = defaultQueueName
	}
	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = BackendMemory
	}

	if cfg.Ingest.MaxConcurrency <= 0 {
		cfg.Ingest.MaxConcurrency = defaultMaxConcurrency
	}
	if cfg.Ingest.MaxRetries <= 0 {
		cfg.Ingest.MaxRetries = defaultMaxRetries
	}
	if cfg.Ingest.RetryBaseDelay <= 0 {
		cfg.Ingest.RetryBaseDelay = defaultRetryBaseDelay
	}
	if cfg.Ingest.PageSize <= 0 {
		cfg.Ingest.PageSize = defaultPageSize
	}

	if cfg.Process.Name == "" {
		cfg.Process.Name = cfg.Queue.Name
	}
	if cfg.Process.MaxRetry <= 0 {
		cfg.Process.MaxRetry = defaultMaxRetry
	}

	// the automation server credentials usually come from the environment
	if cfg.Remote.URL == "" {
		cfg.Remote.URL = os.Getenv("ATS_URL")
	}
	if cfg.Remote.Token == "" {
		cfg.Remote.Token = os.Getenv("ATS_TOKEN")
	}
	if cfg.Remote.QueueID == "" {
		cfg.Remote.QueueID = cfg.Queue.Name
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate checks the settings required by the selected backend.
func (c *AppConfig) Validate() error {
	switch c.Queue.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("redis backend requires redis.url")
		}
	case BackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("postgres backend requires database.url")
		}
	case BackendRemote:
		if c.Remote.URL == "" || c.Remote.Token == "" {
			return fmt.Errorf("remote backend requires ATS_URL and ATS_TOKEN")
		}
	default:
		return fmt.Errorf("unknown queue backend %q", c.Queue.Backend)
	}

	if c.Ingest.PageSize > 200 && c.Queue.Backend == BackendRemote {
		return fmt.Errorf("ingest.page_size %d exceeds the remote maximum of 200", c.Ingest.PageSize)
	}
	return nil
}
