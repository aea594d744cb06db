package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps the Redis connection used by the queue backend.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func seqKey(queue string) string {
	return fmt.Sprintf("workqueue:%s:seq", queue)
}

func orderKey(queue string) string {
	return fmt.Sprintf("workqueue:%s:order", queue)
}

func pendingKey(queue string) string {
	return fmt.Sprintf("workqueue:%s:pending", queue)
}

func itemKey(queue, id string) string {
	return fmt.Sprintf("workqueue:%s:item:%s", queue, id)
}

func claimKey(queue, id string) string {
	return fmt.Sprintf("workqueue:%s:claim:%s", queue, id)
}
