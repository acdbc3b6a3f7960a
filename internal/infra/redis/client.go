package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "retrykit"
	defaultTTL       = 24 * time.Hour
)

// Client wraps the Redis connection shared by the activity sink and the failed
// item queue.
type Client struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// Config holds Redis connection configuration.
type Config struct {
	URL       string        `yaml:"url"`
	Password  string        `yaml:"password"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// NewClient creates a new Redis client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newClient(rdb, cfg), nil
}

func newClient(rdb *redis.Client, cfg Config) *Client {
	c := &Client{rdb: rdb, prefix: cfg.KeyPrefix, ttl: cfg.TTL}
	if c.prefix == "" {
		c.prefix = defaultKeyPrefix
	}
	if c.ttl <= 0 {
		c.ttl = defaultTTL
	}
	return c
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func (c *Client) activityKey(key string) string {
	return fmt.Sprintf("%s:activity:%s", c.prefix, key)
}

func (c *Client) activityIndexKey() string {
	return c.prefix + ":activity"
}

func (c *Client) failedQueueKey(operation string) string {
	return fmt.Sprintf("%s:failed:%s", c.prefix, operation)
}

func (c *Client) failedItemKey(operation, id string) string {
	return fmt.Sprintf("%s:failed_item:%s:%s", c.prefix, operation, id)
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
