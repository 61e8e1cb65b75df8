package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"keeper/internal/platform/config"
)

const defaultPingTimeout = 3 * time.Second

// Client is the shared connection behind the audit retry queue, the token
// revocation list and the Redis rate limit store.
type Client struct {
	*redis.Client
	pingTimeout time.Duration
}

// New connects and pings once. An empty URL means Redis is not configured and
// yields a nil client; callers treat that as "feature off". Zero-valued pool
// settings keep the go-redis defaults.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	c := &Client{Client: redis.NewClient(opts), pingTimeout: defaultPingTimeout}
	if cfg.ReadTimeout > 0 {
		c.pingTimeout = cfg.ReadTimeout
	}
	if err := c.Health(ctx); err != nil {
		_ = c.Client.Close()
		return nil, err
	}
	return c, nil
}

// Health backs the readiness probe. The error carries pool occupancy so an
// exhausted pool is distinguishable from an unreachable server.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.pingTimeout)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		stats := c.PoolStats()
		return fmt.Errorf("redis ping (conns total=%d idle=%d, pool timeouts=%d): %w",
			stats.TotalConns, stats.IdleConns, stats.Timeouts, err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}
