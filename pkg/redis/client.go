package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options selects the Redis server and bounds connection attempts.
type Options struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

// Client is the shared go-redis client used for the projection queue and stream channels.
type Client struct {
	*redis.Client
	addr   string
	logger *zap.Logger
}

// NewClient connects and pings once; the server refuses to start without Redis.
func NewClient(ctx context.Context, opts Options, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	})
	c := &Client{Client: rdb, addr: opts.Addr, logger: logger}
	if err := c.Check(ctx); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	logger.Info("redis connected", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return c, nil
}

// Check pings the server; /health uses it to report readiness.
func (c *Client) Check(ctx context.Context) error {
	if err := c.Ping(ctx).Err(); err != nil {
		c.logger.Warn("redis ping failed", zap.String("addr", c.addr), zap.Error(err))
		return fmt.Errorf("redis ping %s: %w", c.addr, err)
	}
	return nil
}
