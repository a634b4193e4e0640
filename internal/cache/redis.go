// Package cache provides a thin Redis client wrapper shared by the rate
// limit middleware and anything else in this service that needs a
// generic namespaced key-value store with TTLs. It uses go-redis/v9.
//
// Cache keys follow a naming convention: `namespace:id`. Callers needing
// a dedicated Redis-backed store with its own key conventions (seed
// identity caching, token caching) construct their own wrapper around
// the *redis.Client this package returns rather than growing this one
// into a god object.
//
// Usage:
//
//	client, err := cache.NewClient(cache.ClientConfig{Addr: "localhost:6379"}, logger)
//	if err != nil {
//	    log.Fatal("failed to connect to Redis:", err)
//	}
//	defer client.Close()
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds configuration for creating a new Redis client.
type ClientConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string

	// Password is the Redis password (optional).
	Password string

	// DB is the Redis database number.
	DB int

	// PoolSize is the connection pool size.
	PoolSize int

	// MinIdleConns is the minimum number of idle connections.
	MinIdleConns int

	// DialTimeout is the connection timeout.
	DialTimeout time.Duration

	// ReadTimeout is the read operation timeout.
	ReadTimeout time.Duration

	// WriteTimeout is the write operation timeout.
	WriteTimeout time.Duration

	// MaxRetries is the maximum number of retry attempts.
	MaxRetries int
}

// Client wraps a *redis.Client with generic namespaced operations.
type Client struct {
	client *redis.Client
	logger *slog.Logger
}

// NewClient creates a new Redis cache client and verifies connectivity.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}

	poolSize := cfg.PoolSize
	if poolSize == 0 {
		poolSize = 10
	}
	minIdle := cfg.MinIdleConns
	if minIdle == 0 {
		minIdle = 2
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 5 * time.Second
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 3 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 3 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     poolSize,
		MinIdleConns: minIdle,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		MaxRetries:   maxRetries,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: failed to connect to Redis: %w", err)
	}

	logger.Info("connected to Redis", slog.String("addr", addr), slog.Int("db", cfg.DB))

	return &Client{client: client, logger: logger.With(slog.String("component", "cache"))}, nil
}

// ParseURL parses a Redis URL of the form redis://[:password@]host:port[/db]
// into the fields of a ClientConfig.
func ParseURL(url string) ClientConfig {
	url = strings.TrimPrefix(url, "redis://")

	var cfg ClientConfig

	if at := strings.Index(url, "@"); at >= 0 {
		cfg.Password = url[:at]
		url = url[at+1:]
	}

	if slash := strings.LastIndex(url, "/"); slash >= 0 {
		if dbStr := url[slash+1:]; dbStr != "" {
			fmt.Sscanf(dbStr, "%d", &cfg.DB)
		}
		url = url[:slash]
	}

	cfg.Addr = url
	return cfg
}

// Raw returns the underlying *redis.Client for callers that need direct
// access (e.g. to construct a package-specific wrapper with its own key
// conventions).
func (c *Client) Raw() *redis.Client {
	return c.client
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Ping checks if the Redis connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Set stores a string value with a key and TTL.
func (c *Client) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: failed to set value: %w", err)
	}
	return nil
}

// SetStruct stores an object as JSON with a key and TTL.
func (c *Client) SetStruct(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: failed to marshal value: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache: failed to set value: %w", err)
	}
	return nil
}

// Get retrieves a string value by key. An empty string with a nil error
// means the key was not found.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", fmt.Errorf("cache: failed to get value: %w", err)
	}
	return val, nil
}

// GetStruct retrieves a value by key and unmarshals it into dest. dest
// is left untouched if the key is not found.
func (c *Client) GetStruct(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return fmt.Errorf("cache: failed to get value: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache: failed to unmarshal value: %w", err)
	}
	return nil
}

// Delete removes a key.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache: failed to delete key: %w", err)
	}
	return nil
}

// Increment increments a key and returns the new value. Used by the
// rate limit middleware to count requests within a fixed window.
func (c *Client) Increment(ctx context.Context, key string) (int64, error) {
	val, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("cache: failed to increment key: %w", err)
	}
	return val, nil
}

// Expire sets a TTL on a key.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("cache: failed to set expiry: %w", err)
	}
	return nil
}

// Exists checks if a key exists.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	count, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("cache: failed to check key existence: %w", err)
	}
	return count > 0, nil
}
