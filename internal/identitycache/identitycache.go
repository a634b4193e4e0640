// Package identitycache caches seed-key values per privacy request using
// Redis, and backs the engine's dedup spillover for very large upstream
// input lists: namespaced keys, TTL on every entry, JSON-marshaled
// values.
package identitycache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keySeeds = "privacygraph:seeds"
	keyInput = "privacygraph:input"
)

// Cache wraps a Redis client with the key conventions this package uses.
type Cache struct {
	client *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

// New builds a Cache. ttl is applied to every entry written through this
// package; zero means Redis's default (no expiry), which callers should
// avoid for anything keyed by a privacy request id.
func New(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, logger: logger.With(slog.String("component", "identitycache")), ttl: ttl}
}

// SetSeeds caches the seed map for a privacy request id.
func (c *Cache) SetSeeds(ctx context.Context, requestID string, seeds map[string]string) error {
	data, err := json.Marshal(seeds)
	if err != nil {
		return fmt.Errorf("identitycache: failed to marshal seeds: %w", err)
	}
	key := fmt.Sprintf("%s:%s", keySeeds, requestID)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("identitycache: failed to set seeds: %w", err)
	}
	return nil
}

// GetSeeds retrieves the cached seed map, if present.
func (c *Cache) GetSeeds(ctx context.Context, requestID string) (map[string]string, bool, error) {
	key := fmt.Sprintf("%s:%s", keySeeds, requestID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("identitycache: failed to get seeds: %w", err)
	}
	var seeds map[string]string
	if err := json.Unmarshal(data, &seeds); err != nil {
		return nil, false, fmt.Errorf("identitycache: failed to unmarshal seeds: %w", err)
	}
	return seeds, true, nil
}

// SpillInputValues stores the deduplicated input-value list for one node's
// destination field when the in-memory list grows past a size the engine
// considers too large to keep resident for the life of the request. This
// is a spillover path, not the primary one — the engine still uses its
// in-memory copy for the query it is about to generate.
func (c *Cache) SpillInputValues(ctx context.Context, requestID, nodeKey, field string, values []any) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("identitycache: failed to marshal input values: %w", err)
	}
	key := fmt.Sprintf("%s:%s:%s:%s", keyInput, requestID, nodeKey, field)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("identitycache: failed to set input values: %w", err)
	}
	return nil
}

// Close releases the underlying Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}
