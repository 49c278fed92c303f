// Package cache is a Redis-backed cache for buffered upstream responses.
//
// Keys are a SHA-256 of method, path, query and caller identity, so two
// users never share an entry. Every key is also recorded in a per-identity
// scope set; a successful write by that identity drops the whole scope.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Aeonia-ai/gaia-sub004/pkg/config"
	"github.com/Aeonia-ai/gaia-sub004/pkg/telemetry/metrics"
)

const keyPrefix = "gaia:cache:"

// Entry is one cached response.
type Entry struct {
	StatusCode  int               `json:"status_code"`
	ContentType string            `json:"content_type"`
	Header      map[string]string `json:"header,omitempty"`
	Body        []byte            `json:"body"`
	StoredAt    time.Time         `json:"stored_at"`
}

// Key derives the cache key for a request made by identity.
func Key(method, path, rawQuery, identity string) string {
	h := sha256.New()
	for _, part := range []string{method, path, rawQuery, identity} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

func scopeKey(scope string) string {
	return keyPrefix + "scope:" + scope
}

// Cache stores entries in Redis.
type Cache struct {
	client  redis.UniversalClient
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics.Collector
}

// New connects to the Redis server at redisCfg.URL.
func New(ctx context.Context, redisCfg config.RedisConfig, cacheCfg config.CacheConfig, logger *slog.Logger, collector *metrics.Collector) (*Cache, error) {
	opts, err := redis.ParseURL(redisCfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if redisCfg.DialTimeout > 0 {
		opts.DialTimeout = redisCfg.DialTimeout
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewWithClient(client, cacheCfg.TTL, logger, collector), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger, collector *metrics.Collector) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = config.DefaultCacheTTL
	}
	return &Cache{
		client:  client,
		ttl:     ttl,
		logger:  logger.With("component", "cache"),
		metrics: collector,
	}
}

// Get returns the entry stored under key. A miss is (nil, false, nil).
func (c *Cache) Get(ctx context.Context, key string) (*Entry, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.metrics.RecordCacheLookup(false)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		// A corrupt entry is a miss; drop it so it is rewritten.
		c.client.Del(ctx, key)
		c.metrics.RecordCacheLookup(false)
		return nil, false, nil
	}
	c.metrics.RecordCacheLookup(true)
	return &e, true, nil
}

// Set stores e under key and records key in scope.
func (c *Cache) Set(ctx context.Context, scope, key string, e *Entry) error {
	if e.StoredAt.IsZero() {
		e.StoredAt = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}

	sk := scopeKey(scope)
	_, err = c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, key, data, c.ttl)
		p.SAdd(ctx, sk, key)
		p.Expire(ctx, sk, 2*c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// InvalidateScope deletes every entry recorded for scope and returns how
// many keys were removed.
func (c *Cache) InvalidateScope(ctx context.Context, scope string) (int, error) {
	sk := scopeKey(scope)
	keys, err := c.client.SMembers(ctx, sk).Result()
	if err != nil {
		return 0, fmt.Errorf("cache scope lookup: %w", err)
	}

	keys = append(keys, sk)
	n, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("cache invalidate: %w", err)
	}

	c.metrics.RecordCacheInvalidation()
	c.logger.Debug("cache scope invalidated", "scope", scope, "keys", len(keys)-1)

	removed := int(n)
	if removed > 0 {
		// The scope set itself is not an entry.
		removed--
	}
	return removed, nil
}

// Ping checks Redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}
