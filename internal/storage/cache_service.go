package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/marketplace-relay/internal/logging"
	"github.com/marketplace-relay/internal/types"
)

// CacheService provides typed caching for subgraph lookups. Cache failures
// are logged and treated as misses so the subgraph remains the source of
// truth.
type CacheService struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewCacheService creates a new cache service
func NewCacheService(redis *RedisCache, ttl time.Duration) *CacheService {
	return &CacheService{
		redis: redis,
		ttl:   ttl,
	}
}

// CacheKeyType represents different types of cache keys
type CacheKeyType string

const (
	// CacheKeyPreferences is for mail-preference query results
	CacheKeyPreferences CacheKeyType = "prefs"
)

// GenerateCacheKey generates a cache key for a given type and parameters
// Format: <type>:<param1>:<param2>:...
func (c *CacheService) GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	normalized := make([]string, len(params))
	for i, param := range params {
		normalized[i] = strings.ToLower(param)
	}

	parts := append([]string{string(keyType)}, normalized...)
	return strings.Join(parts, ":")
}

// PreferencesKey builds the key for a bulk preference lookup.
// Format: prefs:<chainId>:<emailType>:<addressesHash>
func (c *CacheService) PreferencesKey(chainID types.ChainID, emailType types.EmailType, addressesHash string) string {
	return c.GenerateCacheKey(CacheKeyPreferences, fmt.Sprintf("%d", chainID), string(emailType), addressesHash)
}

// Get retrieves and unmarshals a cached value; false means miss.
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) bool {
	raw, found, err := c.redis.Get(ctx, key)
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("key", key).Warn("Cache read failed")
		return false
	}
	if !found {
		return false
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("key", key).Warn("Cache payload corrupt")
		return false
	}

	return true
}

// Set marshals and stores a value with the configured TTL.
func (c *CacheService) Set(ctx context.Context, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("key", key).Warn("Cache marshal failed")
		return
	}

	if err := c.redis.Set(ctx, key, string(data), c.ttl); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("key", key).Warn("Cache write failed")
	}
}
