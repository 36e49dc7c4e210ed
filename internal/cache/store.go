package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/commune-hq/backend/internal/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EntityType names a cacheable entity kind. Cache keys are always built
// from (entity-type, entity-id, view-kind) tuples through EntityKey and
// ViewKey, never assembled ad hoc.
type EntityType string

const (
	EntityUser      EntityType = "user"
	EntityCommunity EntityType = "community"
	EntityPost      EntityType = "post"
	EntityChannel   EntityType = "channel"
)

const (
	// EntityTTL applies to single-entity reads
	EntityTTL = 5 * time.Minute
	// ListingTTL applies to listing views, which go stale faster
	ListingTTL = 30 * time.Second
)

// EntityKey builds the cache key for a single entity
func EntityKey(entity EntityType, id string) string {
	return string(entity) + ":" + id
}

// ViewKey builds the cache key for a listing view scoped to an entity.
// Example: ViewKey(EntityCommunity, cid, "posts", "sort=hot", "page=1").
func ViewKey(scope EntityType, scopeID, view string, parts ...string) string {
	key := string(scope) + ":" + scopeID + ":" + view
	if len(parts) > 0 {
		key += ":" + strings.Join(parts, ":")
	}
	return key
}

// viewPattern matches every listing view under an entity's scope
func viewPattern(scope EntityType, scopeID, view string) string {
	return string(scope) + ":" + scopeID + ":" + view + "*"
}

// Store is a read-through cache over Redis. A nil Store (or one with no
// client) degrades to a no-op so services never depend on cache health.
type Store struct {
	client *RedisClient
}

// NewStore creates a cache store backed by the given Redis client
func NewStore(client *RedisClient) *Store {
	return &Store{client: client}
}

// GetJSON attempts to read a cached value into dest.
// Returns (found, error); a cache miss is not an error.
func (s *Store) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	if s == nil || s.client == nil {
		return false, nil
	}

	val, err := s.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		logger.Log.Debug("Cache retrieval failed",
			zap.String("key", key),
			zap.Error(err),
		)
		return false, err
	}

	if err := json.Unmarshal([]byte(val), dest); err != nil {
		// Corrupt entry; drop it and treat as a miss
		_ = s.client.Del(ctx, key)
		return false, nil
	}
	return true, nil
}

// SetJSON stores a value with the given TTL
func (s *Store) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if s == nil || s.client == nil {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	if err := s.client.SetEx(ctx, key, string(data), ttl); err != nil {
		logger.Log.Debug("Cache write failed",
			zap.String("key", key),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// InvalidateEntity deletes the exact single-entity key
func (s *Store) InvalidateEntity(ctx context.Context, entity EntityType, id string) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Del(ctx, EntityKey(entity, id))
}

// InvalidateViews deletes every cached listing view of the named kind under
// the entity's scope, regardless of filter/sort/page combination.
func (s *Store) InvalidateViews(ctx context.Context, scope EntityType, scopeID, view string) error {
	if s == nil || s.client == nil {
		return nil
	}

	pattern := viewPattern(scope, scopeID, view)
	keys, err := s.client.Keys(ctx, pattern)
	if err != nil {
		logger.Log.Debug("Cache view lookup failed",
			zap.String("pattern", pattern),
			zap.Error(err),
		)
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...)
}
