package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/quill/pkg/cache"
	"github.com/platinummonkey/quill/pkg/observability"
	"github.com/platinummonkey/quill/pkg/store"
)

// DefaultLookupTTL is how long role and plan lookups are reused
const DefaultLookupTTL = 5 * time.Minute

const maxLookupEntries = 10000

// LookupCache holds per-user role and plan lookups. A cached nil plan
// means the user has no assignment.
type LookupCache interface {
	GetAdmin(ctx context.Context, userID string) (isAdmin, found bool, err error)
	SetAdmin(ctx context.Context, userID string, isAdmin bool) error
	GetPlan(ctx context.Context, userID string) (plan *store.Assignment, found bool, err error)
	SetPlan(ctx context.Context, userID string, plan *store.Assignment) error
	Invalidate(ctx context.Context, userID string) error
}

// RedisLookupCache shares lookups across server instances
type RedisLookupCache struct {
	client  *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
}

// NewRedisLookupCache creates a Redis-backed lookup cache
func NewRedisLookupCache(client *redis.Client, ttl time.Duration, metrics *observability.Metrics) *RedisLookupCache {
	if ttl <= 0 {
		ttl = DefaultLookupTTL
	}
	return &RedisLookupCache{client: client, ttl: ttl, metrics: metrics}
}

func adminKey(userID string) string { return "quill:auth:admin:" + userID }
func planKey(userID string) string  { return "quill:auth:plan:" + userID }

// GetAdmin implements LookupCache
func (c *RedisLookupCache) GetAdmin(ctx context.Context, userID string) (bool, bool, error) {
	val, err := c.client.Get(ctx, adminKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		c.metrics.RecordCacheMiss("lookup_admin")
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("redis get failed: %w", err)
	}
	c.metrics.RecordCacheHit("lookup_admin")
	return val == "1", true, nil
}

// SetAdmin implements LookupCache
func (c *RedisLookupCache) SetAdmin(ctx context.Context, userID string, isAdmin bool) error {
	val := "0"
	if isAdmin {
		val = "1"
	}
	if err := c.client.Set(ctx, adminKey(userID), val, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// GetPlan implements LookupCache
func (c *RedisLookupCache) GetPlan(ctx context.Context, userID string) (*store.Assignment, bool, error) {
	data, err := c.client.Get(ctx, planKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.metrics.RecordCacheMiss("lookup_plan")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var plan *store.Assignment
	if err := json.Unmarshal(data, &plan); err != nil {
		// Corrupt entries are dropped and treated as a miss.
		c.client.Del(ctx, planKey(userID))
		c.metrics.RecordCacheMiss("lookup_plan")
		return nil, false, nil
	}
	c.metrics.RecordCacheHit("lookup_plan")
	return plan, true, nil
}

// SetPlan implements LookupCache
func (c *RedisLookupCache) SetPlan(ctx context.Context, userID string, plan *store.Assignment) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	if err := c.client.Set(ctx, planKey(userID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Invalidate implements LookupCache
func (c *RedisLookupCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, adminKey(userID), planKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// MemoryLookupCache keeps lookups in process. It is used when Redis is
// not configured.
type MemoryLookupCache struct {
	admin *cache.TTLCache[bool]
	plans *cache.TTLCache[*store.Assignment]
}

// NewMemoryLookupCache creates an in-process lookup cache
func NewMemoryLookupCache(ttl time.Duration, metrics *observability.Metrics) *MemoryLookupCache {
	if ttl <= 0 {
		ttl = DefaultLookupTTL
	}
	return &MemoryLookupCache{
		admin: cache.New[bool]("lookup_admin", maxLookupEntries, ttl, metrics),
		plans: cache.New[*store.Assignment]("lookup_plan", maxLookupEntries, ttl, metrics),
	}
}

// GetAdmin implements LookupCache
func (c *MemoryLookupCache) GetAdmin(ctx context.Context, userID string) (bool, bool, error) {
	v, ok := c.admin.Get(userID)
	return v, ok, nil
}

// SetAdmin implements LookupCache
func (c *MemoryLookupCache) SetAdmin(ctx context.Context, userID string, isAdmin bool) error {
	c.admin.Set(userID, isAdmin)
	return nil
}

// GetPlan implements LookupCache
func (c *MemoryLookupCache) GetPlan(ctx context.Context, userID string) (*store.Assignment, bool, error) {
	v, ok := c.plans.Get(userID)
	return v, ok, nil
}

// SetPlan implements LookupCache
func (c *MemoryLookupCache) SetPlan(ctx context.Context, userID string, plan *store.Assignment) error {
	c.plans.Set(userID, plan)
	return nil
}

// Invalidate implements LookupCache
func (c *MemoryLookupCache) Invalidate(ctx context.Context, userID string) error {
	c.admin.Delete(userID)
	c.plans.Delete(userID)
	return nil
}
