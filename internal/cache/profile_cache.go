package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/models"
)

// ProfileCache fronts profile lookups for the feed bridge, which needs an
// owner summary on every insert/update event it resolves.
type ProfileCache interface {
	Get(ctx context.Context, userID string) (*models.ProfileSummary, bool)
	Set(ctx context.Context, userID string, p *models.ProfileSummary)
}

// RedisProfileCache stores summaries as redis hashes with a TTL so verified
// flags and display names stay warm across server restarts.
type RedisProfileCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisProfileCache(addr, password string, ttl time.Duration) *RedisProfileCache {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisProfileCache{client: c, ttl: ttl}
}

func profileKey(userID string) string { return "profile:summary:" + userID }

func (r *RedisProfileCache) Get(ctx context.Context, userID string) (*models.ProfileSummary, bool) {
	m, err := r.client.HGetAll(ctx, profileKey(userID)).Result()
	if err != nil || len(m) == 0 {
		return nil, false
	}
	p := &models.ProfileSummary{FullName: m["full_name"]}
	p.NICVerified, _ = strconv.ParseBool(m["nic_verified"])
	p.DisableAutoExpiry, _ = strconv.ParseBool(m["disable_auto_expiry"])
	return p, true
}

func (r *RedisProfileCache) Set(ctx context.Context, userID string, p *models.ProfileSummary) {
	key := profileKey(userID)
	_ = r.client.HSet(ctx, key, map[string]interface{}{
		"full_name":           p.FullName,
		"nic_verified":        strconv.FormatBool(p.NICVerified),
		"disable_auto_expiry": strconv.FormatBool(p.DisableAutoExpiry),
	}).Err()
	_ = r.client.Expire(ctx, key, r.ttl).Err()
}

// MemoryProfileCache is the fallback when no REDIS_ADDR is configured.
type MemoryProfileCache struct {
	mu    sync.RWMutex
	store map[string]memoryEntry
	ttl   time.Duration
}

type memoryEntry struct {
	p  models.ProfileSummary
	ts time.Time
}

func NewMemoryProfileCache(ttl time.Duration) *MemoryProfileCache {
	return &MemoryProfileCache{store: make(map[string]memoryEntry), ttl: ttl}
}

func (c *MemoryProfileCache) Get(ctx context.Context, userID string) (*models.ProfileSummary, bool) {
	c.mu.RLock()
	e, ok := c.store[userID]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, userID)
		c.mu.Unlock()
		return nil, false
	}
	p := e.p
	return &p, true
}

func (c *MemoryProfileCache) Set(ctx context.Context, userID string, p *models.ProfileSummary) {
	c.mu.Lock()
	c.store[userID] = memoryEntry{p: *p, ts: time.Now()}
	c.mu.Unlock()
}
