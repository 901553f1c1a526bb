// Package statuscache caches the status projection served to polling
// callers. Only terminal statuses are cached: they never change again,
// so the poll endpoint stops hitting the store once a task completes or
// fails. Supports in-memory (single instance) and Redis (distributed)
// backends.
package statuscache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iamade/litinkapp-sub002/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Cache stores terminal task projections keyed by task ID.
type Cache interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.GenerationTask, bool)
	Set(ctx context.Context, task *domain.GenerationTask, ttl time.Duration) error
}

type InMemoryCache struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*cacheItem
}

type cacheItem struct {
	task      *domain.GenerationTask
	expiresAt time.Time
}

func NewInMemoryCache() *InMemoryCache {
	c := &InMemoryCache{
		items: make(map[uuid.UUID]*cacheItem),
	}
	go c.cleanup()
	return c
}

func (c *InMemoryCache) Get(ctx context.Context, id uuid.UUID) (*domain.GenerationTask, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[id]
	if !ok {
		return nil, false
	}

	if time.Now().After(item.expiresAt) {
		return nil, false
	}

	return item.task, true
}

func (c *InMemoryCache) Set(ctx context.Context, task *domain.GenerationTask, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[task.ID] = &cacheItem{
		task:      task,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (c *InMemoryCache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		c.mu.Lock()
		for id, item := range c.items {
			if now.After(item.expiresAt) {
				delete(c.items, id)
			}
		}
		c.mu.Unlock()
	}
}

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{client: client}, nil
}

func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func cacheKey(id uuid.UUID) string {
	return "taskstatus:" + id.String()
}

func (c *RedisCache) Get(ctx context.Context, id uuid.UUID) (*domain.GenerationTask, bool) {
	data, err := c.client.Get(ctx, cacheKey(id)).Bytes()
	if err != nil {
		return nil, false
	}

	var task domain.GenerationTask
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, false
	}

	return &task, true
}

func (c *RedisCache) Set(ctx context.Context, task *domain.GenerationTask, ttl time.Duration) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, cacheKey(task.ID), data, ttl).Err()
}
