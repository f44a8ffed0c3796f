package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache maps database names to ledger ids.
type Cache interface {
	Get(ctx context.Context, databaseName string) (string, bool, error)
	Set(ctx context.Context, databaseName, ledgerID string) error
}

type MemoryCache struct {
	mu      sync.RWMutex
	ledgers map[string]string
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{ledgers: map[string]string{}}
}

func (c *MemoryCache) Get(_ context.Context, databaseName string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.ledgers[databaseName]
	return id, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, databaseName, ledgerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ledgers[databaseName] = ledgerID
	return nil
}

const redisKeyPrefix = "ledger:"

// RedisCache shares resolved ledger ids between processes.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache stores entries under "ledger:<databaseName>". A zero ttl keeps
// them forever.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, databaseName string) (string, bool, error) {
	id, err := c.client.Get(ctx, redisKeyPrefix+databaseName).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading ledger cache: %w", err)
	}
	return id, true, nil
}

func (c *RedisCache) Set(ctx context.Context, databaseName, ledgerID string) error {
	if err := c.client.Set(ctx, redisKeyPrefix+databaseName, ledgerID, c.ttl).Err(); err != nil {
		return fmt.Errorf("writing ledger cache: %w", err)
	}
	return nil
}
