package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"example.com/labops/services/batch/config"
	"example.com/labops/services/batch/internal/model"
)

// CacheClient defines the interface for cache operations
type CacheClient interface {
	GetBatch(ctx context.Context, id string) (*model.Batch, error)
	SetBatch(ctx context.Context, batch *model.Batch) error
	DeleteBatch(ctx context.Context, id string) error

	GetItemBySKU(ctx context.Context, sku string) (*model.Item, error)
	SetItem(ctx context.Context, item *model.Item) error
	DeleteItem(ctx context.Context, sku string) error

	FlushAll(ctx context.Context) error
}

// RedisClient implements CacheClient using Redis
type RedisClient struct {
	client  *redis.Client
	enabled bool
	ttl     time.Duration
}

// NewRedisClient creates a new Redis client
func NewRedisClient(cfg *config.RedisConfig) (CacheClient, error) {
	if !cfg.Enabled {
		return &RedisClient{enabled: false}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{
		client:  client,
		enabled: true,
		ttl:     time.Hour,
	}, nil
}

// Prefix keys to avoid collisions
func batchKey(id string) string {
	return fmt.Sprintf("batch:%s", id)
}

func itemKey(sku string) string {
	return fmt.Sprintf("item:%s", sku)
}

// GetBatch retrieves a batch from cache
func (c *RedisClient) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	if !c.enabled {
		return nil, redis.Nil
	}

	data, err := c.client.Get(ctx, batchKey(id)).Bytes()
	if err != nil {
		return nil, err
	}

	var batch model.Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, err
	}

	return &batch, nil
}

// SetBatch caches a batch
func (c *RedisClient) SetBatch(ctx context.Context, batch *model.Batch) error {
	if !c.enabled {
		return nil
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, batchKey(batch.UUID), data, c.ttl).Err()
}

// DeleteBatch removes a batch from cache
func (c *RedisClient) DeleteBatch(ctx context.Context, id string) error {
	if !c.enabled {
		return nil
	}

	return c.client.Del(ctx, batchKey(id)).Err()
}

// GetItemBySKU retrieves an item from cache
func (c *RedisClient) GetItemBySKU(ctx context.Context, sku string) (*model.Item, error) {
	if !c.enabled {
		return nil, redis.Nil
	}

	data, err := c.client.Get(ctx, itemKey(sku)).Bytes()
	if err != nil {
		return nil, err
	}

	var item model.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, err
	}

	return &item, nil
}

// SetItem caches an item
func (c *RedisClient) SetItem(ctx context.Context, item *model.Item) error {
	if !c.enabled {
		return nil
	}

	data, err := json.Marshal(item)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, itemKey(item.SKU), data, c.ttl).Err()
}

// DeleteItem removes an item from cache
func (c *RedisClient) DeleteItem(ctx context.Context, sku string) error {
	if !c.enabled {
		return nil
	}

	return c.client.Del(ctx, itemKey(sku)).Err()
}

// FlushAll clears all cache
func (c *RedisClient) FlushAll(ctx context.Context) error {
	if !c.enabled {
		return nil
	}

	return c.client.FlushAll(ctx).Err()
}
