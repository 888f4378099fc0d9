package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// LocalCache 进程内缓存，基于 go-cache 实现
type LocalCache struct {
	store   *gocache.Cache
	maxSize int
}

// NewLocalCache 创建本地缓存
func NewLocalCache(config LocalConfig) *LocalCache {
	expiration := config.DefaultExpiration
	if expiration == 0 {
		expiration = 5 * time.Minute
	}
	cleanup := config.CleanupInterval
	if cleanup == 0 {
		cleanup = 10 * time.Minute
	}
	return &LocalCache{
		store:   gocache.New(expiration, cleanup),
		maxSize: config.MaxSize,
	}
}

func (c *LocalCache) Get(_ context.Context, key string) (interface{}, bool) {
	return c.store.Get(key)
}

func (c *LocalCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	// MaxSize 是软上限，超过后拒绝新增但允许覆盖
	if c.maxSize > 0 && c.store.ItemCount() >= c.maxSize {
		if _, exists := c.store.Get(key); !exists {
			c.store.DeleteExpired()
			if c.store.ItemCount() >= c.maxSize {
				return nil
			}
		}
	}
	c.store.Set(key, value, expiration)
	return nil
}

func (c *LocalCache) Delete(_ context.Context, key string) error {
	c.store.Delete(key)
	return nil
}

func (c *LocalCache) Exists(_ context.Context, key string) bool {
	_, ok := c.store.Get(key)
	return ok
}

func (c *LocalCache) Clear(_ context.Context) error {
	c.store.Flush()
	return nil
}

func (c *LocalCache) Close() error {
	c.store.Flush()
	return nil
}
