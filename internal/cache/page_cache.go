package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// PageCache stores rewritten pages by upstream URL
type PageCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, page string) error
}

// Key builds the cache key of a page rewritten with the given expanded paths
func Key(url string, expand []string) string {
	if len(expand) == 0 {
		return url
	}
	paths := append([]string{}, expand...)
	sort.Strings(paths)
	return url + "#expand=" + strings.Join(paths, ",")
}

type redisPageCache struct {
	redisClient *redis.Client
	keyPrefix   string
	ttl         time.Duration
}

func NewRedisPageCache(redisClient *redis.Client, ttl time.Duration) PageCache {
	return &redisPageCache{
		redisClient: redisClient,
		keyPrefix:   "categorytree:page:",
		ttl:         ttl,
	}
}

func (c *redisPageCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.redisClient.Get(ctx, c.keyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get cached page %s: %w", key, err)
	}
	return val, true, nil
}

func (c *redisPageCache) Set(ctx context.Context, key, page string) error {
	if err := c.redisClient.Set(ctx, c.keyPrefix+key, page, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache page %s: %w", key, err)
	}
	return nil
}

type noopPageCache struct{}

// NewNoopPageCache returns a cache that never hits
func NewNoopPageCache() PageCache {
	return noopPageCache{}
}

func (noopPageCache) Get(ctx context.Context, key string) (string, bool, error) {
	return "", false, nil
}

func (noopPageCache) Set(ctx context.Context, key, page string) error {
	return nil
}
