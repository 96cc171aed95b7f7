package redisdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"linguaweave/internal/domain/cache"
	applog "linguaweave/internal/platform/log"
)

// DurableCache Redis 实现的持久缓存层。
// key 按缓存类型加命名空间（cache:<namespace>:），避免翻译/检索条目共用后端时冲突；
// 过期由 Redis 服务端 TTL 过滤，访问计数挂在 :hits 伴生 key 上。
type DurableCache struct {
	client    *redis.Client
	namespace string
}

// NewDurableCache 创建 Redis 持久缓存层。
func NewDurableCache(rdb *redis.Client, namespace string) *DurableCache {
	if namespace == "" {
		namespace = "search"
	}
	return &DurableCache{
		client:    rdb,
		namespace: namespace,
	}
}

func (c *DurableCache) key(key string) string {
	return "cache:" + c.namespace + ":" + key
}

func (c *DurableCache) hitsKey(key string) string {
	return c.key(key) + ":hits"
}

// Get 读取条目。key 不存在（或已被服务端过期清除）返回 miss。
func (c *DurableCache) Get(ctx context.Context, key string) (*cache.DurableEntry, bool, error) {
	nk := c.key(key)

	pipe := c.client.Pipeline()
	valCmd := pipe.Get(ctx, nk)
	hitsCmd := pipe.Get(ctx, c.hitsKey(key))
	ttlCmd := pipe.TTL(ctx, nk)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("redis pipeline get: %w", err)
	}

	data, err := valCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis GET: %w", err)
	}

	var entry cache.SearchEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		applog.Warn("[Cache/Durable] Failed to unmarshal cached value, treating as miss", "key", nk, "error", err)
		return nil, false, nil
	}

	de := &cache.DurableEntry{Entry: entry}
	if hits, err := hitsCmd.Int64(); err == nil {
		de.AccessCount = hits
	}
	if ttl, err := ttlCmd.Result(); err == nil && ttl > 0 {
		de.ExpiresAt = time.Now().Add(ttl)
	}
	return de, true, nil
}

// Upsert 写入条目并设置服务端 TTL；伴生计数 key 初始化为 0（已存在则保留）。
func (c *DurableCache) Upsert(ctx context.Context, key string, e cache.SearchEntry, ttl time.Duration) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	nk := c.key(key)
	pipe := c.client.Pipeline()
	pipe.Set(ctx, nk, data, ttl)
	pipe.SetNX(ctx, c.hitsKey(key), 0, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline set: %w", err)
	}

	applog.Debug("[Cache/Durable] Entry written", "key", nk, "ttl", ttl.String())
	return nil
}

// IncrementAccess 递增访问计数（最后访问时间由 Redis 的 OBJECT IDLETIME 语义覆盖，
// 这里只维护计数）。
func (c *DurableCache) IncrementAccess(ctx context.Context, key string) error {
	if err := c.client.Incr(ctx, c.hitsKey(key)).Err(); err != nil {
		return fmt.Errorf("redis INCR: %w", err)
	}
	return nil
}

// Invalidate 按命名空间模式扫描并删除全部条目。
func (c *DurableCache) Invalidate(ctx context.Context) error {
	pattern := "cache:" + c.namespace + ":*"
	iter := c.client.Scan(ctx, 0, pattern, 500).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis SCAN: %w", err)
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("redis DEL: %w", err)
		}
		applog.Info("[Cache/Durable] Invalidated", "namespace", c.namespace, "keys_deleted", len(keys))
	}
	return nil
}
