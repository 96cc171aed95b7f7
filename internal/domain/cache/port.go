package cache

import (
	"context"
	"time"

	"linguaweave/internal/provider"
)

// SearchEntry 检索缓存值：生成的答案与其证据块。
// 证据块对缓存不透明，只序列化存取。
type SearchEntry struct {
	Answer string                   `json:"answer"`
	Chunks []provider.EvidenceChunk `json:"chunks,omitempty"`
}

// DurableEntry 持久层返回的条目及其访问元数据。
type DurableEntry struct {
	Entry       SearchEntry
	AccessCount int64
	ExpiresAt   time.Time
}

// DurableStore 持久缓存层契约。实现方负责按缓存类型为 key 加命名空间，
// 并在服务端过滤过期条目。任何带 TTL 的 KV 存储均可满足。
type DurableStore interface {
	Get(ctx context.Context, key string) (*DurableEntry, bool, error)
	Upsert(ctx context.Context, key string, e SearchEntry, ttl time.Duration) error
	IncrementAccess(ctx context.Context, key string) error
	Invalidate(ctx context.Context) error
}
