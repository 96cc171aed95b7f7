package cache

import (
	"context"
	"time"
	"unicode/utf8"

	applog "linguaweave/internal/platform/log"
)

// 短于该长度的答案视为退化/空响应，不进缓存。
const minCachedAnswerRunes = 10

// SearchConfig 检索结果缓存配置。
type SearchConfig struct {
	LocalMaxSize int
	LocalTTL     time.Duration // 进程内层 TTL，较短
	DurableTTL   time.Duration // 持久层 TTL，较长
}

// Search 两级检索结果缓存：进程内层（最便宜）优先，持久层其次。
// 两层都 miss 才需要真正的外部检索调用。
type Search struct {
	local      *store[SearchEntry]
	durable    DurableStore // 可为 nil（纯进程内模式）
	durableTTL time.Duration
}

// NewSearch 创建检索结果缓存。
func NewSearch(cfg SearchConfig, durable DurableStore) *Search {
	if cfg.LocalMaxSize <= 0 {
		cfg.LocalMaxSize = 200
	}
	if cfg.LocalTTL <= 0 {
		cfg.LocalTTL = 30 * time.Minute
	}
	if cfg.DurableTTL <= 0 {
		cfg.DurableTTL = 24 * time.Hour
	}
	return &Search{
		local:      newStore[SearchEntry](cfg.LocalMaxSize, cfg.LocalTTL),
		durable:    durable,
		durableTTL: cfg.DurableTTL,
	}
}

// Get 依次查进程内层、持久层，命中时一并返回该条目的命中次数
// （持久层为含本次在内的访问计数）。持久层命中回填进程内层（promotion）
// 并递增持久层访问计数。持久层故障按 miss 降级，不阻断请求。
func (s *Search) Get(ctx context.Context, query string) (*SearchEntry, int, bool) {
	key := SearchKey(query)

	if e, hits, ok := s.local.get(key); ok {
		applog.Debug("[Cache/Search] Local hit", "key", key, "hits", hits)
		return &e, hits, true
	}

	if s.durable == nil {
		return nil, 0, false
	}

	de, ok, err := s.durable.Get(ctx, key)
	if err != nil {
		applog.Warn("[Cache/Search] Durable tier read failed, treating as miss", "key", key, "error", err)
		return nil, 0, false
	}
	if !ok {
		return nil, 0, false
	}

	s.local.set(key, de.Entry)
	if err := s.durable.IncrementAccess(ctx, key); err != nil {
		applog.Warn("[Cache/Search] Failed to bump access counter", "key", key, "error", err)
	}
	hits := int(de.AccessCount) + 1
	applog.Debug("[Cache/Search] Durable hit, promoted", "key", key, "access_count", hits)
	entry := de.Entry
	return &entry, hits, true
}

// Set 写入两层。退化答案（过短）拒绝缓存。持久层写失败仅告警。
func (s *Search) Set(ctx context.Context, query string, e SearchEntry) {
	if utf8.RuneCountInString(e.Answer) < minCachedAnswerRunes {
		applog.Debug("[Cache/Search] Answer too short to cache",
			"runes", utf8.RuneCountInString(e.Answer),
		)
		return
	}

	key := SearchKey(query)
	s.local.set(key, e)

	if s.durable == nil {
		return
	}
	if err := s.durable.Upsert(ctx, key, e, s.durableTTL); err != nil {
		applog.Warn("[Cache/Search] Durable tier write failed", "key", key, "error", err)
	}
}

// Invalidate 清空两层（管理端失效操作）。
func (s *Search) Invalidate(ctx context.Context) error {
	s.local.purge()
	if s.durable == nil {
		return nil
	}
	return s.durable.Invalidate(ctx)
}

// Len 返回进程内层条目数。
func (s *Search) Len() int {
	return s.local.len()
}
