package cache

import (
	"sync"
	"time"
)

// entry 进程内缓存条目。value 写入后不再变更，重复 set 视为刷新。
type entry[V any] struct {
	value     V
	createdAt time.Time
	expiresAt time.Time
	hits      int
}

// store 进程内精确匹配缓存层：带容量上限、惰性 TTL、
// LFU 淘汰（最旧 createdAt 打破平局）。所有操作自带锁，可被多请求并发访问。
type store[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]
	maxSize int
	ttl     time.Duration

	now func() time.Time // 测试注入
}

func newStore[V any](maxSize int, ttl time.Duration) *store[V] {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &store[V]{
		entries: make(map[string]*entry[V]),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// get 返回值与命中次数。过期条目在读取时删除并按 miss 处理。
func (s *store[V]) get(key string) (V, int, bool) {
	var zero V

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return zero, 0, false
	}
	if s.expired(e) {
		delete(s.entries, key)
		return zero, 0, false
	}
	e.hits++
	return e.value, e.hits, true
}

// set 插入或刷新条目；容量已满时先淘汰一个受害者。
func (s *store[V]) set(key string, v V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok {
		// 同 key 重写按刷新处理
		e.value = v
		e.createdAt = now
		e.expiresAt = s.deadline(now)
		return
	}

	if len(s.entries) >= s.maxSize {
		s.evictOne()
	}
	s.entries[key] = &entry[V]{
		value:     v,
		createdAt: now,
		expiresAt: s.deadline(now),
		hits:      1,
	}
}

// scan 遍历未过期条目；fn 返回 false 时停止。不计入命中。
// 与 get 一致，途中发现的过期条目顺手删除。
func (s *store[V]) scan(fn func(key string, v V) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, key)
			continue
		}
		if !fn(key, e.value) {
			return
		}
	}
}

func (s *store[V]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *store[V]) purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry[V])
}

// evictOne 选择命中次数最少的条目淘汰，平局时取最旧 createdAt。
// 调用方必须持有锁。
func (s *store[V]) evictOne() {
	var victim string
	var victimEntry *entry[V]
	for key, e := range s.entries {
		if victimEntry == nil ||
			e.hits < victimEntry.hits ||
			(e.hits == victimEntry.hits && e.createdAt.Before(victimEntry.createdAt)) {
			victim = key
			victimEntry = e
		}
	}
	if victimEntry != nil {
		delete(s.entries, victim)
	}
}

func (s *store[V]) expired(e *entry[V]) bool {
	return s.ttl > 0 && s.now().After(e.expiresAt)
}

func (s *store[V]) deadline(now time.Time) time.Time {
	if s.ttl <= 0 {
		return time.Time{}
	}
	return now.Add(s.ttl)
}
