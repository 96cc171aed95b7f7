package cache

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	applog "linguaweave/internal/platform/log"
)

// 超过该长度的文本不进缓存，限制内存占用。
const defaultMaxTranslationRunes = 500

// translationEntry 缓存值。Normalized 随值保存，供前缀扫描二次精确比对。
type translationEntry struct {
	Normalized string
	Translated string
}

// TranslationConfig 翻译缓存配置。
type TranslationConfig struct {
	MaxSize      int
	TTL          time.Duration // 翻译结果与上下文无关，默认长 TTL
	MaxTextRunes int
}

// Translation 按 (源语言, 目标语言, 归一化文本) 记忆化翻译结果。
type Translation struct {
	store        *store[translationEntry]
	maxTextRunes int
}

// NewTranslation 创建翻译缓存。
func NewTranslation(cfg TranslationConfig) *Translation {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 500
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 12 * time.Hour
	}
	if cfg.MaxTextRunes <= 0 {
		cfg.MaxTextRunes = defaultMaxTranslationRunes
	}
	return &Translation{
		store:        newStore[translationEntry](cfg.MaxSize, cfg.TTL),
		maxTextRunes: cfg.MaxTextRunes,
	}
}

// Get 精确 key 查找；miss 时在同语言对前缀下按存储的归一化文本再做一次相等比对。
func (t *Translation) Get(text, from, to string) (string, bool) {
	key := TranslationKey(from, to, text)
	if e, _, ok := t.store.get(key); ok {
		return e.Translated, true
	}

	norm := Normalize(text, TranslationKeyMaxRunes)
	prefix := languagePrefix(from, to)
	matched := ""
	t.store.scan(func(k string, e translationEntry) bool {
		if strings.HasPrefix(k, prefix) && e.Normalized == norm {
			matched = k
			return false
		}
		return true
	})
	if matched == "" {
		return "", false
	}
	e, _, ok := t.store.get(matched) // 登记命中
	if !ok {
		return "", false
	}
	return e.Translated, true
}

// Set 写入翻译结果。超长文本拒绝入缓存。
func (t *Translation) Set(text, from, to, translated string) {
	if utf8.RuneCountInString(text) > t.maxTextRunes {
		applog.Debug("[Cache/Translation] Text too long to cache",
			"runes", utf8.RuneCountInString(text),
			"max", t.maxTextRunes,
		)
		return
	}
	key := TranslationKey(from, to, text)
	t.store.set(key, translationEntry{
		Normalized: Normalize(text, TranslationKeyMaxRunes),
		Translated: translated,
	})
}

// Wrap cache-aside 辅助：同语言直接原样返回，不触发翻译也不碰缓存；
// 命中返回缓存值；miss 调用 translate 并回填。
func (t *Translation) Wrap(ctx context.Context, text, from, to string, translate func(ctx context.Context) (string, error)) (string, error) {
	if strings.EqualFold(from, to) {
		return text, nil
	}
	if cached, ok := t.Get(text, from, to); ok {
		applog.Debug("[Cache/Translation] Hit", "from", from, "to", to)
		return cached, nil
	}

	translated, err := translate(ctx)
	if err != nil {
		return "", err
	}
	t.Set(text, from, to, translated)
	return translated, nil
}

// Purge 清空缓存（管理端失效操作）。
func (t *Translation) Purge() {
	t.store.purge()
}

// Len 返回当前条目数。
func (t *Translation) Len() int {
	return t.store.len()
}
