// Package cache 实现翻译与检索结果的两级精确匹配缓存。
// 命中判定只依赖归一化 key 的完全相等，不做任何相似度匹配，
// 宁可降低命中率也不返回似是而非的旧答案。
package cache

import "strings"

const (
	// SearchKeyMaxRunes 检索缓存 key 的长度上限（限制 key 基数，截断后视为等价）。
	SearchKeyMaxRunes = 200
	// TranslationKeyMaxRunes 翻译缓存 key 归一化文本的长度上限。
	TranslationKeyMaxRunes = 300
)

const punctuation = `.,!?;:'"()[]{}`

// 泰文声调符号（枢轴语言），归一化时剔除，
// 使仅声调书写差异的视觉同形串落到同一 key。
func isThaiToneMark(r rune) bool {
	return r >= '่' && r <= '๋'
}

// Normalize 归一化缓存 key 文本：
// 小写 → 去首尾空白 → 压缩连续空白 → 剔除固定标点集与泰文声调符号 → 按 rune 截断。
// 对任意输入满足 Normalize(Normalize(x)) == Normalize(x)。
func Normalize(text string, maxRunes int) string {
	lowered := strings.ToLower(text)

	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		if strings.ContainsRune(punctuation, r) || isThaiToneMark(r) {
			continue
		}
		b.WriteRune(r)
	}

	// Fields 同时完成 trim 与空白压缩
	collapsed := strings.Join(strings.Fields(b.String()), " ")

	if maxRunes > 0 {
		runes := []rune(collapsed)
		if len(runes) > maxRunes {
			collapsed = strings.TrimSpace(string(runes[:maxRunes]))
		}
	}
	return collapsed
}

// SearchKey 检索缓存 key。枢轴语言固定，不带语言判别前缀。
func SearchKey(query string) string {
	return Normalize(query, SearchKeyMaxRunes)
}

// TranslationKey 翻译缓存 key，带 "源:目标:" 语言判别前缀。
func TranslationKey(from, to, text string) string {
	return languagePrefix(from, to) + Normalize(text, TranslationKeyMaxRunes)
}

func languagePrefix(from, to string) string {
	return strings.ToLower(from) + ":" + strings.ToLower(to) + ":"
}
