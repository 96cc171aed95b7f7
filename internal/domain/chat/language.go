package chat

import (
	"context"
	"strings"
	"unicode/utf8"

	applog "linguaweave/internal/platform/log"
	"linguaweave/internal/platform/retry"
)

// isThaiRune 泰文区块（不含数字符号区）。
func isThaiRune(r rune) bool {
	return r >= 'ก' && r <= '๛'
}

// detectByScript 字符区间快速分类：枢轴文字占比过半判为泰文，否则按英文处理。
// 作为远程检测不可用时的兜底，永不失败。
func detectByScript(text, pivotLang string) string {
	letters := 0
	thai := 0
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' {
			continue
		}
		letters++
		if isThaiRune(r) {
			thai++
		}
	}
	if letters > 0 && thai*2 > letters {
		return pivotLang
	}
	return "en"
}

// detectLanguage 语言检测：短输入先走字符分类（泰文可直接定论）；
// 其余走重试包裹的远程检测，远程失败再退回字符分类，从不让整个请求失败。
func (p *Pipeline) detectLanguage(ctx context.Context, text string) string {
	if utf8.RuneCountInString(text) <= p.cfg.ShortTextRunes {
		if lang := detectByScript(text, p.cfg.PivotLang); lang == p.cfg.PivotLang {
			return lang
		}
	}

	if p.texts == nil {
		return detectByScript(text, p.cfg.PivotLang)
	}

	const instruction = "Detect the language of the text. Answer with the ISO 639-1 code only (e.g. th, en, ja)."
	code, err := retry.Do(ctx, p.classPolicy, func(ctx context.Context) (string, error) {
		return p.texts.TextTask(ctx, instruction, text)
	})
	if err != nil {
		applog.Warn("[Chat] Remote language detection failed, using script heuristic", "error", err)
		return detectByScript(text, p.cfg.PivotLang)
	}

	code = strings.ToLower(strings.TrimSpace(code))
	if len(code) < 2 || len(code) > 8 || strings.ContainsAny(code, " \n") {
		applog.Warn("[Chat] Unusable language detection output, using script heuristic", "output", code)
		return detectByScript(text, p.cfg.PivotLang)
	}
	return code
}

// translateText 远程翻译单次调用（由翻译缓存的 Wrap 包裹使用）。
func (p *Pipeline) translateText(ctx context.Context, text, from, to string) (string, error) {
	instruction := "Translate the text from " + from + " to " + to + ". Answer with the translation only, no explanation."
	return retry.Do(ctx, p.xlatPolicy, func(ctx context.Context) (string, error) {
		return p.texts.TextTask(ctx, instruction, text)
	})
}
