package chat

import (
	"context"
	"fmt"
	"strings"

	"linguaweave/internal/domain/cache"
	"linguaweave/internal/domain/images"
	applog "linguaweave/internal/platform/log"
	"linguaweave/internal/platform/retry"
	"linguaweave/internal/provider"
)

const answerInstruction = "You are a customer support assistant. Answer the question in Thai using the " +
	"knowledge base documents retrieved for you. Be concise and helpful. If the documents do not cover " +
	"the question, say politely that you do not have that information."

const strictGroundingInstruction = "You are a customer support assistant. You MUST base your answer " +
	"strictly on the knowledge base documents retrieved for you and cite their content. Do not answer " +
	"from general knowledge. Answer in Thai."

// Config 管线配置。
type Config struct {
	PivotLang string `json:"pivot_lang"` // 检索枢轴语言，默认 th
	Model     string `json:"model"`
	DataStore string `json:"data_store"` // grounded retrieval 的文档库名
	// UngroundedRetries 零证据时追加的严格指令重试次数。
	UngroundedRetries int `json:"ungrounded_retries"`
	// ShortTextRunes 低于该长度的输入先走字符区间快速分类。
	ShortTextRunes int `json:"short_text_runes"`
	MaxImages      int `json:"max_images"`
}

// DefaultConfig 默认管线配置。
func DefaultConfig() Config {
	return Config{
		PivotLang:         "th",
		UngroundedRetries: 1,
		ShortTextRunes:    20,
		MaxImages:         3,
	}
}

// Pipeline 请求级编排：语言检测 → 译入枢轴语言 → 缓存/检索生成 →
// 译回目标语言 → 图片增强 → 装配。除缓存外不跨请求持有状态。
type Pipeline struct {
	generator    provider.Generator
	texts        provider.TextTasker
	translations *cache.Translation
	searches     *cache.Search
	images       *images.Searcher // 可为 nil（禁用图片增强）
	transcriber  Transcriber      // 可为 nil（禁用语音输入）
	cfg          Config

	xlatPolicy  retry.Policy
	genPolicy   retry.Policy
	classPolicy retry.Policy
}

// NewPipeline 创建问答管线。
func NewPipeline(gen provider.Generator, texts provider.TextTasker, translations *cache.Translation, searches *cache.Search, cfg Config) *Pipeline {
	if cfg.PivotLang == "" {
		cfg.PivotLang = "th"
	}
	if cfg.UngroundedRetries < 0 {
		cfg.UngroundedRetries = 0
	}
	if cfg.ShortTextRunes <= 0 {
		cfg.ShortTextRunes = 20
	}
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = 3
	}
	return &Pipeline{
		generator:    gen,
		texts:        texts,
		translations: translations,
		searches:     searches,
		cfg:          cfg,
		xlatPolicy:   retry.TranslationPolicy(),
		genPolicy:    retry.GenerationPolicy(),
		classPolicy:  retry.ClassificationPolicy(),
	}
}

// SetImageSearch 启用图片增强。
func (p *Pipeline) SetImageSearch(s *images.Searcher) {
	p.images = s
}

// SetTranscriber 启用语音输入。
func (p *Pipeline) SetTranscriber(t Transcriber) {
	p.transcriber = t
}

// Answer 执行完整的一次问答。步骤 1–4 的不可恢复错误使请求失败；
// 图片增强阶段的任何失败只降级为纯文本响应。
func (p *Pipeline) Answer(ctx context.Context, req *Request) (*Result, error) {
	if p.generator == nil {
		return nil, ErrNoGenerator
	}

	message := strings.TrimSpace(req.Message)
	if message == "" && req.AudioURL != "" {
		if p.transcriber == nil {
			return nil, ErrTranscriptionUnavailable
		}
		transcribed, err := p.transcriber.Transcribe(ctx, req.AudioURL, req.AudioFormat)
		if err != nil {
			return nil, fmt.Errorf("transcribe voice message: %w", err)
		}
		message = strings.TrimSpace(transcribed)
		applog.Info("[Chat] Voice message transcribed", "conversation_id", req.ConversationID, "runes", len([]rune(message)))
	}
	if message == "" {
		return nil, ErrEmptyMessage
	}

	// 1. DetectLanguage（内部自带兜底，不会失败）
	detected := p.detectLanguage(ctx, message)

	// 2. TranslateToPivot（同语言跳过）
	pivotQuery := message
	if !strings.EqualFold(detected, p.cfg.PivotLang) {
		translated, err := p.translations.Wrap(ctx, message, detected, p.cfg.PivotLang, func(ctx context.Context) (string, error) {
			return p.translateText(ctx, message, detected, p.cfg.PivotLang)
		})
		if err != nil {
			return nil, fmt.Errorf("translate to pivot: %w", err)
		}
		pivotQuery = translated
	}

	// 3. ResolveAnswer：缓存命中短路，miss 走检索生成
	entry, hits, fromCache := p.searches.Get(ctx, pivotQuery)
	if !fromCache {
		resolved, err := p.resolveAnswer(ctx, req.History, pivotQuery)
		if err != nil {
			return nil, err
		}
		entry = resolved
		p.searches.Set(ctx, pivotQuery, *entry)
	} else {
		applog.Info("[Chat] Answer served from cache", "conversation_id", req.ConversationID, "hits", hits)
	}

	// 4. TranslateFromPivot（目标语言默认跟随检测语言）
	target := req.TargetLang
	if target == "" {
		target = detected
	}
	answer := entry.Answer
	if !strings.EqualFold(target, p.cfg.PivotLang) {
		translated, err := p.translations.Wrap(ctx, entry.Answer, p.cfg.PivotLang, target, func(ctx context.Context) (string, error) {
			return p.translateText(ctx, entry.Answer, p.cfg.PivotLang, target)
		})
		if err != nil {
			return nil, fmt.Errorf("translate from pivot: %w", err)
		}
		answer = translated
	}

	result := &Result{
		Answer:           answer,
		DetectedLanguage: detected,
		TargetLanguage:   target,
		EvidenceUsed:     len(entry.Chunks) > 0,
		FromCache:        fromCache,
	}

	// 5. AugmentWithImages：失败只降级，绝不中断
	p.augmentWithImages(ctx, message, pivotQuery, req.History, target, result)

	return result, nil
}

// resolveAnswer 重试包裹的检索+生成调用。零证据时以更严格的指令
// 追加至多 UngroundedRetries 次；仍无证据则照用无依据答案，不再循环。
// 无论是否有证据，结果都会被缓存。
func (p *Pipeline) resolveAnswer(ctx context.Context, history []Turn, pivotQuery string) (*cache.SearchEntry, error) {
	resp, err := p.generate(ctx, history, pivotQuery, answerInstruction)
	if err != nil {
		return nil, fmt.Errorf("resolve answer: %w", err)
	}

	for attempt := 0; attempt < p.cfg.UngroundedRetries && len(resp.Chunks) == 0; attempt++ {
		applog.Warn("[Chat] Ungrounded answer, retrying with strict instruction",
			"attempt", attempt+1,
			"max", p.cfg.UngroundedRetries,
		)
		strict, err := p.generate(ctx, history, pivotQuery, strictGroundingInstruction)
		if err != nil {
			// 严格重试失败时保留已有答案
			applog.Warn("[Chat] Strict grounding retry failed, keeping ungrounded answer", "error", err)
			break
		}
		resp = strict
	}

	return &cache.SearchEntry{Answer: resp.Text, Chunks: resp.Chunks}, nil
}

func (p *Pipeline) generate(ctx context.Context, history []Turn, pivotQuery, instruction string) (*provider.GenerateResponse, error) {
	contents := make([]provider.Content, 0, len(history)+1)
	for _, turn := range history {
		contents = append(contents, provider.Content{Role: turn.Role, Text: turn.Text})
	}
	contents = append(contents, provider.Content{Role: "user", Text: pivotQuery})

	genReq := &provider.GenerateRequest{
		Model:             p.cfg.Model,
		SystemInstruction: instruction,
		Contents:          contents,
	}
	if p.cfg.DataStore != "" {
		genReq.Tools = []provider.Tool{{DataStore: p.cfg.DataStore}}
	}

	return retry.Do(ctx, p.genPolicy, func(ctx context.Context) (*provider.GenerateResponse, error) {
		return p.generator.Generate(ctx, genReq)
	})
}
