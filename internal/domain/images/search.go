package images

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"linguaweave/internal/domain/cache"
	applog "linguaweave/internal/platform/log"
	"linguaweave/internal/platform/retry"
	"linguaweave/internal/provider"
)

// 相关性加分值。数值沿用线上调优结果，顺序：标题 > 提取文本 > 标签。
const (
	captionQueryScore   = 10
	captionKeywordScore = 3
	tagQueryScore       = 5
	tagKeywordScore     = 2
	textQueryScore      = 8
	textKeywordScore    = 2
)

const defaultRowCap = 500

// Options 检索参数。
type Options struct {
	MaxResults int
	Category   string // 为空时先走类目分类器，分类失败则不过滤
}

// Config 图片检索配置。
type Config struct {
	Categories []string // 闭集类目
	RowCap     int
}

// DefaultConfig 默认配置。
func DefaultConfig() Config {
	return Config{
		Categories: []string{"product", "service", "promotion", "location"},
		RowCap:     defaultRowCap,
	}
}

// Searcher 关键词打分的图片检索。
type Searcher struct {
	catalog Catalog
	texts   provider.TextTasker // 类目分类 + 关键词抽取（均为尽力而为）
	config  Config
	policy  retry.Policy
}

// NewSearcher 创建图片检索器。
func NewSearcher(catalog Catalog, texts provider.TextTasker, cfg Config) *Searcher {
	if cfg.RowCap <= 0 {
		cfg.RowCap = defaultRowCap
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = DefaultConfig().Categories
	}
	return &Searcher{
		catalog: catalog,
		texts:   texts,
		config:  cfg,
		policy:  retry.ClassificationPolicy(),
	}
}

// Search 按相关性对目录图片打分并降序返回（零分也返回），截断到 MaxResults。
// 是否接受零分结果由调用方决定。
func (s *Searcher) Search(ctx context.Context, query string, opts Options) ([]Scored, error) {
	if opts.MaxResults <= 0 {
		opts.MaxResults = 3
	}

	category := opts.Category
	if category == "" {
		category = s.classifyCategory(ctx, query)
	}

	keywords := s.extractKeywords(ctx, query)

	records, err := s.catalog.ListActive(ctx, category, s.config.RowCap)
	if err != nil {
		return nil, fmt.Errorf("list active images: %w", err)
	}

	normQuery := cache.Normalize(query, cache.SearchKeyMaxRunes)
	scored := make([]Scored, 0, len(records))
	for _, rec := range records {
		scored = append(scored, Scored{
			Record: rec,
			Score:  scoreRecord(rec, normQuery, keywords),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > opts.MaxResults {
		scored = scored[:opts.MaxResults]
	}

	applog.Info("[Images] Search scored",
		"query", query,
		"category", category,
		"keywords", len(keywords),
		"candidates", len(records),
		"returned", len(scored),
	)
	return scored, nil
}

// classifyCategory 远程类目分类，失败或不确定时返回空（不过滤）。
func (s *Searcher) classifyCategory(ctx context.Context, query string) string {
	if s.texts == nil {
		return ""
	}

	instruction := fmt.Sprintf(
		"Classify the request into exactly one of these image categories: %s. Answer with the category name only, or 'none' if unsure.",
		strings.Join(s.config.Categories, ", "),
	)
	answer, err := retry.Do(ctx, s.policy, func(ctx context.Context) (string, error) {
		return s.texts.TextTask(ctx, instruction, query)
	})
	if err != nil {
		applog.Warn("[Images] Category classification failed, searching all categories", "error", err)
		return ""
	}

	answer = strings.ToLower(strings.TrimSpace(answer))
	for _, c := range s.config.Categories {
		if answer == strings.ToLower(c) {
			return c
		}
	}
	return ""
}

// extractKeywords 远程关键词抽取，失败时返回空列表。
func (s *Searcher) extractKeywords(ctx context.Context, query string) []string {
	if s.texts == nil {
		return nil
	}

	const instruction = "Extract up to 5 short search keywords from the text. Answer with the keywords only, comma-separated, no explanation."
	answer, err := retry.Do(ctx, s.policy, func(ctx context.Context) (string, error) {
		return s.texts.TextTask(ctx, instruction, query)
	})
	if err != nil {
		applog.Warn("[Images] Keyword extraction failed, scoring with raw query only", "error", err)
		return nil
	}

	var keywords []string
	for _, part := range strings.Split(answer, ",") {
		kw := cache.Normalize(part, cache.SearchKeyMaxRunes)
		if kw != "" {
			keywords = append(keywords, kw)
		}
	}
	return keywords
}

// scoreRecord 累加式打分：标题/标签/提取文本分别对
// 原始归一化查询（整串包含）和抽取关键词加分。
func scoreRecord(rec Record, normQuery string, keywords []string) int {
	score := 0

	caption := cache.Normalize(rec.Caption, 0)
	if normQuery != "" && strings.Contains(caption, normQuery) {
		score += captionQueryScore
	}
	for _, kw := range keywords {
		if strings.Contains(caption, kw) {
			score += captionKeywordScore
		}
	}

	tagged := false
	for _, tag := range rec.Tags {
		if normQuery != "" && strings.Contains(cache.Normalize(tag, 0), normQuery) {
			score += tagQueryScore
			tagged = true
			break
		}
	}
	if !tagged {
		for _, kw := range keywords {
			for _, tag := range rec.Tags {
				if strings.Contains(cache.Normalize(tag, 0), kw) {
					score += tagKeywordScore
					break
				}
			}
		}
	}

	text := cache.Normalize(rec.ExtractedText, 0)
	if normQuery != "" && strings.Contains(text, normQuery) {
		score += textQueryScore
	}
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			score += textKeywordScore
		}
	}

	return score
}
