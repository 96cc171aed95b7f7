package chat

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"linguaweave/internal/domain/images"
	applog "linguaweave/internal/platform/log"
	"linguaweave/internal/platform/retry"
)

// 意图分类器不可用时的关键词兜底。
var imageIntentKeywords = []string{
	"รูป", "ภาพ", "ดูรูป", "ขอดู",
	"photo", "image", "picture", "pic",
}

// 文本答案里否认有图片的固定多语言短语表。
var noImagesPhrases = []string{
	"ไม่พบรูป", "ไม่มีรูป", "ไม่พบภาพ", "ไม่มีภาพ",
	"no photo", "no image", "no picture",
	"don't have any photo", "don't have any image",
}

// 查询长度低于该值且有历史时视为有歧义，需要上下文扩写。
const ambiguousQueryRunes = 12

// augmentWithImages 图片增强阶段。任何失败都只记录并保留纯文本答案。
func (p *Pipeline) augmentWithImages(ctx context.Context, message, pivotQuery string, history []Turn, targetLang string, result *Result) {
	if p.images == nil {
		return
	}
	if !p.classifyImageIntent(ctx, message) {
		return
	}

	// 并发执行查询扩写与 image-only 判定，汇合后再检索
	var wg sync.WaitGroup
	expandedCh := make(chan string, 1)
	imageOnlyCh := make(chan bool, 1)

	wg.Add(2)
	go func() {
		defer wg.Done()
		expandedCh <- p.expandQuery(ctx, pivotQuery, history)
	}()
	go func() {
		defer wg.Done()
		imageOnlyCh <- p.classifyImageOnly(ctx, message)
	}()
	wg.Wait()
	close(expandedCh)
	close(imageOnlyCh)

	expanded := <-expandedCh
	imageOnly := <-imageOnlyCh

	found, err := p.images.Search(ctx, expanded, images.Options{MaxResults: p.cfg.MaxImages})
	if err != nil {
		applog.Warn("[Chat] Image search failed, keeping text-only answer", "error", err)
		return
	}
	if len(found) == 0 {
		// 无图时不论意图如何都保留原答案
		return
	}

	for _, img := range found {
		result.Images = append(result.Images, ImageRef{URL: img.StorageURL, Caption: img.Caption})
	}

	switch {
	case imageOnly:
		// 纯图片意图：文本整体替换为简短引导句
		result.Answer = imageIntro(targetLang)
	case containsNoImagesPhrase(result.Answer):
		// 文本答案否认有图但实际找到了：重写答案消除矛盾，再接引导句
		result.Answer = strings.TrimSpace(p.rewriteDenyingAnswer(ctx, result.Answer, found) + "\n\n" + imageIntro(targetLang))
	default:
		// 混合意图：在原答案后追加引导句
		result.Answer = strings.TrimSpace(result.Answer) + "\n\n" + imageIntro(targetLang)
	}

	applog.Info("[Chat] Answer augmented with images",
		"images", len(found),
		"image_only", imageOnly,
	)
}

// classifyImageIntent 判断用户是否想要视觉内容。远程分类失败时用关键词兜底。
func (p *Pipeline) classifyImageIntent(ctx context.Context, message string) bool {
	if p.texts == nil {
		return keywordImageIntent(message)
	}

	const instruction = "Does the user ask to see images, photos or pictures? Answer with exactly 'yes' or 'no'."
	answer, err := retry.Do(ctx, p.classPolicy, func(ctx context.Context) (string, error) {
		return p.texts.TextTask(ctx, instruction, message)
	})
	if err != nil {
		applog.Warn("[Chat] Image intent classification failed, using keyword fallback", "error", err)
		return keywordImageIntent(message)
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "yes")
}

// classifyImageOnly 判断是否只要图不要文。失败时按混合意图处理。
func (p *Pipeline) classifyImageOnly(ctx context.Context, message string) bool {
	if p.texts == nil {
		return false
	}

	const instruction = "Does the user want ONLY images with no text explanation? Answer with exactly 'yes' or 'no'."
	answer, err := retry.Do(ctx, p.classPolicy, func(ctx context.Context) (string, error) {
		return p.texts.TextTask(ctx, instruction, message)
	})
	if err != nil {
		applog.Warn("[Chat] Image-only classification failed, assuming mixed intent", "error", err)
		return false
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "yes")
}

// expandQuery 有歧义的短查询借助近几轮会话扩写为自包含查询；失败用原查询。
func (p *Pipeline) expandQuery(ctx context.Context, pivotQuery string, history []Turn) string {
	if p.texts == nil || len(history) == 0 || utf8.RuneCountInString(pivotQuery) >= ambiguousQueryRunes {
		return pivotQuery
	}

	var b strings.Builder
	start := len(history) - 4
	if start < 0 {
		start = 0
	}
	for _, turn := range history[start:] {
		b.WriteString(turn.Role)
		b.WriteString(": ")
		b.WriteString(turn.Text)
		b.WriteString("\n")
	}
	b.WriteString("query: ")
	b.WriteString(pivotQuery)

	const instruction = "Rewrite the final query so it is self-contained, using the conversation for context. Answer with the rewritten query only."
	expanded, err := retry.Do(ctx, p.classPolicy, func(ctx context.Context) (string, error) {
		return p.texts.TextTask(ctx, instruction, b.String())
	})
	if err != nil || strings.TrimSpace(expanded) == "" {
		applog.Warn("[Chat] Query expansion failed, using raw query", "error", err)
		return pivotQuery
	}
	return strings.TrimSpace(expanded)
}

// rewriteDenyingAnswer 用原答案和图片标题重写文本，使其不再否认有图。
// 重写失败时退化为空文本，由调用方接上引导句。
func (p *Pipeline) rewriteDenyingAnswer(ctx context.Context, answer string, found []images.Scored) string {
	captions := make([]string, 0, len(found))
	for _, img := range found {
		if img.Caption != "" {
			captions = append(captions, img.Caption)
		}
	}

	if p.texts != nil {
		instruction := "The answer below claims no images are available, but images with these captions were found: " +
			strings.Join(captions, "; ") +
			". Rewrite the answer in the same language so it presents the images instead of denying them. Answer with the rewritten text only."
		rewritten, err := retry.Do(ctx, p.classPolicy, func(ctx context.Context) (string, error) {
			return p.texts.TextTask(ctx, instruction, answer)
		})
		if err == nil && strings.TrimSpace(rewritten) != "" {
			return strings.TrimSpace(rewritten)
		}
		applog.Warn("[Chat] Answer rewrite failed, dropping the denial", "error", err)
	}
	return ""
}

func keywordImageIntent(message string) bool {
	lowered := strings.ToLower(message)
	for _, kw := range imageIntentKeywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

func containsNoImagesPhrase(answer string) bool {
	lowered := strings.ToLower(answer)
	for _, phrase := range noImagesPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}

// imageIntro 按目标语言选择简短引导句。
func imageIntro(lang string) string {
	if strings.EqualFold(lang, "th") {
		return "นี่คือรูปภาพที่เกี่ยวข้องค่ะ"
	}
	return "Here are the related images."
}
