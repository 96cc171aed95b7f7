package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"linguaweave/internal/domain/cache"
	"linguaweave/internal/domain/images"
	"linguaweave/internal/provider"
)

// fakeGenerator 逐次返回预置响应，记录每次调用的指令。
type fakeGenerator struct {
	responses    []*provider.GenerateResponse
	err          error
	calls        int
	instructions []string
}

func (f *fakeGenerator) Name() string { return "fake" }

func (f *fakeGenerator) Generate(ctx context.Context, req *provider.GenerateRequest) (*provider.GenerateResponse, error) {
	f.calls++
	f.instructions = append(f.instructions, req.SystemInstruction)
	if f.err != nil {
		return nil, f.err
	}
	idx := f.calls - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return f.responses[idx], nil
}

// fakeTexts 按指令前缀路由单发文本任务。
// 图片增强阶段会从多个 goroutine 并发调用，calls 需要加锁。
type fakeTexts struct {
	detect      string
	translation string
	imageIntent string
	imageOnly   string
	rewrite     string
	category    string
	keywords    string
	err         error

	mu    sync.Mutex
	calls []string
}

func (f *fakeTexts) TextTask(ctx context.Context, instruction, input string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, instruction)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	switch {
	case strings.HasPrefix(instruction, "Detect the language"):
		return f.detect, nil
	case strings.HasPrefix(instruction, "Translate the text"):
		return f.translation, nil
	case strings.HasPrefix(instruction, "Does the user ask to see"):
		return f.imageIntent, nil
	case strings.HasPrefix(instruction, "Does the user want ONLY"):
		return f.imageOnly, nil
	case strings.HasPrefix(instruction, "Rewrite the final query"):
		return input, nil
	case strings.HasPrefix(instruction, "The answer below claims"):
		return f.rewrite, nil
	case strings.HasPrefix(instruction, "Classify the request"):
		return f.category, nil
	case strings.HasPrefix(instruction, "Extract up to"):
		return f.keywords, nil
	}
	return "", errors.New("unexpected instruction: " + instruction)
}

// taskCalls 统计指定指令前缀被调用的次数。
func (f *fakeTexts) taskCalls(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, call := range f.calls {
		if strings.HasPrefix(call, prefix) {
			n++
		}
	}
	return n
}

// staticCatalog 固定图片目录。
type staticCatalog struct {
	records []images.Record
	err     error
}

func (c *staticCatalog) ListActive(ctx context.Context, category string, limit int) ([]images.Record, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.records, nil
}

func groundedResponse(text string) *provider.GenerateResponse {
	return &provider.GenerateResponse{
		Text:   text,
		Chunks: []provider.EvidenceChunk{{Source: "doc-1"}},
	}
}

func newTestPipeline(gen provider.Generator, texts provider.TextTasker) *Pipeline {
	translations := cache.NewTranslation(cache.TranslationConfig{MaxSize: 50, TTL: time.Hour})
	searches := cache.NewSearch(cache.SearchConfig{LocalMaxSize: 50, LocalTTL: time.Hour}, nil)
	cfg := DefaultConfig()
	cfg.DataStore = "kb-main"
	return NewPipeline(gen, texts, translations, searches, cfg)
}

func TestAnswerThaiQuestionGrounded(t *testing.T) {
	gen := &fakeGenerator{responses: []*provider.GenerateResponse{
		groundedResponse("บริการราคา 5000 บาท"),
	}}
	p := newTestPipeline(gen, &fakeTexts{})

	got, err := p.Answer(context.Background(), &Request{Message: "ราคาบริการ"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Answer != "บริการราคา 5000 บาท" {
		t.Fatalf("unexpected answer: %q", got.Answer)
	}
	if got.DetectedLanguage != "th" || got.TargetLanguage != "th" {
		t.Errorf("expected th/th languages, got %s/%s", got.DetectedLanguage, got.TargetLanguage)
	}
	if !got.EvidenceUsed {
		t.Error("expected evidence_used=true for grounded answer")
	}
	if got.FromCache {
		t.Error("first resolution must not be from cache")
	}
}

// 同一问题（空白差异）第二次必须由缓存短路，不再触达生成服务。
func TestAnswerCacheShortCircuit(t *testing.T) {
	gen := &fakeGenerator{responses: []*provider.GenerateResponse{
		groundedResponse("บริการราคา 5000 บาท"),
	}}
	p := newTestPipeline(gen, &fakeTexts{})
	ctx := context.Background()

	first, err := p.Answer(ctx, &Request{Message: "ราคาบริการ"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := p.Answer(ctx, &Request{Message: "  ราคาบริการ  "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gen.calls != 1 {
		t.Fatalf("expected exactly 1 generation call, got %d", gen.calls)
	}
	if !second.FromCache || first.FromCache {
		t.Errorf("expected from_cache false then true, got %v then %v", first.FromCache, second.FromCache)
	}
	if second.Answer != first.Answer {
		t.Errorf("cached answer differs: %q vs %q", second.Answer, first.Answer)
	}
	if !second.EvidenceUsed {
		t.Error("evidence flag must survive the cache")
	}
}

// 零证据答案触发一次严格指令重试；重试拿到证据则采纳。
func TestAnswerUngroundedRetry(t *testing.T) {
	gen := &fakeGenerator{responses: []*provider.GenerateResponse{
		{Text: "คำตอบที่ไม่มีหลักฐานอ้างอิง"},
		groundedResponse("คำตอบที่มีหลักฐานครบถ้วน"),
	}}
	p := newTestPipeline(gen, &fakeTexts{})

	got, err := p.Answer(context.Background(), &Request{Message: "ราคาบริการ"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gen.calls != 2 {
		t.Fatalf("expected 2 generation calls (normal + strict), got %d", gen.calls)
	}
	if !strings.Contains(gen.instructions[1], "MUST") {
		t.Error("expected second call to use the strict grounding instruction")
	}
	if got.Answer != "คำตอบที่มีหลักฐานครบถ้วน" || !got.EvidenceUsed {
		t.Fatalf("expected grounded retry answer, got %+v", got)
	}
}

// 严格重试仍无证据时接受无依据答案，不再继续循环。
func TestAnswerAcceptsUngroundedAfterRetry(t *testing.T) {
	gen := &fakeGenerator{responses: []*provider.GenerateResponse{
		{Text: "คำตอบแบบไม่มีหลักฐานเลย"},
		{Text: "ยังคงไม่มีหลักฐานเหมือนเดิม"},
	}}
	p := newTestPipeline(gen, &fakeTexts{})

	got, err := p.Answer(context.Background(), &Request{Message: "ราคาบริการ"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gen.calls != 2 {
		t.Fatalf("expected exactly 2 generation calls, got %d", gen.calls)
	}
	if got.EvidenceUsed {
		t.Error("expected evidence_used=false for ungrounded answer")
	}
	if got.Answer != "ยังคงไม่มีหลักฐานเหมือนเดิม" {
		t.Fatalf("expected the strict-retry answer to be accepted, got %q", got.Answer)
	}
}

// 英文问题：译入枢轴语言检索，相同翻译第二次由翻译缓存供给。
func TestAnswerTranslatesToPivot(t *testing.T) {
	gen := &fakeGenerator{responses: []*provider.GenerateResponse{
		groundedResponse("บริการราคา 5000 บาท"),
	}}
	texts := &fakeTexts{detect: "en", translation: "ราคาบริการ"}
	p := newTestPipeline(gen, texts)

	got, err := p.Answer(context.Background(), &Request{
		Message:    "How much is the service?",
		TargetLang: "th",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.DetectedLanguage != "en" {
		t.Fatalf("expected detected=en, got %s", got.DetectedLanguage)
	}
	// TargetLang=th 时答案保持枢轴语言
	if got.Answer != "บริการราคา 5000 บาท" {
		t.Fatalf("unexpected answer: %q", got.Answer)
	}

	if n := texts.taskCalls("Translate the text"); n != 1 {
		t.Fatalf("expected 1 translate call, got %d", n)
	}

	// 相同问题再来一次：翻译与检索都走缓存
	if _, err := p.Answer(context.Background(), &Request{Message: "How much is the service?", TargetLang: "th"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := texts.taskCalls("Translate the text"); n != 1 {
		t.Fatalf("expected translation cache hit on repeat, still %d calls", n)
	}
	if gen.calls != 1 {
		t.Fatalf("expected search cache hit on repeat, got %d generation calls", gen.calls)
	}
}

// 远程语言检测失败退回字符区间分类，请求照常完成。
func TestAnswerDetectionFallsBackOnRemoteFailure(t *testing.T) {
	gen := &fakeGenerator{responses: []*provider.GenerateResponse{
		groundedResponse("บริการทำความสะอาดเริ่มต้น 500 บาทค่ะ"),
	}}
	texts := &fakeTexts{err: errors.New("invalid input")}
	p := newTestPipeline(gen, texts)

	// 足够长的泰文输入，绕过短输入快速分类，强制走远程检测
	got, err := p.Answer(context.Background(), &Request{
		Message: "ช่วยแนะนำบริการทำความสะอาดบ้านหน่อยได้ไหมครับ",
	})
	if err != nil {
		t.Fatalf("expected request to survive detection failure, got %v", err)
	}
	if got.DetectedLanguage != "th" {
		t.Fatalf("expected script-heuristic fallback to th, got %q", got.DetectedLanguage)
	}
	if got.Answer != "บริการทำความสะอาดเริ่มต้น 500 บาทค่ะ" {
		t.Fatalf("unexpected answer: %q", got.Answer)
	}
}

func TestAnswerEmptyMessage(t *testing.T) {
	p := newTestPipeline(&fakeGenerator{responses: []*provider.GenerateResponse{groundedResponse("x")}}, &fakeTexts{})
	if _, err := p.Answer(context.Background(), &Request{Message: "   "}); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

// 生成服务永久性失败必须中止请求并保留错误类型。
func TestAnswerGenerationFailureAborts(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("invalid api key")}
	p := newTestPipeline(gen, &fakeTexts{})

	_, err := p.Answer(context.Background(), &Request{Message: "ราคาบริการ"})
	if err == nil {
		t.Fatal("expected error when generation fails")
	}
	if gen.calls != 1 {
		t.Fatalf("expected non-retryable failure to stop after 1 call, got %d", gen.calls)
	}
}

// -- 图片增强场景 --

func threeImages() []images.Record {
	return []images.Record{
		{ID: "1", StorageURL: "https://img/1.jpg", Caption: "ห้องพักรวม"},
		{ID: "2", StorageURL: "https://img/2.jpg", Caption: "ห้องพักเดี่ยว"},
		{ID: "3", StorageURL: "https://img/3.jpg", Caption: "ห้องอาหาร"},
	}
}

func withImageSearch(p *Pipeline, texts provider.TextTasker, records []images.Record) *Pipeline {
	searcher := images.NewSearcher(&staticCatalog{records: records}, texts, images.DefaultConfig())
	p.SetImageSearch(searcher)
	return p
}

// 纯图片意图 + 找到图片：文本整体替换为引导句。
func TestAugmentImageOnlyOverridesAnswer(t *testing.T) {
	gen := &fakeGenerator{responses: []*provider.GenerateResponse{
		groundedResponse("ไม่พบข้อมูลเพิ่มเติม"),
	}}
	texts := &fakeTexts{imageIntent: "yes", imageOnly: "yes", category: "none"}
	p := withImageSearch(newTestPipeline(gen, texts), texts, threeImages())

	got, err := p.Answer(context.Background(), &Request{Message: "ขอดูรูปห้องพักหน่อย"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Images) != 3 {
		t.Fatalf("expected 3 images, got %d", len(got.Images))
	}
	if strings.Contains(got.Answer, "ไม่พบข้อมูล") {
		t.Fatalf("expected original answer to be replaced, got %q", got.Answer)
	}
	if got.Answer != "นี่คือรูปภาพที่เกี่ยวข้องค่ะ" {
		t.Fatalf("expected intro sentence, got %q", got.Answer)
	}
}

// 答案否认有图但找到了：重写并追加引导句。
func TestAugmentCorrectsFalseNegativeAnswer(t *testing.T) {
	gen := &fakeGenerator{responses: []*provider.GenerateResponse{
		groundedResponse("ขออภัย ไม่พบรูปห้องพักค่ะ"),
	}}
	// TargetLang=en：枢轴答案经 translation 字段译出后才进入增强阶段
	texts := &fakeTexts{
		imageIntent: "yes",
		imageOnly:   "no",
		category:    "none",
		translation: "Sorry, there is no photo of the rooms available.",
		rewrite:     "We do have room photos for you.",
	}
	p := withImageSearch(newTestPipeline(gen, texts), texts, threeImages()[:2])

	got, err := p.Answer(context.Background(), &Request{
		Message:    "ขอดูรูปห้องพักหน่อย",
		TargetLang: "en",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(got.Images))
	}
	if strings.Contains(strings.ToLower(got.Answer), "no photo") {
		t.Fatalf("expected denial to be rewritten, got %q", got.Answer)
	}
	if !strings.HasSuffix(got.Answer, "Here are the related images.") {
		t.Fatalf("expected appended introduction, got %q", got.Answer)
	}
}

// 混合意图 + 找到图片：原答案保留并追加引导句。
func TestAugmentAppendsIntroForMixedIntent(t *testing.T) {
	gen := &fakeGenerator{responses: []*provider.GenerateResponse{
		groundedResponse("ห้องพักมีสามแบบ ราคาต่างกันค่ะ"),
	}}
	texts := &fakeTexts{imageIntent: "yes", imageOnly: "no", category: "none"}
	p := withImageSearch(newTestPipeline(gen, texts), texts, threeImages())

	got, err := p.Answer(context.Background(), &Request{Message: "ขอดูรูปห้องพักหน่อย"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(got.Answer, "ห้องพักมีสามแบบ") {
		t.Fatalf("expected original answer preserved, got %q", got.Answer)
	}
	if !strings.HasSuffix(got.Answer, "นี่คือรูปภาพที่เกี่ยวข้องค่ะ") {
		t.Fatalf("expected appended intro, got %q", got.Answer)
	}
}

// 无图时不论意图如何原答案保持不变。
func TestAugmentZeroImagesLeavesAnswerUnchanged(t *testing.T) {
	gen := &fakeGenerator{responses: []*provider.GenerateResponse{
		groundedResponse("ไม่พบข้อมูลเพิ่มเติม"),
	}}
	texts := &fakeTexts{imageIntent: "yes", imageOnly: "yes", category: "none"}
	p := withImageSearch(newTestPipeline(gen, texts), texts, nil)

	got, err := p.Answer(context.Background(), &Request{Message: "ขอดูรูปห้องพักหน่อย"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Answer != "ไม่พบข้อมูลเพิ่มเติม" {
		t.Fatalf("expected unchanged answer, got %q", got.Answer)
	}
	if len(got.Images) != 0 {
		t.Fatalf("expected no images, got %d", len(got.Images))
	}
}

// 有歧义的短查询借助会话历史并发扩写；扩写与 image-only 判定都必须发生。
func TestAugmentExpandsShortQueryUsingHistory(t *testing.T) {
	gen := &fakeGenerator{responses: []*provider.GenerateResponse{
		groundedResponse("ห้องพักรวมมีสองแบบค่ะ"),
	}}
	texts := &fakeTexts{imageIntent: "yes", imageOnly: "no", category: "none"}
	p := withImageSearch(newTestPipeline(gen, texts), texts, threeImages())

	history := []Turn{
		{Role: "user", Text: "ห้องพักรวมราคาเท่าไหร่"},
		{Role: "model", Text: "ห้องพักรวมคืนละ 500 บาทค่ะ"},
	}
	got, err := p.Answer(context.Background(), &Request{Message: "ขอดูรูป", History: history})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n := texts.taskCalls("Rewrite the final query"); n != 1 {
		t.Fatalf("expected 1 query expansion call for ambiguous short query, got %d", n)
	}
	if n := texts.taskCalls("Does the user want ONLY"); n != 1 {
		t.Fatalf("expected 1 image-only classification call, got %d", n)
	}
	if len(got.Images) != 3 {
		t.Fatalf("expected 3 images from expanded query, got %d", len(got.Images))
	}
	if !strings.HasSuffix(got.Answer, "นี่คือรูปภาพที่เกี่ยวข้องค่ะ") {
		t.Fatalf("expected appended intro, got %q", got.Answer)
	}
}

// 图片目录故障只降级为纯文本答案，绝不让请求失败。
func TestAugmentDegradesOnCatalogFailure(t *testing.T) {
	gen := &fakeGenerator{responses: []*provider.GenerateResponse{
		groundedResponse("ห้องพักมีสามแบบ ราคาต่างกันค่ะ"),
	}}
	texts := &fakeTexts{imageIntent: "yes", imageOnly: "yes", category: "none"}
	catalog := &staticCatalog{err: errors.New("connection refused")}
	p := newTestPipeline(gen, texts)
	p.SetImageSearch(images.NewSearcher(catalog, texts, images.DefaultConfig()))

	got, err := p.Answer(context.Background(), &Request{Message: "ขอดูรูปห้องพักหน่อย"})
	if err != nil {
		t.Fatalf("expected degraded text-only answer, got error: %v", err)
	}
	if got.Answer != "ห้องพักมีสามแบบ ราคาต่างกันค่ะ" {
		t.Fatalf("expected untouched answer, got %q", got.Answer)
	}
	if len(got.Images) != 0 {
		t.Fatalf("expected no images on catalog failure, got %d", len(got.Images))
	}
}

// 非图片意图完全跳过增强阶段。
func TestAugmentSkippedWithoutImageIntent(t *testing.T) {
	gen := &fakeGenerator{responses: []*provider.GenerateResponse{
		groundedResponse("บริการราคา 5000 บาท"),
	}}
	texts := &fakeTexts{imageIntent: "no"}
	p := withImageSearch(newTestPipeline(gen, texts), texts, threeImages())

	got, err := p.Answer(context.Background(), &Request{Message: "ราคาบริการเท่าไหร่"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Images) != 0 {
		t.Fatalf("expected no images for non-visual intent, got %d", len(got.Images))
	}
}

// -- 语音输入 --

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioURL, format string) (string, error) {
	return f.text, f.err
}

func TestAnswerTranscribesVoiceMessage(t *testing.T) {
	gen := &fakeGenerator{responses: []*provider.GenerateResponse{
		groundedResponse("บริการราคา 5000 บาท"),
	}}
	p := newTestPipeline(gen, &fakeTexts{})
	p.SetTranscriber(&fakeTranscriber{text: "ราคาบริการ"})

	got, err := p.Answer(context.Background(), &Request{AudioURL: "https://voice/msg.mp3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Answer != "บริการราคา 5000 บาท" {
		t.Fatalf("unexpected answer: %q", got.Answer)
	}
}

func TestAnswerVoiceWithoutTranscriber(t *testing.T) {
	p := newTestPipeline(&fakeGenerator{responses: []*provider.GenerateResponse{groundedResponse("x")}}, &fakeTexts{})
	_, err := p.Answer(context.Background(), &Request{AudioURL: "https://voice/msg.mp3"})
	if !errors.Is(err, ErrTranscriptionUnavailable) {
		t.Fatalf("expected ErrTranscriptionUnavailable, got %v", err)
	}
}

func TestAnswerTranscriptionFailureAborts(t *testing.T) {
	p := newTestPipeline(&fakeGenerator{responses: []*provider.GenerateResponse{groundedResponse("x")}}, &fakeTexts{})
	p.SetTranscriber(&fakeTranscriber{err: errors.New("asr down")})

	if _, err := p.Answer(context.Background(), &Request{AudioURL: "https://voice/msg.mp3"}); err == nil {
		t.Fatal("expected transcription failure to abort the request")
	}
}
