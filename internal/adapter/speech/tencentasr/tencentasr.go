// Package tencentasr 封装腾讯云一句话识别，用于语音消息转写。
package tencentasr

import (
	"context"
	"fmt"
	"strings"

	asr "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/asr/v20190614"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
)

// Config 腾讯云 ASR 配置。
type Config struct {
	SecretID   string `json:"secret_id"`
	SecretKey  string `json:"secret_key"`
	Region     string `json:"region"`      // 默认 ap-bangkok
	EngineType string `json:"engine_type"` // 默认 16k_th
}

// Transcriber 一句话识别客户端。语音消息较短，单发请求足够，
// 不使用流式识别。
type Transcriber struct {
	client     *asr.Client
	engineType string
}

// New 创建转写客户端。
func New(cfg Config) (*Transcriber, error) {
	if cfg.Region == "" {
		cfg.Region = "ap-bangkok"
	}
	if cfg.EngineType == "" {
		cfg.EngineType = "16k_th"
	}

	credential := common.NewCredential(cfg.SecretID, cfg.SecretKey)
	client, err := asr.NewClient(credential, cfg.Region, profile.NewClientProfile())
	if err != nil {
		return nil, fmt.Errorf("create asr client: %w", err)
	}
	return &Transcriber{
		client:     client,
		engineType: cfg.EngineType,
	}, nil
}

// Transcribe 按 URL 转写一条语音消息，返回识别文本。
func (t *Transcriber) Transcribe(ctx context.Context, audioURL, format string) (string, error) {
	if format == "" {
		format = "mp3"
	}

	req := asr.NewSentenceRecognitionRequest()
	req.EngSerViceType = common.StringPtr(t.engineType)
	req.SourceType = common.Uint64Ptr(0) // 0 = 语音 URL
	req.Url = common.StringPtr(audioURL)
	req.VoiceFormat = common.StringPtr(format)

	resp, err := t.client.SentenceRecognitionWithContext(ctx, req)
	if err != nil {
		return "", fmt.Errorf("sentence recognition: %w", err)
	}
	if resp.Response == nil || resp.Response.Result == nil {
		return "", fmt.Errorf("sentence recognition: empty result")
	}
	return strings.TrimSpace(*resp.Response.Result), nil
}
