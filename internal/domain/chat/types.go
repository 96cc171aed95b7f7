// Package chat 实现多语言检索增强问答的请求编排管线。
package chat

import "context"

// Turn 会话历史中的一轮。
type Turn struct {
	Role string `json:"role"` // user | model
	Text string `json:"text"`
}

// Request 一次问答请求。Message 与 AudioURL 二选一，语音输入先转写再进管线。
type Request struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
	AudioURL       string `json:"audio_url,omitempty"`
	AudioFormat    string `json:"audio_format,omitempty"`
	// TargetLang 响应语言；为空时跟随检测到的用户语言。
	TargetLang string `json:"target_lang,omitempty"`
	History    []Turn `json:"history,omitempty"`
}

// ImageRef 响应中引用的图片。
type ImageRef struct {
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
}

// Result 管线装配完成的响应。
type Result struct {
	Answer           string     `json:"answer"`
	DetectedLanguage string     `json:"detected_language"`
	TargetLanguage   string     `json:"target_language"`
	EvidenceUsed     bool       `json:"evidence_used"`
	Images           []ImageRef `json:"images,omitempty"`
	FromCache        bool       `json:"from_cache"`
}

// Transcriber 语音消息转写契约。
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL, format string) (string, error)
}
