package chat

import "errors"

var (
	// ErrEmptyMessage 请求既无文本也无可转写语音
	ErrEmptyMessage = errors.New("message is empty")

	// ErrNoGenerator 未配置生成服务
	ErrNoGenerator = errors.New("no generator configured")

	// ErrTranscriptionUnavailable 收到语音但未配置转写服务
	ErrTranscriptionUnavailable = errors.New("voice transcription is not configured")
)
