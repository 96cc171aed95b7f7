// Package provider 定义外部语言模型服务的调用契约。
package provider

import "context"

// Content 对话内容（按轮次）。
type Content struct {
	Role string `json:"role"` // user | model
	Text string `json:"text"`
}

// Tool 请求在指定文档库上做 grounded retrieval。
type Tool struct {
	DataStore string `json:"data_store"`
}

// GenerateRequest 检索增强生成请求。
type GenerateRequest struct {
	Model             string    `json:"model"`
	SystemInstruction string    `json:"system_instruction,omitempty"`
	Contents          []Content `json:"contents"`
	Tools             []Tool    `json:"tools,omitempty"`
	Temperature       float64   `json:"temperature,omitempty"`
	MaxOutputTokens   int       `json:"max_output_tokens,omitempty"`
}

// EvidenceChunk 生成服务返回的证据块引用。
// 对缓存与编排层均为不透明值，只有"有没有"被检查。
type EvidenceChunk struct {
	Source string `json:"source,omitempty"`
	Title  string `json:"title,omitempty"`
	URI    string `json:"uri,omitempty"`
}

// Usage Token 使用统计。
type Usage struct {
	PromptTokens    int `json:"prompt_tokens"`
	ResponseTokens  int `json:"response_tokens"`
	TotalTokenCount int `json:"total_token_count"`
}

// GenerateResponse 生成响应。
type GenerateResponse struct {
	Text   string          `json:"text"`
	Chunks []EvidenceChunk `json:"chunks,omitempty"`
	Model  string          `json:"model,omitempty"`
	Usage  Usage           `json:"usage"`
}

// Generator 生成服务供应商接口。
type Generator interface {
	// Name 返回供应商名称
	Name() string

	// Generate 执行一次（可选 grounded）补全
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// TextTasker 单发短文本任务：语言检测、翻译、意图/类目分类、关键词抽取。
// 输入输出均为短文本，由调用方给出任务指令。
type TextTasker interface {
	TextTask(ctx context.Context, instruction, input string) (string, error)
}
