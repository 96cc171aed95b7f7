package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"linguaweave/internal/provider"
)

// Config Gemini 兼容 API 配置。
type Config struct {
	APIKey                string `json:"api_key"`
	BaseURL               string `json:"base_url"` // 默认 https://generativelanguage.googleapis.com/v1beta
	Model                 string `json:"model"`
	ConnectTimeoutSeconds int    `json:"connect_timeout_seconds"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// Provider Gemini 兼容的生成服务适配器。
// 同一客户端同时承担 grounded 生成和单发文本任务（检测/翻译/分类）。
type Provider struct {
	config Config
	client *http.Client
}

// New 创建 Gemini 兼容 Provider。
func New(config Config) *Provider {
	if config.BaseURL == "" {
		config.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Model == "" {
		config.Model = "gemini-2.0-flash"
	}

	connectTimeout := time.Duration(config.ConnectTimeoutSeconds) * time.Second
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext

	requestTimeout := time.Duration(config.RequestTimeoutSeconds) * time.Second
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}

	return &Provider{
		config: config,
		client: &http.Client{Transport: transport, Timeout: requestTimeout},
	}
}

func (p *Provider) Name() string {
	return "gemini"
}

// -- 内部 API 请求/响应结构 --

type apiPart struct {
	Text string `json:"text"`
}

type apiContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []apiPart `json:"parts"`
}

type apiRetrieval struct {
	DataStore string `json:"data_store"`
}

type apiTool struct {
	Retrieval *apiRetrieval `json:"retrieval,omitempty"`
}

type apiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type apiRequest struct {
	SystemInstruction *apiContent          `json:"system_instruction,omitempty"`
	Contents          []apiContent         `json:"contents"`
	Tools             []apiTool            `json:"tools,omitempty"`
	GenerationConfig  *apiGenerationConfig `json:"generationConfig,omitempty"`
}

type apiGroundingChunk struct {
	RetrievedContext struct {
		URI   string `json:"uri"`
		Title string `json:"title"`
	} `json:"retrievedContext"`
}

type apiCandidate struct {
	Content           apiContent `json:"content"`
	FinishReason      string     `json:"finishReason"`
	GroundingMetadata struct {
		GroundingChunks []apiGroundingChunk `json:"groundingChunks"`
	} `json:"groundingMetadata"`
}

type apiResponse struct {
	Candidates    []apiCandidate `json:"candidates"`
	ModelVersion  string         `json:"modelVersion"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// Generate 执行一次（可选 grounded）补全。
func (p *Provider) Generate(ctx context.Context, req *provider.GenerateRequest) (*provider.GenerateResponse, error) {
	model := req.Model
	if model == "" {
		model = p.config.Model
	}

	apiReq := p.buildAPIRequest(req)
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", p.config.BaseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(apiResp.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in response")
	}

	candidate := apiResp.Candidates[0]
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		text.WriteString(part.Text)
	}

	result := &provider.GenerateResponse{
		Text:  text.String(),
		Model: apiResp.ModelVersion,
		Usage: provider.Usage{
			PromptTokens:    apiResp.UsageMetadata.PromptTokenCount,
			ResponseTokens:  apiResp.UsageMetadata.CandidatesTokenCount,
			TotalTokenCount: apiResp.UsageMetadata.TotalTokenCount,
		},
	}

	for _, chunk := range candidate.GroundingMetadata.GroundingChunks {
		result.Chunks = append(result.Chunks, provider.EvidenceChunk{
			Source: chunk.RetrievedContext.URI,
			Title:  chunk.RetrievedContext.Title,
			URI:    chunk.RetrievedContext.URI,
		})
	}

	return result, nil
}

// TextTask 单发短文本任务：不带检索工具的一次补全。
func (p *Provider) TextTask(ctx context.Context, instruction, input string) (string, error) {
	resp, err := p.Generate(ctx, &provider.GenerateRequest{
		SystemInstruction: instruction,
		Contents: []provider.Content{
			{Role: "user", Text: input},
		},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

func (p *Provider) buildAPIRequest(req *provider.GenerateRequest) apiRequest {
	contents := make([]apiContent, len(req.Contents))
	for i, c := range req.Contents {
		contents[i] = apiContent{
			Role:  c.Role,
			Parts: []apiPart{{Text: c.Text}},
		}
	}

	apiReq := apiRequest{Contents: contents}

	if req.SystemInstruction != "" {
		apiReq.SystemInstruction = &apiContent{
			Parts: []apiPart{{Text: req.SystemInstruction}},
		}
	}

	for _, tool := range req.Tools {
		if tool.DataStore != "" {
			apiReq.Tools = append(apiReq.Tools, apiTool{
				Retrieval: &apiRetrieval{DataStore: tool.DataStore},
			})
		}
	}

	genCfg := &apiGenerationConfig{}
	hasGenCfg := false
	if req.Temperature > 0 {
		t := req.Temperature
		genCfg.Temperature = &t
		hasGenCfg = true
	}
	if req.MaxOutputTokens > 0 {
		m := req.MaxOutputTokens
		genCfg.MaxOutputTokens = &m
		hasGenCfg = true
	}
	if hasGenCfg {
		apiReq.GenerationConfig = genCfg
	}

	return apiReq
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("x-goog-api-key", p.config.APIKey)
	}
}
