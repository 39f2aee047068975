package model

import "strings"

// Provider 是上游模型供应商标识。
type Provider string

const (
	ProviderGemini  Provider = "gemini"
	ProviderClaude  Provider = "claude"
	ProviderMistral Provider = "mistral"
)

// Valid 判断供应商是否受支持。
func (p Provider) Valid() bool {
	switch p {
	case ProviderGemini, ProviderClaude, ProviderMistral:
		return true
	}
	return false
}

// DisplayName 返回面向用户的供应商名称，例如 "Gemini"。
func (p Provider) DisplayName() string {
	if p == "" {
		return ""
	}
	s := string(p)
	return strings.ToUpper(s[:1]) + s[1:]
}

// ChatRequest 是客户端发往中继的请求体。
type ChatRequest struct {
	Message        string         `json:"message"`
	Model          Provider       `json:"model"`
	ResponseLength ResponseLength `json:"responseLength,omitempty"`
	Temperature    *float64       `json:"temperature,omitempty"`
	ChatMode       ChatMode       `json:"chatMode,omitempty"`
	APIKey         string         `json:"apiKey,omitempty"`
}

// EffectiveTemperature 返回请求温度，缺省为 0.7。
func (r ChatRequest) EffectiveTemperature() float64 {
	if r.Temperature == nil {
		return 0.7
	}
	return *r.Temperature
}

// ChatResponse 是单次（非流式）成功响应。
type ChatResponse struct {
	Text     string   `json:"text"`
	ChatMode ChatMode `json:"chatMode"`
}

// StreamDelta 是 SSE 流中每一帧的负载。
type StreamDelta struct {
	Text     string   `json:"text"`
	ChatMode ChatMode `json:"chatMode"`
}

// ErrorResponse 是中继的结构化错误负载。
type ErrorResponse struct {
	Error          string `json:"error"`
	Details        string `json:"details,omitempty"`
	RequiresAPIKey bool   `json:"requiresApiKey,omitempty"`
	InvalidAPIKey  bool   `json:"invalidApiKey,omitempty"`
}

// ImageRequest 是图片生成请求。
type ImageRequest struct {
	Prompt string `json:"prompt"`
}

// ImageResponse 是图片生成响应。
type ImageResponse struct {
	ImageURL string `json:"imageUrl"`
	Prompt   string `json:"prompt"`
}
