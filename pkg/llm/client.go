// Package llm provides adapters for the upstream model providers.
// 每个供应商一个适配器，负责把统一的请求翻译为供应商协议，并把响应还原为纯文本或增量。
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"buddychat-go/internal/config"
	"buddychat-go/internal/model"
)

// ErrMalformedResponse 表示供应商返回成功但负载结构不符合预期。
var ErrMalformedResponse = errors.New("invalid response structure")

// Request 是发往供应商的统一请求。Prompt 已包含模式前置指令。
type Request struct {
	Prompt string
	APIKey string
	Params Params
}

// Client 是单个供应商的适配器。
type Client interface {
	Provider() model.Provider
	// Streaming 报告该供应商是否以流式方式返回。
	Streaming() bool
	// Complete 发起一次请求并返回完整文本。
	Complete(ctx context.Context, req Request) (string, error)
	// Stream 发起一次请求，每收到一段增量调用一次 onDelta。
	// onDelta 返回错误时立即停止读取并释放上游连接。
	Stream(ctx context.Context, req Request, onDelta func(string) error) error
}

// UpstreamError 表示供应商返回了非 2xx 状态。Body 为供应商原始诊断文本。
type UpstreamError struct {
	Provider   model.Provider
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s API error: %s", e.Provider.DisplayName(), StatusText(e.StatusCode))
}

// StatusText 返回不带状态码前缀的状态描述。
func StatusText(code int) string {
	if text := http.StatusText(code); text != "" {
		return text
	}
	return fmt.Sprintf("status %d", code)
}

// Registry 按供应商名称索引适配器。
type Registry map[model.Provider]Client

// NewRegistry 根据配置创建全部供应商的适配器，共享同一个带超时的 HTTP 客户端。
func NewRegistry(cfg config.LLMConfig) Registry {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	return Registry{
		model.ProviderGemini:  NewGeminiClient(cfg.Gemini, httpClient),
		model.ProviderClaude:  NewClaudeClient(cfg.Claude, httpClient),
		model.ProviderMistral: NewMistralClient(cfg.Mistral, httpClient),
	}
}

// transportError 去掉 *url.Error 中的 URL，Gemini 的凭证位于查询参数中，不能出现在错误信息里。
func transportError(provider model.Provider, err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}
	return fmt.Errorf("failed to call %s api: %w", provider.DisplayName(), err)
}
