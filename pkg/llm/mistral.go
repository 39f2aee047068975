package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/sashabaranov/go-openai"

	"buddychat-go/internal/config"
	"buddychat-go/internal/model"
)

type mistralClient struct {
	cfg    config.ProviderConfig
	client *http.Client
}

// NewMistralClient 创建 Mistral 适配器。Mistral 兼容 OpenAI 的 chat/completions 协议。
func NewMistralClient(cfg config.ProviderConfig, client *http.Client) Client {
	return &mistralClient{cfg: cfg, client: client}
}

func (c *mistralClient) Provider() model.Provider { return model.ProviderMistral }

func (c *mistralClient) Streaming() bool { return false }

// statusCapture 记录上游的非 2xx 响应，go-openai 对非 JSON 错误体不保留状态码。
type statusCapture struct {
	base http.RoundTripper

	mu     sync.Mutex
	status int
	body   string
}

func (t *statusCapture) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || (resp.StatusCode >= 200 && resp.StatusCode <= 299) {
		return resp, err
	}
	bodyBytes, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	t.mu.Lock()
	t.status = resp.StatusCode
	t.body = string(bodyBytes)
	t.mu.Unlock()
	return resp, nil
}

func (t *statusCapture) upstreamError() *UpstreamError {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == 0 {
		return nil
	}
	return &UpstreamError{Provider: model.ProviderMistral, StatusCode: t.status, Body: t.body}
}

// newAPIClient 每次请求按凭证构造客户端，凭证可能来自用户。
func (c *mistralClient) newAPIClient(apiKey string) (*openai.Client, *statusCapture) {
	base := c.client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	capture := &statusCapture{base: base}

	clientCfg := openai.DefaultConfig(apiKey)
	clientCfg.BaseURL = c.cfg.BaseURL
	clientCfg.HTTPClient = &http.Client{Timeout: c.client.Timeout, Transport: capture}
	return openai.NewClientWithConfig(clientCfg), capture
}

func (c *mistralClient) Complete(ctx context.Context, req Request) (string, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxTokens:   req.Params.MaxTokens,
		Temperature: float32(req.Params.Temperature),
	}
	if req.Params.TopP != nil {
		chatReq.TopP = float32(*req.Params.TopP)
	}

	apiClient, capture := c.newAPIClient(req.APIKey)
	resp, err := apiClient.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		if upstream := capture.upstreamError(); upstream != nil {
			return "", upstream
		}
		return "", c.mapError(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w from Mistral", ErrMalformedResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *mistralClient) Stream(ctx context.Context, req Request, onDelta func(string) error) error {
	text, err := c.Complete(ctx, req)
	if err != nil {
		return err
	}
	return onDelta(text)
}

// mapError 将 go-openai 的其余错误还原为 UpstreamError 或传输错误。
func (c *mistralClient) mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &UpstreamError{Provider: model.ProviderMistral, StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		detail := ""
		if reqErr.Err != nil {
			detail = reqErr.Err.Error()
		}
		return &UpstreamError{Provider: model.ProviderMistral, StatusCode: reqErr.HTTPStatusCode, Body: detail}
	}
	return transportError(model.ProviderMistral, err)
}
