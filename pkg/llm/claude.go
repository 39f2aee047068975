package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"buddychat-go/internal/config"
	"buddychat-go/internal/model"
	"buddychat-go/pkg/log"
	"buddychat-go/pkg/sse"
)

const anthropicVersion = "2023-06-01"

type claudeClient struct {
	cfg    config.ProviderConfig
	client *http.Client
}

// NewClaudeClient 创建 Claude 适配器。Claude 以 SSE 流式返回。
func NewClaudeClient(cfg config.ProviderConfig, client *http.Client) Client {
	return &claudeClient{cfg: cfg, client: client}
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	Messages    []claudeMessage `json:"messages"`
	Stream      bool            `json:"stream"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
}

type claudeEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
}

func (c *claudeClient) Provider() model.Provider { return model.ProviderClaude }

func (c *claudeClient) Streaming() bool { return true }

func (c *claudeClient) Complete(ctx context.Context, req Request) (string, error) {
	var sb strings.Builder
	err := c.Stream(ctx, req, func(delta string) error {
		sb.WriteString(delta)
		return nil
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (c *claudeClient) Stream(ctx context.Context, req Request, onDelta func(string) error) error {
	body := claudeRequest{
		Model:       c.cfg.Model,
		Messages:    []claudeMessage{{Role: "user", Content: req.Prompt}},
		Stream:      true,
		MaxTokens:   req.Params.MaxTokens,
		Temperature: req.Params.Temperature,
	}
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal claude request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to create claude request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("x-api-key", req.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return transportError(model.ProviderClaude, err)
	}
	// 正常结束与提前终止都会走到这里
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return &UpstreamError{Provider: model.ProviderClaude, StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	reader := sse.NewReader(resp.Body)
	for {
		ev, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if ev.IsDone() {
			continue
		}

		var chunk claudeEvent
		if err := json.Unmarshal(ev.Data, &chunk); err != nil {
			log.Warnf("解析 Claude SSE 数据失败: %v", err)
			continue
		}
		if chunk.Type != "content_block_delta" || chunk.Delta.Text == "" {
			continue
		}
		if err := onDelta(chunk.Delta.Text); err != nil {
			return err
		}
	}
}
