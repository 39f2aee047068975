// Package relay 是编排器访问中继接口的 HTTP 客户端。
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"buddychat-go/internal/model"
	"buddychat-go/pkg/sse"
)

const (
	chatPath  = "/api/chat"
	imagePath = "/api/generate-image"
)

// Kind 区分中继错误的三种呈现方式。
type Kind int

const (
	KindFailure Kind = iota
	KindMissingCredential
	KindInvalidCredential
)

// Error 是中继返回的结构化错误。
type Error struct {
	Status         int
	Message        string
	Details        string
	RequiresAPIKey bool
	InvalidAPIKey  bool
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("relay error: status %d", e.Status)
	}
	return e.Message
}

// Kind 返回错误类别，缺少凭证优先于凭证无效。
func (e *Error) Kind() Kind {
	switch {
	case e.RequiresAPIKey:
		return KindMissingCredential
	case e.InvalidAPIKey:
		return KindInvalidCredential
	default:
		return KindFailure
	}
}

// Result 是一次成功调用的结果。
type Result struct {
	Text     string
	ChatMode model.ChatMode
	Streamed bool
}

// Client 通过 HTTP 调用中继。
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient 创建中继客户端。timeout 为 0 时不设置整体超时，由 ctx 控制。
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Chat 发送一次对话请求。流式响应每收到一帧调用一次 onDelta，
// 单次响应不调用 onDelta，完整文本在 Result.Text 中返回。
// onDelta 返回错误时停止读取并关闭连接。
func (c *Client) Chat(ctx context.Context, req model.ChatRequest, onDelta func(delta string) error) (Result, error) {
	resp, err := c.post(ctx, chatPath, req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, decodeError(resp)
	}

	if isEventStream(resp.Header.Get("Content-Type")) {
		return readStream(ctx, resp.Body, req.ChatMode, onDelta)
	}

	var out model.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, &Error{Status: http.StatusBadGateway, Message: "Invalid response from relay"}
	}
	return Result{Text: out.Text, ChatMode: out.ChatMode}, nil
}

// GenerateImage 请求图片生成并返回图片地址。
func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	resp, err := c.post(ctx, imagePath, model.ImageRequest{Prompt: prompt})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", decodeError(resp)
	}
	var out model.ImageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.ImageURL == "" {
		return "", &Error{Status: http.StatusBadGateway, Message: "Invalid response from relay"}
	}
	return out.ImageURL, nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal relay request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create relay request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Status: http.StatusBadGateway, Message: "Failed to reach relay", Details: err.Error()}
	}
	return resp, nil
}

// readStream 逐帧读取中继的 SSE 响应。每帧之前检查 ctx，已缓冲但未处理的帧在取消后不再交付。
func readStream(ctx context.Context, body io.Reader, mode model.ChatMode, onDelta func(string) error) (Result, error) {
	res := Result{ChatMode: mode, Streamed: true}
	var sb strings.Builder
	reader := sse.NewReader(body)
	for {
		if err := ctx.Err(); err != nil {
			res.Text = sb.String()
			return res, err
		}
		ev, err := reader.Next()
		if err == io.EOF {
			res.Text = sb.String()
			return res, nil
		}
		if err != nil {
			res.Text = sb.String()
			return res, err
		}
		if ev.IsDone() {
			continue
		}
		var delta model.StreamDelta
		if err := json.Unmarshal(ev.Data, &delta); err != nil {
			continue
		}
		if delta.ChatMode != "" {
			res.ChatMode = delta.ChatMode
		}
		sb.WriteString(delta.Text)
		if onDelta != nil {
			if err := onDelta(delta.Text); err != nil {
				res.Text = sb.String()
				return res, err
			}
		}
	}
}

func decodeError(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(resp.Body)
	var payload model.ErrorResponse
	if err := json.Unmarshal(bodyBytes, &payload); err != nil || payload.Error == "" {
		return &Error{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode), Details: string(bodyBytes)}
	}
	return &Error{
		Status:         resp.StatusCode,
		Message:        payload.Error,
		Details:        payload.Details,
		RequiresAPIKey: payload.RequiresAPIKey,
		InvalidAPIKey:  payload.InvalidAPIKey,
	}
}

func isEventStream(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "text/event-stream"
}

// Payload 返回写给客户端的错误负载。
func (e *Error) Payload() model.ErrorResponse {
	return model.ErrorResponse{
		Error:          e.Message,
		Details:        e.Details,
		RequiresAPIKey: e.RequiresAPIKey,
		InvalidAPIKey:  e.InvalidAPIKey,
	}
}
