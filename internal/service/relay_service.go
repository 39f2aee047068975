package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"buddychat-go/internal/config"
	"buddychat-go/internal/model"
	"buddychat-go/pkg/llm"
	"buddychat-go/pkg/log"
	"buddychat-go/pkg/metrics"
	"buddychat-go/pkg/relay"
)

// RelayService 把归一化的对话请求转发给上游供应商。
type RelayService interface {
	// Relay 单次返回的供应商返回 ChatResponse 且不调用 emit；
	// 流式供应商每收到一段增量调用一次 emit，返回 nil 响应。
	// 所有失败都以 *relay.Error 返回。
	Relay(ctx context.Context, req model.ChatRequest, emit func(model.StreamDelta) error) (*model.ChatResponse, error)
	// Streaming 报告供应商是否以流式返回。
	Streaming(provider model.Provider) bool
}

type relayService struct {
	clients     llm.Registry
	defaultKeys map[model.Provider]string
}

// NewRelayService 创建一个新的 RelayService 实例。
func NewRelayService(clients llm.Registry, cfg config.LLMConfig) RelayService {
	return &relayService{
		clients: clients,
		defaultKeys: map[model.Provider]string{
			model.ProviderGemini:  cfg.Gemini.APIKey,
			model.ProviderClaude:  cfg.Claude.APIKey,
			model.ProviderMistral: cfg.Mistral.APIKey,
		},
	}
}

func (s *relayService) Streaming(provider model.Provider) bool {
	c, ok := s.clients[provider]
	return ok && c.Streaming()
}

func (s *relayService) Relay(ctx context.Context, req model.ChatRequest, emit func(model.StreamDelta) error) (*model.ChatResponse, error) {
	client, ok := s.clients[req.Model]
	if !ok {
		return nil, &relay.Error{Status: http.StatusBadRequest, Message: "Invalid model specified"}
	}
	provider := client.Provider()

	apiKey := strings.TrimSpace(req.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(s.defaultKeys[provider])
	}
	if apiKey == "" {
		metrics.RelayRequests.WithLabelValues(string(provider), "missing_key").Inc()
		return nil, &relay.Error{
			Status:         http.StatusBadRequest,
			Message:        fmt.Sprintf("Missing API key for %s", provider.DisplayName()),
			RequiresAPIKey: true,
		}
	}

	mode := req.ChatMode.Normalize()
	length := req.ResponseLength
	if length == "" {
		length = model.LengthMedium
	}
	llmReq := llm.Request{
		Prompt: req.Message,
		APIKey: apiKey,
		Params: llm.ParamsFor(provider, mode, length, req.EffectiveTemperature()),
	}

	start := time.Now()
	defer func() {
		metrics.RelayDuration.WithLabelValues(string(provider)).Observe(time.Since(start).Seconds())
	}()
	log.Infow("转发对话请求", "provider", provider, "chatMode", mode, "maxTokens", llmReq.Params.MaxTokens, "streaming", client.Streaming())

	if client.Streaming() {
		err := client.Stream(ctx, llmReq, func(delta string) error {
			return emit(model.StreamDelta{Text: delta, ChatMode: mode})
		})
		if err != nil {
			return nil, s.fail(ctx, provider, err)
		}
		metrics.RelayRequests.WithLabelValues(string(provider), "ok").Inc()
		return nil, nil
	}

	text, err := client.Complete(ctx, llmReq)
	if err != nil {
		return nil, s.fail(ctx, provider, err)
	}
	metrics.RelayRequests.WithLabelValues(string(provider), "ok").Inc()
	return &model.ChatResponse{Text: text, ChatMode: mode}, nil
}

// fail 将适配器错误映射为结构化的中继错误。
func (s *relayService) fail(ctx context.Context, provider model.Provider, err error) *relay.Error {
	var rerr *relay.Error
	if errors.As(err, &rerr) {
		return rerr
	}

	name := provider.DisplayName()
	var upstream *llm.UpstreamError
	switch {
	case errors.As(err, &upstream):
		invalid := upstream.StatusCode == http.StatusBadRequest || upstream.StatusCode == http.StatusUnauthorized
		outcome := "error"
		if invalid {
			outcome = "invalid_key"
		}
		metrics.RelayRequests.WithLabelValues(string(provider), outcome).Inc()
		log.Errorf("%s API Error: status=%d, body=%s", name, upstream.StatusCode, upstream.Body)
		return &relay.Error{
			Status:        upstream.StatusCode,
			Message:       upstream.Error(),
			Details:       upstream.Body,
			InvalidAPIKey: invalid,
		}
	case errors.Is(err, llm.ErrMalformedResponse):
		metrics.RelayRequests.WithLabelValues(string(provider), "error").Inc()
		log.Errorf("%s 返回结构异常", name)
		return &relay.Error{Status: http.StatusInternalServerError, Message: fmt.Sprintf("Invalid response structure from %s", name)}
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded || isTimeout(err):
		metrics.RelayRequests.WithLabelValues(string(provider), "error").Inc()
		log.Errorf("%s 请求超时: %v", name, err)
		return &relay.Error{Status: http.StatusGatewayTimeout, Message: fmt.Sprintf("%s API request timed out", name)}
	case errors.Is(err, context.Canceled):
		metrics.RelayRequests.WithLabelValues(string(provider), "cancelled").Inc()
		log.Infof("%s 请求已被客户端取消", name)
		return &relay.Error{Status: http.StatusInternalServerError, Message: "Request cancelled"}
	default:
		metrics.RelayRequests.WithLabelValues(string(provider), "error").Inc()
		log.Errorf("%s 请求失败: %v", name, err)
		return &relay.Error{Status: http.StatusInternalServerError, Message: fmt.Sprintf("Failed to reach %s API", name)}
	}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
