package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"buddychat-go/internal/config"
	"buddychat-go/internal/model"
	"buddychat-go/internal/repository"
	"buddychat-go/internal/service"
	"buddychat-go/pkg/llm"
	"buddychat-go/pkg/relay"
	"buddychat-go/pkg/token"
)

const (
	serverMistralKey = "server-mistral-key"
	serverClaudeKey  = "server-claude-key"
)

// stubLLM 是可编排的供应商适配器。gate 非 nil 时，请求在 gate 关闭前不会返回。
type stubLLM struct {
	provider  model.Provider
	streaming bool
	text      string
	chunks    []string
	err       error
	gate      chan struct{}

	mu   sync.Mutex
	reqs []llm.Request
}

func (s *stubLLM) Provider() model.Provider { return s.provider }
func (s *stubLLM) Streaming() bool          { return s.streaming }

func (s *stubLLM) record(ctx context.Context, req llm.Request) error {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *stubLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	if err := s.record(ctx, req); err != nil {
		return "", err
	}
	return s.text, s.err
}

func (s *stubLLM) Stream(ctx context.Context, req llm.Request, onDelta func(string) error) error {
	if err := s.record(ctx, req); err != nil {
		return err
	}
	for _, c := range s.chunks {
		if err := onDelta(c); err != nil {
			return err
		}
	}
	return s.err
}

func (s *stubLLM) requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Request(nil), s.reqs...)
}

type memoryObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryObjectStore) Put(_ context.Context, objectName string, r io.Reader, _ int64, _ string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectName] = data
	return "http://files.local/uploads/" + objectName, nil
}

// testServer 是挂载了全部路由的 HTTP 服务，编排器通过回环地址调用同一服务上的中继接口。
type testServer struct {
	t        *testing.T
	srv      *httptest.Server
	sessions service.SessionService
	llms     map[model.Provider]*stubLLM
	objects  *memoryObjectStore
}

type serverOption func(*Dependencies)

// withoutUploads 模拟未配置对象存储。
func withoutUploads() serverOption {
	return func(d *Dependencies) {
		d.Uploads = service.NewUploadService(nil)
	}
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	llms := map[model.Provider]*stubLLM{
		model.ProviderGemini:  {provider: model.ProviderGemini, text: "gemini says hi"},
		model.ProviderClaude:  {provider: model.ProviderClaude, streaming: true, chunks: []string{"Hello", " world"}},
		model.ProviderMistral: {provider: model.ProviderMistral, text: "Hi there"},
	}
	objects := &memoryObjectStore{objects: map[string][]byte{}}

	registry := llm.Registry{}
	for p, c := range llms {
		registry[p] = c
	}
	// Gemini 没有服务端默认凭证
	llmCfg := config.LLMConfig{
		Claude:  config.ProviderConfig{APIKey: serverClaudeKey},
		Mistral: config.ProviderConfig{APIKey: serverMistralKey},
	}

	r := gin.New()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	sessions := service.NewSessionService(
		repository.NewMemoryKVRepository(),
		service.SessionConfig{Namespace: "buddychat", Debounce: 10 * time.Millisecond},
		relay.NewClient(srv.URL, 5*time.Second),
		token.NewJWTManager("test-secret", 1),
	)
	t.Cleanup(sessions.Close)

	deps := Dependencies{
		Sessions:  sessions,
		Relay:     service.NewRelayService(registry, llmCfg),
		Images:    service.NewImageService(),
		Uploads:   service.NewUploadService(objects),
		Profile:   service.NewProfileService(),
		Feedback:  service.NewFeedbackService(nil),
		RateRPS:   1000,
		RateBurst: 1000,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	RegisterRoutes(r, deps)

	return &testServer{t: t, srv: srv, sessions: sessions, llms: llms, objects: objects}
}

// do 发送请求。body 为 []byte 时原样发送，否则编码为 JSON。
func (ts *testServer) do(method, path, tok string, body interface{}) *http.Response {
	ts.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(ts.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	require.NoError(ts.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := ts.srv.Client().Do(req)
	require.NoError(ts.t, err)
	ts.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) createSession() string {
	ts.t.Helper()
	resp := ts.do(http.MethodPost, "/api/v1/sessions", "", nil)
	require.Equal(ts.t, http.StatusOK, resp.StatusCode)
	var data struct {
		SessionID string `json:"sessionId"`
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expiresAt"`
	}
	decodeData(ts.t, resp, &data)
	require.NotEmpty(ts.t, data.SessionID)
	require.NotEmpty(ts.t, data.Token)
	return data.Token
}

func (ts *testServer) session(tok string) *service.Session {
	ts.t.Helper()
	sess, err := ts.sessions.Authenticate(context.Background(), tok)
	require.NoError(ts.t, err)
	return sess
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return data
}

func decodeJSON(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(readBody(t, resp), out))
}

func decodeData(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	var env envelope
	decodeJSON(t, resp, &env)
	require.Equal(t, http.StatusOK, env.Code)
	require.Equal(t, "success", env.Message)
	if out != nil {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
}

func decodeFeed(t *testing.T, resp *http.Response) feedPayload {
	t.Helper()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var feed feedPayload
	decodeData(t, resp, &feed)
	return feed
}
