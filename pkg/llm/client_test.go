package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buddychat-go/internal/config"
	"buddychat-go/internal/model"
)

func testHTTPClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Second}
}

func TestParamsForOverlay(t *testing.T) {
	p := ParamsFor(model.ProviderGemini, model.ModeCoding, model.LengthMedium, 0.5)
	assert.Equal(t, 1000, p.MaxTokens)
	assert.Equal(t, 0.5, p.Temperature)
	require.NotNil(t, p.TopP)
	require.NotNil(t, p.TopK)
	assert.Equal(t, 0.95, *p.TopP)
	assert.Equal(t, 40, *p.TopK)

	p = ParamsFor(model.ProviderMistral, model.ModeCreative, model.LengthShort, 0.9)
	assert.Equal(t, 300, p.MaxTokens)
	require.NotNil(t, p.TopP)
	assert.Equal(t, 0.98, *p.TopP)
	assert.Nil(t, p.TopK)

	p = ParamsFor(model.ProviderClaude, model.ModeCoding, model.LengthLong, 0.5)
	assert.Equal(t, 2000, p.MaxTokens)
	assert.Nil(t, p.TopP)
	assert.Nil(t, p.TopK)

	p = ParamsFor(model.ProviderGemini, model.ModeStandard, "", 0.7)
	assert.Equal(t, 1000, p.MaxTokens)
	assert.Nil(t, p.TopP)
	assert.Nil(t, p.TopK)
}

func TestGeminiCompleteSendsSamplingParams(t *testing.T) {
	var (
		gotBody map[string]interface{}
		gotKey  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"func main() {}"}]}}]}`)
	}))
	defer srv.Close()

	c := NewGeminiClient(config.ProviderConfig{BaseURL: srv.URL}, testHTTPClient())
	text, err := c.Complete(context.Background(), Request{
		Prompt: "write go",
		APIKey: "gm-key",
		Params: ParamsFor(model.ProviderGemini, model.ModeCoding, model.LengthMedium, 0.5),
	})
	require.NoError(t, err)
	assert.Equal(t, "func main() {}", text)
	assert.Equal(t, "gm-key", gotKey)

	gen := gotBody["generationConfig"].(map[string]interface{})
	assert.Equal(t, 0.95, gen["topP"])
	assert.Equal(t, float64(40), gen["topK"])
	assert.Equal(t, 0.5, gen["temperature"])
	assert.Equal(t, float64(1000), gen["maxOutputTokens"])
}

func TestGeminiStandardOmitsOverlay(t *testing.T) {
	var raw []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`)
	}))
	defer srv.Close()

	c := NewGeminiClient(config.ProviderConfig{BaseURL: srv.URL}, testHTTPClient())
	_, err := c.Complete(context.Background(), Request{
		Prompt: "hi",
		APIKey: "k",
		Params: ParamsFor(model.ProviderGemini, model.ModeStandard, model.LengthMedium, 0.7),
	})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "topP")
	assert.NotContains(t, string(raw), "topK")
}

func TestGeminiMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[]}`)
	}))
	defer srv.Close()

	c := NewGeminiClient(config.ProviderConfig{BaseURL: srv.URL}, testHTTPClient())
	_, err := c.Complete(context.Background(), Request{Prompt: "hi", APIKey: "k"})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestGeminiUpstreamErrorKeepsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"API key not valid"}}`)
	}))
	defer srv.Close()

	c := NewGeminiClient(config.ProviderConfig{BaseURL: srv.URL}, testHTTPClient())
	_, err := c.Complete(context.Background(), Request{Prompt: "hi", APIKey: "secret-key-value"})

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusBadRequest, upstream.StatusCode)
	assert.Contains(t, upstream.Body, "API key not valid")
	assert.Equal(t, "Gemini API error: Bad Request", upstream.Error())
}

func TestGeminiTransportErrorHidesKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewGeminiClient(config.ProviderConfig{BaseURL: url}, testHTTPClient())
	_, err := c.Complete(context.Background(), Request{Prompt: "hi", APIKey: "secret-key-value"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-key-value")
}

func TestClaudeStreamsDeltas(t *testing.T) {
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\"}\n\n")
		for _, chunk := range []string{"Hel", "lo ", "world"} {
			fmt.Fprintf(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":%q}}\n\n", chunk)
			w.(http.Flusher).Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClaudeClient(config.ProviderConfig{BaseURL: srv.URL, Model: "claude-3-sonnet-20240229"}, testHTTPClient())
	assert.True(t, c.Streaming())

	var deltas []string
	err := c.Stream(context.Background(), Request{Prompt: "hi", APIKey: "ck"}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo ", "world"}, deltas)
	assert.Equal(t, "ck", gotHeaders.Get("x-api-key"))
	assert.Equal(t, anthropicVersion, gotHeaders.Get("anthropic-version"))
}

func TestClaudeStopsWhenCallbackFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, chunk := range []string{"a", "b", "c"} {
			fmt.Fprintf(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"text\":%q}}\n\n", chunk)
		}
	}))
	defer srv.Close()

	stop := errors.New("stop")
	c := NewClaudeClient(config.ProviderConfig{BaseURL: srv.URL}, testHTTPClient())
	var n int
	err := c.Stream(context.Background(), Request{Prompt: "hi", APIKey: "ck"}, func(string) error {
		n++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, n)
}

func TestClaudeUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"type":"error","error":{"type":"authentication_error"}}`)
	}))
	defer srv.Close()

	c := NewClaudeClient(config.ProviderConfig{BaseURL: srv.URL}, testHTTPClient())
	_, err := c.Complete(context.Background(), Request{Prompt: "hi", APIKey: "bad"})
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusUnauthorized, upstream.StatusCode)
	assert.Contains(t, upstream.Body, "authentication_error")
}

func TestMistralComplete(t *testing.T) {
	var gotBody map[string]interface{}
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Hi there"}}]}`)
	}))
	defer srv.Close()

	c := NewMistralClient(config.ProviderConfig{BaseURL: srv.URL, Model: "mistral-tiny"}, testHTTPClient())
	text, err := c.Complete(context.Background(), Request{
		Prompt: "Hello",
		APIKey: "mk",
		Params: ParamsFor(model.ProviderMistral, model.ModePrecise, model.LengthMedium, 0.3),
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", text)
	assert.Equal(t, "Bearer mk", gotAuth)
	assert.Equal(t, "mistral-tiny", gotBody["model"])
	assert.InDelta(t, 0.75, gotBody["top_p"], 1e-6)
	assert.InDelta(t, 0.3, gotBody["temperature"], 1e-6)
	assert.Equal(t, float64(1000), gotBody["max_tokens"])
}

func TestMistralEmptyChoicesIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	c := NewMistralClient(config.ProviderConfig{BaseURL: srv.URL, Model: "mistral-tiny"}, testHTTPClient())
	_, err := c.Complete(context.Background(), Request{Prompt: "Hello", APIKey: "mk"})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestMistralUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, "Unauthorized")
	}))
	defer srv.Close()

	c := NewMistralClient(config.ProviderConfig{BaseURL: srv.URL, Model: "mistral-tiny"}, testHTTPClient())
	_, err := c.Complete(context.Background(), Request{Prompt: "Hello", APIKey: "bad"})
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusUnauthorized, upstream.StatusCode)
	assert.Equal(t, "Unauthorized", upstream.Body)
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry(config.LLMConfig{TimeoutSeconds: 1})
	require.Len(t, reg, 3)
	assert.True(t, reg[model.ProviderClaude].Streaming())
	assert.False(t, reg[model.ProviderGemini].Streaming())
	assert.False(t, reg[model.ProviderMistral].Streaming())
}
