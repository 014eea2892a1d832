package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notexe/remindme/internal/config"
)

func TestOllamaSendMessageJSONMode(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message:         ollamaMessage{Role: "assistant", Content: `{"type":"not_reminder"}`},
			Done:            true,
			DoneReason:      "stop",
			PromptEvalCount: 12,
			EvalCount:       5,
		})
	}))
	defer srv.Close()

	p, err := NewOllamaProvider(config.OllamaConfig{BaseURL: srv.URL, Timeout: 5})
	require.NoError(t, err)

	resp, err := p.SendMessage(t.Context(), MessageRequest{
		System:   "classify",
		Messages: []Message{{Role: "user", Content: "hello"}},
		Model:    "llama3.1",
		JSONMode: true,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"type":"not_reminder"}`, resp.Content)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, "json", got.Format)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
}

func TestOllamaSendMessageError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p, err := NewOllamaProvider(config.OllamaConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.SendMessage(t.Context(), MessageRequest{Model: "missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestDeepSeekJSONModeUsesResponseFormat(t *testing.T) {
	var got deepseekChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"1","choices":[{"finish_reason":"stop","index":0,"message":{"role":"assistant","content":"{\"type\":\"reminder\"}"}}],"usage":{"prompt_tokens":3,"completion_tokens":4}}`))
	}))
	defer srv.Close()

	p, err := NewDeepSeekProvider(config.DeepSeekConfig{APIKey: "test-key", BaseURL: srv.URL, Timeout: 5})
	require.NoError(t, err)

	resp, err := p.SendMessage(t.Context(), MessageRequest{
		Messages:    []Message{{Role: "user", Content: "remind me"}},
		Model:       "deepseek-chat",
		Temperature: 0.1,
		JSONMode:    true,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"type":"reminder"}`, resp.Content)
	assert.Equal(t, 4, resp.Usage.OutputTokens)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
}

func TestDeepSeekJSONModeSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key","type":"auth"}}`))
	}))
	defer srv.Close()

	p, err := NewDeepSeekProvider(config.DeepSeekConfig{APIKey: "bad", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.SendMessage(t.Context(), MessageRequest{JSONMode: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(&config.ProviderConfig{Type: config.ProviderOllama})
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())

	_, err = NewProvider(&config.ProviderConfig{Type: config.ProviderDeepSeek})
	assert.Error(t, err, "missing API key")

	_, err = NewProvider(&config.ProviderConfig{Type: "openai"})
	assert.ErrorContains(t, err, "unknown provider type")
}
