package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProviderGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req["model"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"model": "gpt-4o-mini",
			"choices": [{"message": {"role": "assistant", "content": "{\"intent\":\"Payment\"}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 6, "total_tokens": 18}
		}`))
	}))
	defer server.Close()

	provider := NewOpenAIProviderWithBaseURL("test-key", server.URL)
	resp, err := provider.Generate(context.Background(), &Request{
		Model:    "gpt-4o-mini",
		Messages: []Message{{Role: "user", Content: "classify this"}},
		JSONMode: true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"intent":"Payment"}`, resp.Content)
	assert.Equal(t, 12, resp.InputTokens)
	assert.Equal(t, 6, resp.OutputTokens)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestOpenAIProviderNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "chatcmpl-1", "choices": [], "usage": {}}`))
	}))
	defer server.Close()

	provider := NewOpenAIProviderWithBaseURL("test-key", server.URL)
	_, err := provider.Generate(context.Background(), &Request{
		Model:    "gpt-4o-mini",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	assert.Error(t, err)
}

func TestOllamaProviderGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3", req.Model)
		assert.False(t, req.Stream)
		assert.Equal(t, "json", req.Format)

		_, _ = w.Write([]byte(`{"message": {"role": "assistant", "content": "{\"ok\":true}"}}`))
	}))
	defer server.Close()

	provider := NewOllamaProvider(server.URL)
	resp, err := provider.Generate(context.Background(), &Request{
		Model:    "llama3",
		Messages: []Message{{Role: "user", Content: "hello"}},
		JSONMode: true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.Content)
}

func TestOllamaProviderErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := NewOllamaProvider(server.URL).Generate(context.Background(), &Request{
		Model:    "llama3",
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	assert.Error(t, err)
}

func TestOllamaProviderDefaultBaseURL(t *testing.T) {
	provider := NewOllamaProvider("")
	assert.Equal(t, "http://localhost:11434", provider.baseURL)
}
