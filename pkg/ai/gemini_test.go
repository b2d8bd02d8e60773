package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiGenerateStructured(t *testing.T) {
	var gotPath, gotKey string
	var gotBody geminiRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{
				"content": {"role": "model", "parts": [{"text": "{\"days\":[]}"}]},
				"finishReason": "STOP"
			}]
		}`))
	}))
	defer server.Close()

	client := NewGemini(ProviderOptions{
		APIKey:  "g-key",
		BaseURL: server.URL,
		Model:   "gemini-test",
	})

	out, err := client.GenerateStructured(context.Background(), StructuredRequest{
		System: "You plan trips.",
		Prompt: "Plan 2 days in Rome",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"days":[]}`, out)

	assert.Equal(t, "/models/gemini-test:generateContent", gotPath)
	assert.Equal(t, "g-key", gotKey)
	require.Len(t, gotBody.Contents, 1)
	assert.Equal(t, "user", gotBody.Contents[0].Role)
	assert.Equal(t, "Plan 2 days in Rome", gotBody.Contents[0].Parts[0].Text)
	require.NotNil(t, gotBody.SystemInstruction)
	assert.Equal(t, "You plan trips.", gotBody.SystemInstruction.Parts[0].Text)
	require.NotNil(t, gotBody.GenerationConfig)
	assert.Equal(t, "application/json", gotBody.GenerationConfig.ResponseMimeType)
}

func TestGeminiErrors(t *testing.T) {
	t.Run("missing API key", func(t *testing.T) {
		client := NewGemini(ProviderOptions{})
		_, err := client.GenerateStructured(context.Background(), StructuredRequest{Prompt: "hi"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "API key")
	})

	t.Run("error payload", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"error": {"code": 403, "message": "key expired", "status": "PERMISSION_DENIED"}}`))
		}))
		defer server.Close()

		client := NewGemini(ProviderOptions{APIKey: "k", BaseURL: server.URL})
		_, err := client.GenerateStructured(context.Background(), StructuredRequest{Prompt: "hi"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "PERMISSION_DENIED")
		assert.Contains(t, err.Error(), "key expired")
	})

	t.Run("no candidates", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"candidates": []}`))
		}))
		defer server.Close()

		client := NewGemini(ProviderOptions{APIKey: "k", BaseURL: server.URL})
		_, err := client.GenerateStructured(context.Background(), StructuredRequest{Prompt: "hi"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no candidates")
	})
}

func TestGeminiDefaults(t *testing.T) {
	client := NewGemini(ProviderOptions{APIKey: "k"})
	assert.Equal(t, DefaultGeminiBaseURL, client.baseURL)
	assert.Equal(t, defaultGeminiModel, client.model)
	assert.Equal(t, "gemini", client.Name())
}
