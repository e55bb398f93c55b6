package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"lmdesk/pkg/models"
)

func TestGeminiStream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-1.5-pro:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		assert.Equal(t, "sk-gem", r.Header.Get("x-goog-api-key"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, "be terse", gjson.GetBytes(body, "systemInstruction.parts.0.text").String())
		// Assistant turns are renamed to Gemini's "model" role.
		assert.Equal(t, "model", gjson.GetBytes(body, "contents.1.role").String())

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"candidates":[{"content":{"role":"model","parts":[{"text":"Hel"}]}}]}

data: {"candidates":[{"content":{"role":"model","parts":[{"text":"lo"}]},"finishReason":"STOP"}]}

`)
	}))
	defer upstream.Close()

	adapter := NewGeminiAdapter(upstream.URL)
	events := adapter.Stream(context.Background(), Request{
		Model: "gemini-1.5-pro",
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: "be terse"},
			{Role: models.RoleUser, Content: "hi"},
			{Role: models.RoleAssistant, Content: "hello"},
			{Role: models.RoleUser, Content: "again"},
		},
		Temperature: 0.7,
		MaxTokens:   1000,
	}, "sk-gem")

	got := collect(t, events)
	require.Len(t, got, 3)
	for _, ev := range got {
		require.NoError(t, ev.Err)
	}

	assert.Equal(t, "Hel", got[0].Chunk.Choices[0].Delta.Content)
	assert.Equal(t, "lo", got[1].Chunk.Choices[0].Delta.Content)
	require.NotNil(t, got[2].Chunk.Choices[0].FinishReason)
	assert.Equal(t, "stop", *got[2].Chunk.Choices[0].FinishReason)
}

func TestGeminiStreamUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":400,"message":"API key not valid"}}`, http.StatusBadRequest)
	}))
	defer upstream.Close()

	adapter := NewGeminiAdapter(upstream.URL)
	events := adapter.Stream(context.Background(), Request{
		Model:    "gemini-1.5-pro",
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	}, "bad-key")

	got := collect(t, events)
	require.Len(t, got, 1)
	require.Error(t, got[0].Err)
	assert.Contains(t, got[0].Err.Error(), "status 400")
}
