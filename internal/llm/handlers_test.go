package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"lmdesk/internal/provider"
	"lmdesk/internal/store"
	"lmdesk/internal/vault"
	"lmdesk/pkg/models"
)

type stubAdapter struct {
	gotReq provider.Request
	gotKey string
	events []provider.StreamEvent
}

func (s *stubAdapter) Stream(_ context.Context, req provider.Request, apiKey string) <-chan provider.StreamEvent {
	s.gotReq = req
	s.gotKey = apiKey

	ch := make(chan provider.StreamEvent, len(s.events))
	for _, ev := range s.events {
		ch <- ev
	}
	close(ch)
	return ch
}

func contentChunk(content string) provider.Chunk {
	return provider.Chunk{
		Object:  "chat.completion.chunk",
		Model:   "grok-2",
		Choices: []provider.Choice{{Delta: provider.Delta{Content: content}}},
	}
}

func newTestState(t *testing.T, stub *stubAdapter) (*vault.Vault, *http.ServeMux) {
	t.Helper()

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	v := vault.New(st, zerolog.Nop())
	gw := provider.NewGateway(zerolog.Nop())
	if stub != nil {
		gw.Register("xai", stub)
	}

	mux := http.NewServeMux()
	NewServerState(v, gw, zerolog.Nop()).RegisterHandlers(mux)
	return v, mux
}

func postCompletion(mux *http.ServeMux, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/llm/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

// frames splits an SSE body into its data payloads, in order.
func frames(t *testing.T, body string) []string {
	t.Helper()

	var payloads []string
	for _, frame := range strings.Split(body, "\n\n") {
		if frame == "" {
			continue
		}
		require.True(t, strings.HasPrefix(frame, "data: "), "unexpected frame: %q", frame)
		payloads = append(payloads, strings.TrimPrefix(frame, "data: "))
	}
	return payloads
}

func TestChatCompletionsValidation(t *testing.T) {
	_, mux := newTestState(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", "not json"},
		{"missing model", `{"messages":[{"role":"user","content":"hi"}]}`},
		{"missing messages", `{"model":"gpt-4o"}`},
		{"empty messages", `{"model":"gpt-4o","messages":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postCompletion(mux, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, gjson.Get(rec.Body.String(), "error").String())
		})
	}
}

func TestChatCompletionsUnknownModel(t *testing.T) {
	_, mux := newTestState(t, nil)

	rec := postCompletion(mux, `{"model":"llama-70b","messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, gjson.Get(rec.Body.String(), "error").String(), "no provider registered")
}

func TestChatCompletionsStreaming(t *testing.T) {
	stub := &stubAdapter{events: []provider.StreamEvent{
		{Chunk: contentChunk("Hel")},
		{Chunk: provider.Chunk{Object: "chat.completion.chunk", Model: "grok-2"}}, // heartbeat
		{Chunk: contentChunk("lo")},
	}}
	v, mux := newTestState(t, stub)

	t.Setenv("XAI_API_KEY", "")
	_, err := v.Save("XAI", "sk-xai")
	require.NoError(t, err)

	rec := postCompletion(mux, `{"model":"xai/grok-2","messages":[{"role":"user","content":"hi"}],"systemPrompt":"be terse"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	_, err = uuid.Parse(rec.Header().Get("X-Request-Id"))
	assert.NoError(t, err)

	payloads := frames(t, rec.Body.String())
	require.Len(t, payloads, 4)
	assert.Equal(t, "Hel", gjson.Get(payloads[0], "choices.0.delta.content").String())
	// Choice-less chunks become a literal {} placeholder frame.
	assert.Equal(t, "{}", payloads[1])
	assert.Equal(t, "lo", gjson.Get(payloads[2], "choices.0.delta.content").String())
	assert.Equal(t, "[DONE]", payloads[len(payloads)-1])

	// The system prompt is prepended, never merged.
	require.Len(t, stub.gotReq.Messages, 2)
	assert.Equal(t, models.Message{Role: models.RoleSystem, Content: "be terse"}, stub.gotReq.Messages[0])
	assert.Equal(t, models.Message{Role: models.RoleUser, Content: "hi"}, stub.gotReq.Messages[1])

	// Defaults applied, namespace stripped, secret passed explicitly.
	assert.Equal(t, "grok-2", stub.gotReq.Model)
	assert.InDelta(t, 0.7, stub.gotReq.Temperature, 1e-9)
	assert.Equal(t, 1000, stub.gotReq.MaxTokens)
	assert.Equal(t, "sk-xai", stub.gotKey)
}

func TestChatCompletionsParameterOverrides(t *testing.T) {
	stub := &stubAdapter{}
	_, mux := newTestState(t, stub)

	rec := postCompletion(mux, `{"model":"xai/grok-2","messages":[{"role":"user","content":"hi"}],"temperature":0.2,"max_tokens":50,"stream":false}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 0.2, stub.gotReq.Temperature, 1e-9)
	assert.Equal(t, 50, stub.gotReq.MaxTokens)

	// Without a system prompt the message list is untouched.
	require.Len(t, stub.gotReq.Messages, 1)
	assert.Equal(t, models.RoleUser, stub.gotReq.Messages[0].Role)

	// stream:false is accepted but the response is still a stream; the
	// buffered path is an unexercised extension point.
	payloads := frames(t, rec.Body.String())
	assert.Equal(t, "[DONE]", payloads[len(payloads)-1])
}

func TestChatCompletionsErrorEndsWithSentinel(t *testing.T) {
	stub := &stubAdapter{events: []provider.StreamEvent{
		{Chunk: contentChunk("partial")},
		{Err: errors.New("upstream exploded")},
	}}
	_, mux := newTestState(t, stub)

	rec := postCompletion(mux, `{"model":"xai/grok-2","messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	payloads := frames(t, rec.Body.String())
	require.Len(t, payloads, 3)

	assert.Equal(t, "partial", gjson.Get(payloads[0], "choices.0.delta.content").String())

	// The error frame immediately precedes the sentinel, and the
	// sentinel is always last.
	assert.True(t, gjson.Get(payloads[1], "error").Bool())
	assert.Contains(t, gjson.Get(payloads[1], "message").String(), "upstream exploded")
	assert.Equal(t, "[DONE]", payloads[2])
}

func TestKeysStatus(t *testing.T) {
	v, mux := newTestState(t, nil)

	t.Setenv("OPENAI_API_KEY", "")
	_, err := v.Save("OPENAI", "sk-openai")
	require.NoError(t, err)
	_, err = v.Save("CUSTOMLLC", "sk-custom")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/llm/keys-status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, map[string]bool{
		"OPENAI":    true,
		"ANTHROPIC": false,
		"GEMINI":    false,
		"XAI":       false,
		"MISTRAL":   false,
	}, status)
	_, listed := status["CUSTOMLLC"]
	assert.False(t, listed, "unrecognized services never reach the exposure map")
}
