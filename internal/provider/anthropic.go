package provider

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"lmdesk/pkg/models"
)

const anthropicBaseURL = "https://api.anthropic.com/v1"

// AnthropicAdapter speaks the Anthropic messages API over SSE.
type AnthropicAdapter struct {
	baseURL string
	client  *http.Client
}

// NewAnthropicAdapter creates an adapter for the Anthropic messages
// API. An empty baseURL targets api.anthropic.com.
func NewAnthropicAdapter(baseURL string) *AnthropicAdapter {
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	return &AnthropicAdapter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

type anthropicRequest struct {
	Model       string           `json:"model"`
	Messages    []models.Message `json:"messages"`
	System      string           `json:"system,omitempty"`
	MaxTokens   int              `json:"max_tokens"`
	Temperature float64          `json:"temperature,omitempty"`
	Stream      bool             `json:"stream"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Stream drives one messages-API exchange. Anthropic wants the system
// prompt in a dedicated field and only user/assistant turns in the
// message list, so leading system messages are split off first. Ping
// events become empty heartbeat chunks to keep the downstream framing
// aligned with the upstream cadence.
func (a *AnthropicAdapter) Stream(ctx context.Context, req Request, apiKey string) <-chan StreamEvent {
	events := make(chan StreamEvent)

	go func() {
		defer close(events)
		if err := a.stream(ctx, req, apiKey, events); err != nil {
			if ctx.Err() != nil {
				return
			}
			events <- StreamEvent{Err: err}
		}
	}()

	return events
}

func (a *AnthropicAdapter) stream(ctx context.Context, req Request, apiKey string, events chan<- StreamEvent) error {
	turns, system := splitSystem(req.Messages)

	body, err := json.Marshal(anthropicRequest{
		Model:       req.Model,
		Messages:    turns,
		System:      system,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	})
	if err != nil {
		return fmt.Errorf("anthropic: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("anthropic: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("anthropic: API error (status %d): %s", resp.StatusCode, errBody)
	}

	emit := func(chunk Chunk) bool {
		select {
		case events <- StreamEvent{Chunk: chunk}:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		switch event.Type {
		case "message_start":
			chunk := Chunk{
				Object:  "chat.completion.chunk",
				Model:   req.Model,
				Choices: []Choice{{Delta: Delta{Role: models.RoleAssistant}}},
			}
			if !emit(chunk) {
				return nil
			}
		case "content_block_delta":
			if event.Delta.Text == "" {
				continue
			}
			if !emit(contentChunk(req.Model, event.Delta.Text)) {
				return nil
			}
		case "message_delta":
			if event.Delta.StopReason == "" {
				continue
			}
			if !emit(finishChunk(req.Model, anthropicFinishReason(event.Delta.StopReason))) {
				return nil
			}
		case "ping":
			// Heartbeat, forwarded as a choice-less chunk.
			if !emit(Chunk{Object: "chat.completion.chunk", Model: req.Model}) {
				return nil
			}
		case "message_stop":
			return nil
		case "error":
			return fmt.Errorf("anthropic: stream error: %s", event.Error.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("anthropic: stream read error: %w", err)
	}
	return nil
}

// splitSystem separates system messages from conversational turns;
// their contents join into the request's system field.
func splitSystem(messages []models.Message) ([]models.Message, string) {
	var (
		turns  []models.Message
		system []string
	)
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		turns = append(turns, msg)
	}
	return turns, strings.Join(system, "\n\n")
}

func anthropicFinishReason(stopReason string) string {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return stopReason
	}
}
