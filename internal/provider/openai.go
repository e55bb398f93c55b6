package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"lmdesk/pkg/models"
)

const (
	xaiBaseURL     = "https://api.x.ai/v1"
	mistralBaseURL = "https://api.mistral.ai/v1"
)

// OpenAIAdapter speaks the OpenAI chat-completions protocol. With a
// base URL override it also serves the OpenAI-compatible x.ai and
// Mistral endpoints.
type OpenAIAdapter struct {
	name    string
	baseURL string
}

// NewOpenAIAdapter creates an adapter for an OpenAI-compatible
// endpoint. An empty baseURL targets api.openai.com.
func NewOpenAIAdapter(name, baseURL string) *OpenAIAdapter {
	return &OpenAIAdapter{name: name, baseURL: baseURL}
}

func (a *OpenAIAdapter) client(apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if a.baseURL != "" {
		cfg.BaseURL = a.baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	return openai.NewClientWithConfig(cfg)
}

// Stream opens an upstream completion stream and forwards its chunks in
// order. Upstream chunks translate one-to-one, including chunks without
// choices, so the caller sees the upstream cadence unchanged.
func (a *OpenAIAdapter) Stream(ctx context.Context, req Request, apiKey string) <-chan StreamEvent {
	events := make(chan StreamEvent)

	oreq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    toOpenAIMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		Stream:      true,
	}

	go func() {
		defer close(events)

		stream, err := a.client(apiKey).CreateChatCompletionStream(ctx, oreq)
		if err != nil {
			events <- StreamEvent{Err: fmt.Errorf("%s: failed to open stream: %w", a.name, err)}
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				events <- StreamEvent{Err: fmt.Errorf("%s: stream error: %w", a.name, err)}
				return
			}

			select {
			case events <- StreamEvent{Chunk: fromOpenAIChunk(resp)}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events
}

func toOpenAIMessages(messages []models.Message) []openai.ChatCompletionMessage {
	converted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		converted = append(converted, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}
	return converted
}

func fromOpenAIChunk(resp openai.ChatCompletionStreamResponse) Chunk {
	chunk := Chunk{
		ID:      resp.ID,
		Object:  resp.Object,
		Created: resp.Created,
		Model:   resp.Model,
	}
	for _, choice := range resp.Choices {
		converted := Choice{
			Index: choice.Index,
			Delta: Delta{
				Role:    choice.Delta.Role,
				Content: choice.Delta.Content,
			},
		}
		if choice.FinishReason != "" {
			reason := string(choice.FinishReason)
			converted.FinishReason = &reason
		}
		chunk.Choices = append(chunk.Choices, converted)
	}
	return chunk
}
