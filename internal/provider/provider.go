// Package provider implements the adapter gateway that turns a
// normalized chat-completion request into one external LLM vendor's
// wire protocol and back. Concrete adapters register against a provider
// key; the gateway dispatches on the namespace encoded in the model
// identifier and produces a finite stream of completion chunks.
package provider

import (
	"context"
	"errors"
	"time"

	"lmdesk/pkg/models"
)

// ErrProviderNotFound is returned when a model identifier does not
// resolve to any registered adapter. It is reported before any network
// activity.
var ErrProviderNotFound = errors.New("no provider registered for model")

// defaultTimeout bounds the whole upstream exchange so a wedged
// provider connection cannot be held forever.
const defaultTimeout = 5 * time.Minute

// Request is the normalized completion request handed to an adapter.
// Model carries the provider-local model name, with any namespace
// prefix already stripped by the gateway.
type Request struct {
	Model       string
	Messages    []models.Message
	Temperature float64
	MaxTokens   int
}

// Delta is the incremental payload of one streamed choice.
type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// Choice is one alternative inside a completion chunk.
type Choice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Chunk is one incremental unit of a streamed completion, shaped like
// an OpenAI chat-completion chunk regardless of the upstream vendor.
type Chunk struct {
	ID      string   `json:"id,omitempty"`
	Object  string   `json:"object,omitempty"`
	Created int64    `json:"created,omitempty"`
	Model   string   `json:"model,omitempty"`
	Choices []Choice `json:"choices"`
}

// HasChoices reports whether the chunk carries any choice data, as
// opposed to an empty heartbeat chunk.
func (c Chunk) HasChoices() bool {
	return len(c.Choices) > 0
}

// StreamEvent is one element of an adapter's event stream. A non-nil
// Err is terminal: no further events follow it, and the channel is
// closed. Normal termination is a plain channel close after the last
// chunk.
type StreamEvent struct {
	Chunk Chunk
	Err   error
}

// Adapter translates normalized requests into one vendor's protocol.
// Stream must emit chunks in upstream order, convert every failure into
// a terminal error event rather than dropping the stream, stop pulling
// when ctx is done, and close the channel when the stream ends. The
// secret is passed explicitly; adapters never consult the environment.
type Adapter interface {
	Stream(ctx context.Context, req Request, apiKey string) <-chan StreamEvent
}

func contentChunk(model, content string) Chunk {
	return Chunk{
		Object: "chat.completion.chunk",
		Model:  model,
		Choices: []Choice{{
			Delta: Delta{Content: content},
		}},
	}
}

func finishChunk(model, reason string) Chunk {
	return Chunk{
		Object: "chat.completion.chunk",
		Model:  model,
		Choices: []Choice{{
			FinishReason: &reason,
		}},
	}
}
