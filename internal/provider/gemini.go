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

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiAdapter speaks the Gemini generateContent API, streaming via
// the alt=sse transport.
type GeminiAdapter struct {
	baseURL string
	client  *http.Client
}

// NewGeminiAdapter creates an adapter for the Gemini API. An empty
// baseURL targets generativelanguage.googleapis.com.
func NewGeminiAdapter(baseURL string) *GeminiAdapter {
	if baseURL == "" {
		baseURL = geminiBaseURL
	}
	return &GeminiAdapter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  struct {
		Temperature     float64 `json:"temperature,omitempty"`
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type geminiStreamChunk struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Stream drives one streamGenerateContent exchange. Gemini separates
// the system prompt into systemInstruction and names the assistant role
// "model"; both translations happen here so callers only ever see the
// normalized shapes.
func (a *GeminiAdapter) Stream(ctx context.Context, req Request, apiKey string) <-chan StreamEvent {
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

func (a *GeminiAdapter) stream(ctx context.Context, req Request, apiKey string, events chan<- StreamEvent) error {
	turns, system := splitSystem(req.Messages)

	greq := geminiRequest{Contents: make([]geminiContent, 0, len(turns))}
	for _, msg := range turns {
		role := "user"
		if msg.Role == models.RoleAssistant {
			role = "model"
		}
		greq.Contents = append(greq.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: msg.Content}},
		})
	}
	if system != "" {
		greq.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}
	greq.GenerationConfig.Temperature = req.Temperature
	greq.GenerationConfig.MaxOutputTokens = req.MaxTokens

	body, err := json.Marshal(greq)
	if err != nil {
		return fmt.Errorf("gemini: failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", a.baseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("gemini: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("gemini: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gemini: API error (status %d): %s", resp.StatusCode, errBody)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var chunk geminiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			return fmt.Errorf("gemini: stream error: %s", chunk.Error.Message)
		}

		for _, candidate := range chunk.Candidates {
			for _, part := range candidate.Content.Parts {
				if part.Text == "" {
					continue
				}
				select {
				case events <- StreamEvent{Chunk: contentChunk(req.Model, part.Text)}:
				case <-ctx.Done():
					return nil
				}
			}
			if candidate.FinishReason != "" {
				select {
				case events <- StreamEvent{Chunk: finishChunk(req.Model, geminiFinishReason(candidate.FinishReason))}:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("gemini: stream read error: %w", err)
	}
	return nil
}

func geminiFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	default:
		return strings.ToLower(reason)
	}
}
