package llm

import (
	"errors"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/sjson"

	"lmdesk/internal/provider"
	"lmdesk/internal/vault"
	"lmdesk/pkg/models"
)

// doneFrame is the sentinel terminating every completion stream. It is
// always the last frame, on both the success and the failure path.
const doneFrame = "data: [DONE]\n\n"

// errorFrame is the template for in-band error frames; sjson fills in
// the message.
var errorFrame = []byte(`{"error":true}`)

// Default request parameters, matching the values advertised in the
// request contract.
const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 1000
)

// ServerState holds the completion proxy's collaborators.
type ServerState struct {
	Vault   *vault.Vault
	Gateway *provider.Gateway

	log zerolog.Logger
}

// NewServerState creates the proxy state over a vault and a gateway.
func NewServerState(v *vault.Vault, gw *provider.Gateway, log zerolog.Logger) *ServerState {
	return &ServerState{
		Vault:   v,
		Gateway: gw,
		log:     log.With().Str("component", "llm").Logger(),
	}
}

// ChatCompletionRequest is the inbound request body for the completion
// endpoint. Stream defaults to true; the non-streaming response path is
// declared but not currently exercised.
type ChatCompletionRequest struct {
	Model        string           `json:"model"`
	Messages     []models.Message `json:"messages"`
	Stream       *bool            `json:"stream,omitempty"`
	Temperature  *float64         `json:"temperature,omitempty"`
	MaxTokens    *int             `json:"max_tokens,omitempty"`
	SystemPrompt string           `json:"systemPrompt,omitempty"`
}

// HandleChatCompletions validates the request, refreshes credentials,
// assembles the final message list and relays the provider's event
// stream as server-sent events. Once the event-stream headers are
// committed every failure is reported in-band: an error frame followed
// by the [DONE] sentinel.
func (s *ServerState) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	// Refresh so credential edits take effect without a restart.
	creds, err := s.Vault.Refresh()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	messages := req.Messages
	if req.SystemPrompt != "" {
		// Always prepended, never merged into an existing leading
		// system message.
		messages = append([]models.Message{{Role: models.RoleSystem, Content: req.SystemPrompt}}, messages...)
	}

	temperature := defaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	runID := uuid.New()
	log := s.log.With().Stringer("run_id", runID).Str("model", req.Model).Logger()

	events, err := s.Gateway.Stream(r.Context(), provider.Request{
		Model:       req.Model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}, creds)
	if err != nil {
		// Resolution failures happen before any network activity, so
		// the headers are still ours to set.
		if errors.Is(err, provider.ErrProviderNotFound) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Request-Id", runID.String())
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	frames := 0
	for event := range events {
		if event.Err != nil {
			log.Warn().Err(event.Err).Msg("completion stream failed")
			writeFrame(w, flusher, errorFrameBody(event.Err))
			writeDone(w, flusher)
			return
		}

		if !event.Chunk.HasChoices() {
			// Placeholder frame keeps client-side framing aligned with
			// the upstream chunk cadence.
			writeFrame(w, flusher, []byte("{}"))
			frames++
			continue
		}

		body, err := json.Marshal(event.Chunk)
		if err != nil {
			log.Warn().Err(err).Msg("failed to encode chunk")
			writeFrame(w, flusher, errorFrameBody(err))
			writeDone(w, flusher)
			return
		}
		writeFrame(w, flusher, body)
		frames++
	}

	log.Debug().Int("frames", frames).Msg("completion stream finished")
	writeDone(w, flusher)
}

// HandleKeysStatus reruns the credential refresh and reports which
// recognized providers currently have a secret exposed.
func (s *ServerState) HandleKeysStatus(w http.ResponseWriter, r *http.Request) {
	creds, err := s.Vault.Refresh()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, creds.Status())
}

// RegisterHandlers registers the LLM endpoints with a router.
func (s *ServerState) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /llm/chat/completions", s.HandleChatCompletions)
	mux.HandleFunc("GET /llm/keys-status", s.HandleKeysStatus)
}

func errorFrameBody(err error) []byte {
	body, serr := sjson.SetBytes(errorFrame, "message", err.Error())
	if serr != nil {
		return errorFrame
	}
	return body
}

func writeFrame(w http.ResponseWriter, flusher http.Flusher, body []byte) {
	w.Write([]byte("data: "))
	w.Write(body)
	w.Write([]byte("\n\n"))
	if flusher != nil {
		flusher.Flush()
	}
}

func writeDone(w http.ResponseWriter, flusher http.Flusher) {
	w.Write([]byte(doneFrame))
	if flusher != nil {
		flusher.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
