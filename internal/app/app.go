package app

import (
	"errors"
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"lmdesk/internal/llm"
	"lmdesk/internal/provider"
	"lmdesk/internal/store"
	"lmdesk/internal/vault"
	"lmdesk/pkg/models"
	"lmdesk/pkg/utils"
)

// App wires the router to the document store, the credential vault and
// the completion proxy.
type App struct {
	Router *http.ServeMux
	Store  *store.Store
	Vault  *vault.Vault
	LLM    *llm.ServerState

	log zerolog.Logger
}

// NewApp builds the application around an already-opened store.
func NewApp(st *store.Store, log zerolog.Logger) *App {
	v := vault.New(st, log)
	app := &App{
		Router: http.NewServeMux(),
		Store:  st,
		Vault:  v,
		LLM:    llm.NewServerState(v, provider.NewGateway(log), log),
		log:    log.With().Str("component", "app").Logger(),
	}

	app.initializeRoutes()
	return app
}

func (a *App) initializeRoutes() {
	a.Router.HandleFunc("GET /", a.handleRoot)

	a.Router.HandleFunc("POST /db/api-keys", a.handleCreateAPIKey)
	a.Router.HandleFunc("GET /db/api-keys", a.handleListAPIKeys)
	a.Router.HandleFunc("GET /db/api-keys/{service}", a.handleGetAPIKey)
	a.Router.HandleFunc("DELETE /db/api-keys/{service}", a.handleDeleteAPIKey)

	a.Router.HandleFunc("POST /db/conversations", a.handleCreateConversation)
	a.Router.HandleFunc("GET /db/conversations", a.handleListConversations)
	a.Router.HandleFunc("GET /db/conversations/{id}", a.handleGetConversation)
	a.Router.HandleFunc("PUT /db/conversations/{id}", a.handleUpdateConversation)
	a.Router.HandleFunc("DELETE /db/conversations/{id}", a.handleDeleteConversation)

	a.LLM.RegisterHandlers(a.Router)
}

func (a *App) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "lmdesk backend is running",
		"db_path": a.Store.Path(),
	})
}

type apiKeyRequest struct {
	Service string `json:"service"`
	Key     string `json:"key"`
}

func (a *App) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req apiKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Service == "" || req.Key == "" {
		writeError(w, http.StatusBadRequest, "service and key are required")
		return
	}

	id, err := a.Vault.Save(req.Service, req.Key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.log.Info().Str("service", req.Service).Str("key", utils.MaskSecret(req.Key)).Msg("credential saved")
	writeJSON(w, http.StatusOK, map[string]int64{"id": id})
}

func (a *App) handleGetAPIKey(w http.ResponseWriter, r *http.Request) {
	service := r.PathValue("service")
	rec, err := a.Store.GetAPIKey(service)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "api key not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *App) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := a.Vault.All()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if keys == nil {
		keys = []models.APIKey{}
	}
	writeJSON(w, http.StatusOK, keys)
}

func (a *App) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	service := r.PathValue("service")
	deleted, err := a.Vault.Delete(service)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if deleted == 0 {
		writeError(w, http.StatusNotFound, "api key not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

type conversationRequest struct {
	Model        string           `json:"model"`
	Messages     []models.Message `json:"messages"`
	SystemPrompt string           `json:"systemPrompt,omitempty"`
}

func (a *App) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req conversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}

	id, err := a.Store.SaveConversation(req.Model, req.Messages, req.SystemPrompt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"id": id})
}

func (a *App) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	rec, err := a.Store.GetConversation(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *App) handleListConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := a.Store.Conversations()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if conversations == nil {
		conversations = []models.Conversation{}
	}
	writeJSON(w, http.StatusOK, conversations)
}

func (a *App) handleUpdateConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	var req conversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	// Existence check first so an absent id is a visible 404 rather
	// than a silent no-op update.
	if _, err := a.Store.GetConversation(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := a.Store.UpdateConversation(id, req.Messages, req.SystemPrompt); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "conversation updated"})
}

func (a *App) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	deleted, err := a.Store.DeleteConversation(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if deleted == 0 {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "conversation deleted"})
}

func conversationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
