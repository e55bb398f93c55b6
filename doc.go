// Package lmdesk is the local backend for the lmdesk desktop client.
//
// # Overview
//
// The backend exposes a small HTTP API over localhost for the desktop
// shell's embedded web UI. It has two responsibilities:
//
//   - Persistence: per-provider API credentials and chat transcripts
//     are kept in a single SQLite file under the user's application
//     data directory (internal/store, internal/vault).
//
//   - Completion proxying: chat requests are normalized, routed to the
//     provider encoded in the model identifier's namespace and relayed
//     back as one server-sent-event stream terminated by a [DONE]
//     sentinel (internal/provider, internal/llm).
//
// # Endpoints
//
//	POST   /llm/chat/completions   streaming chat completion
//	GET    /llm/keys-status        recognized-provider exposure map
//	POST   /db/api-keys            upsert a provider credential
//	GET    /db/api-keys[/service]  read credentials
//	DELETE /db/api-keys/{service}  delete a credential
//	POST   /db/conversations       save a transcript
//	GET    /db/conversations[/id]  read transcripts
//	PUT    /db/conversations/{id}  replace messages/system prompt
//	DELETE /db/conversations/{id}  delete a transcript
//
// The interface assumes a trusted localhost consumer and carries no
// authentication or multi-user access control.
package lmdesk
