/*
Package llm implements the chat-completion proxy between the local UI
and the external language model providers.

# Architecture Overview

The package sits at the top of a small pipeline:

 1. HTTP Handlers (handlers.go)
    - Expose /llm/chat/completions and /llm/keys-status
    - Validate inbound requests before any side effect
    - Convert the gateway's event stream into server-sent events

 2. Credential Vault (internal/vault)
    - Refreshed at the top of every completion request so key edits
      take effect without a restart
    - Resolved secrets are passed to the gateway explicitly

 3. Provider Adapter Gateway (internal/provider)
    - Dispatches on the model identifier's namespace
    - Produces a finite, ordered stream of completion chunks

# Streaming Contract

Each gateway chunk becomes one `data: <json>` frame; chunks without
choices become a literal `data: {}` placeholder so the client observes
the upstream cadence. A failure mid-stream produces a single
`{"error":true,"message":...}` frame. In every case the final frame is
the `data: [DONE]` sentinel, so consumers can rely on it
unconditionally to detect end-of-stream.
*/
package llm
