// Package models defines the record and message types shared across the
// lmdesk service: stored credentials, stored conversations and the chat
// messages exchanged with language model providers.
package models

// Message roles accepted in conversations and completion requests.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// APIKey is a stored provider credential. Service is unique per record;
// saving a key for an existing service overwrites the secret in place.
type APIKey struct {
	ID      int64  `json:"id"`
	Service string `json:"service"`
	Key     string `json:"key"`
}

// Conversation is a stored chat transcript. ID is assigned once at
// creation and never reused, even after the record is deleted. Model and
// CreatedAt are immutable after creation; updates replace Messages and
// SystemPrompt wholesale.
type Conversation struct {
	ID           int64     `json:"id"`
	Model        string    `json:"model"`
	Messages     []Message `json:"messages"`
	SystemPrompt string    `json:"systemPrompt,omitempty"`
	CreatedAt    int64     `json:"created_at"`
}
