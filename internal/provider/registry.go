package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/alphadose/haxmap"
	"github.com/rs/zerolog"
)

// modelFamilies routes bare model names (no explicit "provider/"
// namespace) to a provider key by their well-known name prefixes.
var modelFamilies = []struct {
	prefix   string
	provider string
}{
	{"gpt-", "openai"},
	{"chatgpt-", "openai"},
	{"o1", "openai"},
	{"claude", "anthropic"},
	{"gemini", "gemini"},
	{"grok", "xai"},
	{"mistral", "mistral"},
	{"ministral", "mistral"},
	{"codestral", "mistral"},
	{"open-mixtral", "mistral"},
}

// Gateway dispatches normalized completion requests to the adapter
// registered for the model identifier's namespace. New providers
// register an adapter under a key; the dispatch logic never changes.
type Gateway struct {
	adapters *haxmap.Map[string, Adapter]
	log      zerolog.Logger
}

// NewGateway creates a gateway with the built-in adapters registered:
// openai, anthropic, gemini, and the OpenAI-compatible xai and mistral
// endpoints.
func NewGateway(log zerolog.Logger) *Gateway {
	g := &Gateway{
		adapters: haxmap.New[string, Adapter](),
		log:      log.With().Str("component", "gateway").Logger(),
	}

	g.Register("openai", NewOpenAIAdapter("openai", ""))
	g.Register("xai", NewOpenAIAdapter("xai", xaiBaseURL))
	g.Register("mistral", NewOpenAIAdapter("mistral", mistralBaseURL))
	g.Register("anthropic", NewAnthropicAdapter(""))
	g.Register("gemini", NewGeminiAdapter(""))
	return g
}

// Register installs (or replaces) the adapter for a provider key.
func (g *Gateway) Register(key string, adapter Adapter) {
	g.adapters.Set(key, adapter)
}

// Resolve maps a model identifier to its provider key and the
// provider-local model name. An explicit "provider/model" namespace
// wins; bare names route by model family prefix.
func (g *Gateway) Resolve(model string) (string, string, error) {
	if key, name, ok := strings.Cut(model, "/"); ok && key != "" && name != "" {
		if _, found := g.adapters.Get(key); found {
			return key, name, nil
		}
		return "", "", fmt.Errorf("%w: %q", ErrProviderNotFound, model)
	}

	for _, family := range modelFamilies {
		if strings.HasPrefix(model, family.prefix) {
			return family.provider, model, nil
		}
	}
	return "", "", fmt.Errorf("%w: %q", ErrProviderNotFound, model)
}

// Stream resolves the request's model to an adapter and opens the
// upstream event stream. The adapter receives the provider's secret
// from creds explicitly; a missing secret is not an error here, the
// upstream rejection comes back as a terminal error event. Unresolvable
// model identifiers fail with ErrProviderNotFound before any network
// activity.
func (g *Gateway) Stream(ctx context.Context, req Request, creds map[string]string) (<-chan StreamEvent, error) {
	key, name, err := g.Resolve(req.Model)
	if err != nil {
		return nil, err
	}

	adapter, ok := g.adapters.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, req.Model)
	}

	g.log.Debug().Str("provider", key).Str("model", name).Msg("dispatching completion")

	req.Model = name
	return adapter.Stream(ctx, req, creds[strings.ToUpper(key)]), nil
}
