// Package llm provides the completion clients used to summarize negotiation
// chats.
package llm

import (
	"context"
	"fmt"
)

// Roles understood by every provider. System content is folded into the
// first user turn by providers without a system role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewClient creates a new LLM client based on provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}

// FromKeys picks the preferred provider when its key is set, falling back
// to whichever key is configured. It returns nil when neither is.
func FromKeys(preferred, anthropicKey, openaiKey string) (Client, error) {
	keys := map[Provider]string{
		ProviderAnthropic: anthropicKey,
		ProviderOpenAI:    openaiKey,
	}
	if key := keys[Provider(preferred)]; key != "" {
		return NewClient(Provider(preferred), key)
	}
	for _, p := range []Provider{ProviderAnthropic, ProviderOpenAI} {
		if keys[p] != "" {
			return NewClient(p, keys[p])
		}
	}
	return nil, nil
}

// foldSystem merges system messages into the first user message for
// providers that only accept user and assistant turns.
func foldSystem(msgs []ChatMessage) []ChatMessage {
	var system string
	out := make([]ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		out = append(out, m)
	}
	if system == "" {
		return out
	}
	if len(out) > 0 && out[0].Role == RoleUser {
		out[0].Content = system + "\n\n" + out[0].Content
		return out
	}
	return append([]ChatMessage{{Role: RoleUser, Content: system}}, out...)
}
