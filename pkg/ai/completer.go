// Package ai holds the chat completion clients behind the circle assistant.
package ai

import (
	"context"
	"fmt"
	"strings"
)

// Roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options are the sampling settings sent with every request.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// ChatCompleter returns the assistant reply to a conversation.
// All providers (OpenAI-compatible, Ollama, Gemini) implement this interface.
type ChatCompleter interface {
	CompleteChat(ctx context.Context, messages []Message) (string, error)
}

// Config selects and configures a provider for New.
type Config struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
	Options  Options
}

// New builds the completer named by cfg.Provider.
func New(cfg Config) (ChatCompleter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai", "openai-compat":
		return NewOpenAICompat(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Options), nil
	case "ollama":
		return NewOllama(cfg.BaseURL, cfg.Model, cfg.Options), nil
	case "gemini":
		return NewGemini(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Options)
	default:
		return nil, fmt.Errorf("unknown assistant provider %q", cfg.Provider)
	}
}

// splitSystem separates system turns from the rest for providers that carry
// the system prompt out of band.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}
