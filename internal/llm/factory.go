package llm

import (
	"fmt"
	"strings"
)

// Providers accepted by NewChatter and NewVision.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderClaude = "claude"
	ProviderOllama = "ollama"
)

// NewChatter returns the chat backend for provider.
func NewChatter(provider string, opts Options) (Chatter, error) {
	switch strings.ToLower(provider) {
	case ProviderOpenAI, "":
		return NewOpenAI(opts), nil
	case ProviderGemini:
		return NewGemini(opts), nil
	case ProviderClaude, "anthropic":
		return NewClaude(opts), nil
	case ProviderOllama:
		return NewOllama(opts), nil
	default:
		return nil, fmt.Errorf("unsupported chat provider: %s", provider)
	}
}

// NewVision returns the image analysis backend for provider.
func NewVision(provider string, opts Options) (Vision, error) {
	switch strings.ToLower(provider) {
	case ProviderOpenAI, "":
		return NewOpenAI(opts), nil
	case ProviderGemini:
		return NewGemini(opts), nil
	case ProviderOllama:
		return NewOllama(opts), nil
	case ProviderClaude, "anthropic":
		return nil, fmt.Errorf("provider %s does not support image analysis", provider)
	default:
		return nil, fmt.Errorf("unsupported vision provider: %s", provider)
	}
}
