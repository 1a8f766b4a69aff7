// Package llm wraps the text and vision backends behind two small
// interfaces. Every call resolves its API key first and fails with
// ErrUnconfigured, without touching the network, when there is none.
package llm

import (
	"context"
	"net/http"

	"github.com/kalambet/cory/internal/keys"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prior turn of a conversation.
type Message struct {
	Role    Role
	Content string
}

// Chatter produces a single reply from a persona, prior turns and the new
// user message.
type Chatter interface {
	Chat(ctx context.Context, system string, history []Message, user string) (string, error)
}

// Vision answers an instruction about an image.
type Vision interface {
	Describe(ctx context.Context, instruction, prompt string, image []byte, mimeType string) (string, error)
}

// Options configures one backend client.
type Options struct {
	Model      string
	BaseURL    string
	Keys       keys.Source
	Retry      RetryPolicy
	HTTPClient *http.Client
}

// Sampling parameters for companion chat. Replies are kept short.
const (
	chatTemperature      = 0.8
	chatMaxTokens        = 150
	chatTopP             = 0.9
	chatPresencePenalty  = 0.3
	chatFrequencyPenalty = 0.3
	visionMaxTokens      = 800
)

func resolveKey(ctx context.Context, src keys.Source) (string, error) {
	if src == nil {
		return "", ErrUnconfigured
	}
	key, err := src.APIKey(ctx)
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", ErrUnconfigured
	}
	return key, nil
}
