package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAI talks to the OpenAI chat completions API, or to any server that
// speaks the same protocol (Ollama's /v1 endpoint).
type OpenAI struct {
	provider string
	opts     Options
	// keyOptional lets local servers that ignore authentication run without
	// a configured key.
	keyOptional bool
}

func NewOpenAI(opts Options) *OpenAI {
	return &OpenAI{provider: "openai", opts: opts}
}

// NewOllama points the OpenAI client at an Ollama server. baseURL is the
// server root; "/v1" is appended when missing.
func NewOllama(opts Options) *OpenAI {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "http://localhost:11434"
	}
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	opts.BaseURL = base
	return &OpenAI{provider: "ollama", opts: opts, keyOptional: true}
}

func (c *OpenAI) client(ctx context.Context) (*openai.Client, error) {
	key, err := resolveKey(ctx, c.opts.Keys)
	if errors.Is(err, ErrUnconfigured) && c.keyOptional {
		key, err = "ollama", nil
	}
	if err != nil {
		return nil, err
	}

	cfg := openai.DefaultConfig(key)
	if c.opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(c.opts.BaseURL, "/")
	}
	if c.opts.HTTPClient != nil {
		cfg.HTTPClient = c.opts.HTTPClient
	}
	return openai.NewClientWithConfig(cfg), nil
}

func (c *OpenAI) Chat(ctx context.Context, system string, history []Message, user string) (string, error) {
	client, err := c.client(ctx)
	if err != nil {
		return "", err
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: user})

	req := openai.ChatCompletionRequest{
		Model:            c.opts.Model,
		Messages:         msgs,
		Temperature:      chatTemperature,
		MaxTokens:        chatMaxTokens,
		TopP:             chatTopP,
		PresencePenalty:  chatPresencePenalty,
		FrequencyPenalty: chatFrequencyPenalty,
	}
	return c.complete(ctx, client, req)
}

func (c *OpenAI) Describe(ctx context.Context, instruction, prompt string, image []byte, mimeType string) (string, error) {
	client, err := c.client(ctx)
	if err != nil {
		return "", err
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)

	req := openai.ChatCompletionRequest{
		Model: c.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: instruction},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailLow,
						},
					},
				},
			},
		},
		MaxTokens: visionMaxTokens,
	}
	return c.complete(ctx, client, req)
}

func (c *OpenAI) complete(ctx context.Context, client *openai.Client, req openai.ChatCompletionRequest) (string, error) {
	var out string
	err := c.opts.Retry.Do(ctx, func(ctx context.Context) error {
		resp, err := client.CreateChatCompletion(ctx, req)
		if err != nil {
			return c.mapError(err)
		}
		if len(resp.Choices) == 0 {
			return &UpstreamError{Provider: c.provider, Status: 200, Message: "no choices in response"}
		}
		out = resp.Choices[0].Message.Content
		return nil
	})
	return out, err
}

func (c *OpenAI) mapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &UpstreamError{Provider: c.provider, Status: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := "request failed"
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &UpstreamError{Provider: c.provider, Status: reqErr.HTTPStatusCode, Message: msg, Err: err}
	}
	return &UpstreamError{Provider: c.provider, Message: fmt.Sprint(err), Err: err}
}
