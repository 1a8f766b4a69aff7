package llm

import (
	"context"
	"errors"

	"github.com/liushuangls/go-anthropic/v2"
)

// Claude implements Chatter over the Anthropic messages API. It has no
// vision support here.
type Claude struct {
	opts Options
}

func NewClaude(opts Options) *Claude {
	return &Claude{opts: opts}
}

func (c *Claude) Chat(ctx context.Context, system string, history []Message, user string) (string, error) {
	key, err := resolveKey(ctx, c.opts.Keys)
	if err != nil {
		return "", err
	}
	var clientOpts []anthropic.ClientOption
	if c.opts.BaseURL != "" {
		clientOpts = append(clientOpts, anthropic.WithBaseURL(c.opts.BaseURL))
	}
	if c.opts.HTTPClient != nil {
		clientOpts = append(clientOpts, anthropic.WithHTTPClient(c.opts.HTTPClient))
	}
	client := anthropic.NewClient(key, clientOpts...)

	msgs := make([]anthropic.Message, 0, len(history)+1)
	for _, m := range history {
		role := anthropic.RoleUser
		if m.Role == RoleAssistant {
			role = anthropic.RoleAssistant
		}
		msgs = append(msgs, anthropic.Message{
			Role:    role,
			Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(m.Content)},
		})
	}
	msgs = append(msgs, anthropic.Message{
		Role:    anthropic.RoleUser,
		Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(user)},
	})

	req := anthropic.MessagesRequest{
		Model:     anthropic.Model(c.opts.Model),
		System:    system,
		Messages:  msgs,
		MaxTokens: chatMaxTokens,
	}

	var out string
	err = c.opts.Retry.Do(ctx, func(ctx context.Context) error {
		resp, err := client.CreateMessages(ctx, req)
		if err != nil {
			return mapClaudeError(err)
		}
		for _, part := range resp.Content {
			if part.Text != nil && *part.Text != "" {
				out = *part.Text
				return nil
			}
		}
		return &UpstreamError{Provider: "claude", Status: 200, Message: "no text in response"}
	})
	return out, err
}

func mapClaudeError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	up := &UpstreamError{Provider: "claude", Message: err.Error(), Err: err}
	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) {
		up.Status = reqErr.StatusCode
	}
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		up.Message = apiErr.Message
	}
	return up
}
