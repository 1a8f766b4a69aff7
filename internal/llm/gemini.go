package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Gemini uses the Gemini generateContent API for chat and vision. A client
// is created per call because the key may change between calls.
type Gemini struct {
	opts Options
}

func NewGemini(opts Options) *Gemini {
	return &Gemini{opts: opts}
}

func (g *Gemini) client(ctx context.Context) (*genai.Client, error) {
	key, err := resolveKey(ctx, g.opts.Keys)
	if err != nil {
		return nil, err
	}
	clientOpts := []option.ClientOption{option.WithAPIKey(key)}
	if g.opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(g.opts.BaseURL))
	}
	c, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, &UpstreamError{Provider: "gemini", Message: fmt.Sprintf("creating client: %v", err), Err: err}
	}
	return c, nil
}

func (g *Gemini) Chat(ctx context.Context, system string, history []Message, user string) (string, error) {
	client, err := g.client(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	model := client.GenerativeModel(g.opts.Model)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	model.SetTemperature(chatTemperature)
	model.SetTopP(chatTopP)
	model.SetMaxOutputTokens(chatMaxTokens)

	var out string
	err = g.opts.Retry.Do(ctx, func(ctx context.Context) error {
		cs := model.StartChat()
		for _, m := range history {
			role := "user"
			if m.Role == RoleAssistant {
				role = "model"
			}
			cs.History = append(cs.History, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
		}
		resp, err := cs.SendMessage(ctx, genai.Text(user))
		if err != nil {
			return mapGeminiError(err)
		}
		out, err = responseText(resp)
		return err
	})
	return out, err
}

func (g *Gemini) Describe(ctx context.Context, instruction, prompt string, image []byte, mimeType string) (string, error) {
	client, err := g.client(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	model := client.GenerativeModel(g.opts.Model)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(instruction)}}
	model.SetMaxOutputTokens(visionMaxTokens)
	model.ResponseMIMEType = "application/json"

	format := strings.TrimPrefix(mimeType, "image/")
	if format == "" {
		format = "jpeg"
	}

	var out string
	err = g.opts.Retry.Do(ctx, func(ctx context.Context) error {
		resp, err := model.GenerateContent(ctx, genai.Text(prompt), genai.ImageData(format, image))
		if err != nil {
			return mapGeminiError(err)
		}
		out, err = responseText(resp)
		return err
	})
	return out, err
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		if sb.Len() > 0 {
			break
		}
	}
	if sb.Len() == 0 {
		return "", &UpstreamError{Provider: "gemini", Status: http.StatusOK, Message: "no text in response"}
	}
	return sb.String(), nil
}

func mapGeminiError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return &UpstreamError{Provider: "gemini", Status: gErr.Code, Message: gErr.Message, Err: err}
	}
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		// Blocked content will be blocked again; report it as a client error.
		return &UpstreamError{Provider: "gemini", Status: http.StatusUnprocessableEntity, Message: blocked.Error(), Err: err}
	}
	return &UpstreamError{Provider: "gemini", Message: err.Error(), Err: err}
}
