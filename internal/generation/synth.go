package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kalambet/cory/internal/creature"
	"github.com/kalambet/cory/internal/keys"
	"github.com/kalambet/cory/internal/llm"
)

const (
	defaultImageBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultImageModel   = "gemini-2.5-flash-image"
	synthTimeout        = 120 * time.Second
	maxSynthResponse    = 32 << 20
)

// Synthesizer redraws the base art for a set of attributes using the Gemini
// image generation endpoint.
type Synthesizer struct {
	baseURL    string
	model      string
	keys       keys.Source
	retry      llm.RetryPolicy
	httpClient *http.Client
}

// SynthOptions configures a Synthesizer. Empty fields take defaults.
type SynthOptions struct {
	BaseURL    string
	Model      string
	Keys       keys.Source
	Retry      llm.RetryPolicy
	HTTPClient *http.Client
}

func NewSynthesizer(opts SynthOptions) *Synthesizer {
	s := &Synthesizer{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		model:      opts.Model,
		keys:       opts.Keys,
		retry:      opts.Retry,
		httpClient: opts.HTTPClient,
	}
	if s.baseURL == "" {
		s.baseURL = defaultImageBaseURL
	}
	if s.model == "" {
		s.model = defaultImageModel
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{Timeout: synthTimeout}
	}
	return s
}

type genPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type genRequest struct {
	Contents []struct {
		Parts []genPart `json:"parts"`
	} `json:"contents"`
}

// respPart accepts both spellings the API has used for inline data.
type respPart struct {
	Text        string `json:"text"`
	InlineSnake *struct {
		MIMEType string `json:"mime_type"`
		Data     string `json:"data"`
	} `json:"inline_data"`
	InlineCamel *struct {
		MIMEType string `json:"mimeType"`
		Data     string `json:"data"`
	} `json:"inlineData"`
}

type genResponse struct {
	Candidates []struct {
		Content struct {
			Parts []respPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate returns the raw image bytes produced for attrs from base. It
// returns llm.ErrUnconfigured before any request when there is no key.
func (s *Synthesizer) Generate(ctx context.Context, base []byte, attrs creature.Attributes) ([]byte, error) {
	var key string
	if s.keys != nil {
		k, err := s.keys.APIKey(ctx)
		if err != nil {
			return nil, err
		}
		key = k
	}
	if key == "" {
		return nil, llm.ErrUnconfigured
	}

	var req genRequest
	req.Contents = append(req.Contents, struct {
		Parts []genPart `json:"parts"`
	}{Parts: []genPart{
		{Text: imagePrompt(attrs)},
		{InlineData: &inlineData{MIMEType: "image/png", Data: base64.StdEncoding.EncodeToString(base)}},
	}})
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", s.baseURL, s.model, url.QueryEscape(key))

	var out []byte
	err = s.retry.Do(ctx, func(ctx context.Context) error {
		img, err := s.doGenerate(ctx, endpoint, body)
		if err != nil {
			return err
		}
		out = img
		return nil
	})
	return out, err
}

func (s *Synthesizer) doGenerate(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &llm.UpstreamError{Provider: "gemini-image", Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxSynthResponse))
	if err != nil {
		return nil, &llm.UpstreamError{Provider: "gemini-image", Message: "reading response", Err: err}
	}

	var parsed genResponse
	jsonErr := json.Unmarshal(respBody, &parsed)

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(respBody))
		if jsonErr == nil && parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return nil, &llm.UpstreamError{Provider: "gemini-image", Status: resp.StatusCode, Message: msg}
	}
	if jsonErr != nil {
		return nil, fmt.Errorf("decoding response: %w", jsonErr)
	}

	for _, cand := range parsed.Candidates {
		for _, part := range cand.Content.Parts {
			var data string
			switch {
			case part.InlineSnake != nil:
				data = part.InlineSnake.Data
			case part.InlineCamel != nil:
				data = part.InlineCamel.Data
			}
			if data == "" {
				continue
			}
			img, err := base64.StdEncoding.DecodeString(data)
			if err != nil {
				return nil, fmt.Errorf("decoding image data: %w", err)
			}
			return img, nil
		}
	}
	return nil, fmt.Errorf("no image in response")
}

func imagePrompt(a creature.Attributes) string {
	var sb strings.Builder
	sb.WriteString("Redraw this creature as a new character. Do not change the overall shape or pose of the gecko. ")
	sb.WriteString("Keep the same cute sprite style and line weight. The background must be solid #FFFFFF with nothing else on it.\n\n")
	fmt.Fprintf(&sb, "Name: %s\n", a.Name)
	fmt.Fprintf(&sb, "Personality: %s\n", strings.Join(a.Personality.Traits, ", "))
	if a.Personality.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", a.Personality.Description)
	}
	fmt.Fprintf(&sb, "Key Color: %s (RGB: %d,%d,%d)\n", a.Color.Hex, a.Color.R, a.Color.G, a.Color.B)
	if a.Story.Summary != "" {
		fmt.Fprintf(&sb, "Background Story: %s\n", a.Story.Summary)
	}
	sb.WriteString("\nRequirements:\n")
	sb.WriteString("- Use the key color as the main body color.\n")
	sb.WriteString("- Add small accessories or patterns that reflect the personality.\n")
	sb.WriteString("- Do not use white anywhere on the creature itself.\n")
	sb.WriteString("- Output a single PNG image.\n")
	return sb.String()
}
