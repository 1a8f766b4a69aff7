// Package keys resolves API credentials for the AI backends. A missing key
// is reported as an empty string, never as an error, so that each capability
// can degrade to "unconfigured" on its own.
package keys

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Source yields the current API key for one provider.
type Source interface {
	APIKey(ctx context.Context) (string, error)
}

// Static is a fixed key, typically from the environment.
type Static string

func (s Static) APIKey(context.Context) (string, error) {
	return strings.TrimSpace(string(s)), nil
}

// Func adapts a function to Source.
type Func func(ctx context.Context) (string, error)

func (f Func) APIKey(ctx context.Context) (string, error) { return f(ctx) }

const (
	relayTimeout = 5 * time.Second
	maxRelayBody = 64 << 10
)

// Relay fetches the key from a local relay endpoint on every call. The relay
// answers GET requests with {"apiKey": "..."}.
type Relay struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRelay creates a relay source for endpoint. When provider is non-empty it
// is passed as the "provider" query parameter so one relay can serve several
// backends.
func NewRelay(endpoint, provider string, httpClient *http.Client) *Relay {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: relayTimeout}
	}
	u := endpoint
	if provider != "" {
		if parsed, err := url.Parse(endpoint); err == nil {
			q := parsed.Query()
			q.Set("provider", provider)
			parsed.RawQuery = q.Encode()
			u = parsed.String()
		}
	}
	return &Relay{url: u, httpClient: httpClient, logger: slog.Default()}
}

// APIKey never fails: relay errors are logged and reported as no key.
func (r *Relay) APIKey(ctx context.Context) (string, error) {
	key, err := r.fetch(ctx)
	if err != nil {
		r.logger.Warn("key relay unavailable", "url", r.url, "error", err)
		return "", nil
	}
	return key, nil
}

func (r *Relay) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting key: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body struct {
		APIKey string `json:"apiKey"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRelayBody)).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding relay response: %w", err)
	}
	return strings.TrimSpace(body.APIKey), nil
}

// Chain returns the first non-empty key among its sources.
type Chain []Source

func (c Chain) APIKey(ctx context.Context) (string, error) {
	for _, s := range c {
		if s == nil {
			continue
		}
		key, err := s.APIKey(ctx)
		if err != nil {
			return "", err
		}
		if key != "" {
			return key, nil
		}
	}
	return "", nil
}

// For builds the usual source for a provider: the configured key first, then
// the relay when one is configured.
func For(provider, configured, relayURL string) Source {
	chain := Chain{Static(configured)}
	if relayURL != "" {
		chain = append(chain, NewRelay(relayURL, provider, nil))
	}
	return chain
}
