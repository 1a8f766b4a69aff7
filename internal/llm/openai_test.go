package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/cory/internal/keys"
)

const completionJSON = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1,
	"model": "gpt-4o",
	"choices": [{"index": 0, "message": {"role": "assistant", "content": "%s"}, "finish_reason": "stop"}]
}`

type capturedRequest struct {
	Model    string            `json:"model"`
	Messages []json.RawMessage `json:"messages"`
}

func fastRetry() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}
}

func TestOpenAI_Chat(t *testing.T) {
	var got capturedRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(strings.Replace(completionJSON, "%s", "Hi there!", 1)))
	}))
	defer srv.Close()

	c := NewOpenAI(Options{Model: "gpt-4o", BaseURL: srv.URL + "/v1", Keys: keys.Static("sk-test"), Retry: fastRetry()})
	reply, err := c.Chat(context.Background(), "You are Cory.", []Message{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi"},
	}, "how are you?")
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", reply)
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "gpt-4o", got.Model)
	// system + 2 history + user
	assert.Len(t, got.Messages, 4)
}

func TestOpenAI_Describe_SendsDataURL(t *testing.T) {
	var raw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		raw = string(body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(strings.Replace(completionJSON, "%s", "{}", 1)))
	}))
	defer srv.Close()

	c := NewOpenAI(Options{Model: "gpt-4o", BaseURL: srv.URL + "/v1", Keys: keys.Static("k"), Retry: fastRetry()})
	_, err := c.Describe(context.Background(), "analyze", "describe this", []byte{1, 2, 3}, "image/png")
	require.NoError(t, err)
	assert.Contains(t, raw, "data:image/png;base64,AQID")
	assert.Contains(t, raw, `"detail":"low"`)
}

func TestOpenAI_UnconfiguredMakesNoRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := NewOpenAI(Options{Model: "gpt-4o", BaseURL: srv.URL, Keys: keys.Static("")})
	_, err := c.Chat(context.Background(), "sys", nil, "hi")
	assert.ErrorIs(t, err, ErrUnconfigured)
	_, err = c.Describe(context.Background(), "sys", "p", []byte{1}, "image/png")
	assert.ErrorIs(t, err, ErrUnconfigured)
	assert.Equal(t, int32(0), calls.Load())
}

func TestOpenAI_ServerErrorIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(strings.Replace(completionJSON, "%s", "finally", 1)))
	}))
	defer srv.Close()

	c := NewOpenAI(Options{Model: "m", BaseURL: srv.URL + "/v1", Keys: keys.Static("k"), Retry: fastRetry()})
	reply, err := c.Chat(context.Background(), "sys", nil, "hi")
	require.NoError(t, err)
	assert.Equal(t, "finally", reply)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenAI_ClientErrorIsUpstreamError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	c := NewOpenAI(Options{Model: "m", BaseURL: srv.URL + "/v1", Keys: keys.Static("k"), Retry: fastRetry()})
	_, err := c.Chat(context.Background(), "sys", nil, "hi")

	var up *UpstreamError
	require.True(t, errors.As(err, &up), "err = %v", err)
	assert.Equal(t, http.StatusUnauthorized, up.Status)
	assert.Equal(t, "bad key", up.Message)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOllama_RunsWithoutKey(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(strings.Replace(completionJSON, "%s", "local", 1)))
	}))
	defer srv.Close()

	c := NewOllama(Options{Model: "llava", BaseURL: srv.URL, Keys: keys.Static("")})
	reply, err := c.Chat(context.Background(), "sys", nil, "hi")
	require.NoError(t, err)
	assert.Equal(t, "local", reply)
	assert.Equal(t, "/v1/chat/completions", path)
}

func TestGeminiAndClaude_Unconfigured(t *testing.T) {
	ctx := context.Background()

	_, err := NewGemini(Options{Model: "gemini-2.5-flash", Keys: keys.Static("")}).Chat(ctx, "s", nil, "u")
	assert.ErrorIs(t, err, ErrUnconfigured)

	_, err = NewGemini(Options{Model: "gemini-2.5-flash"}).Describe(ctx, "i", "p", []byte{1}, "image/png")
	assert.ErrorIs(t, err, ErrUnconfigured)

	_, err = NewClaude(Options{Model: "claude-sonnet-4-5", Keys: keys.Static("")}).Chat(ctx, "s", nil, "u")
	assert.ErrorIs(t, err, ErrUnconfigured)
}

func TestFactory(t *testing.T) {
	for _, p := range []string{"openai", "gemini", "claude", "ollama", ""} {
		c, err := NewChatter(p, Options{})
		require.NoError(t, err, p)
		assert.NotNil(t, c)
	}
	_, err := NewChatter("bard", Options{})
	assert.Error(t, err)

	_, err = NewVision("claude", Options{})
	assert.Error(t, err)
	v, err := NewVision("gemini", Options{})
	require.NoError(t, err)
	assert.NotNil(t, v)
}
