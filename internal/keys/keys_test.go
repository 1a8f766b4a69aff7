package keys

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	k, err := Static("  sk-test \n").APIKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sk-test", k)
}

func TestRelay_FetchesEveryCall(t *testing.T) {
	var calls atomic.Int32
	var gotProvider atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		gotProvider.Store(r.URL.Query().Get("provider"))
		w.Write([]byte(`{"apiKey":"relayed-key"}`))
	}))
	defer srv.Close()

	r := NewRelay(srv.URL+"/api/get-key", "openai", srv.Client())
	for i := 0; i < 2; i++ {
		k, err := r.APIKey(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "relayed-key", k)
	}
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "openai", gotProvider.Load())
}

func TestRelay_FailureMeansNoKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	k, err := NewRelay(srv.URL, "", srv.Client()).APIKey(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, k)

	srv.Close()
	k, err = NewRelay(srv.URL, "", nil).APIKey(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, k)
}

func TestRelay_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	k, err := NewRelay(srv.URL, "", srv.Client()).APIKey(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, k)
}

func TestChain(t *testing.T) {
	c := Chain{Static(""), nil, Func(func(context.Context) (string, error) { return "second", nil })}
	k, err := c.APIKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", k)

	k, err = Chain{Static("")}.APIKey(context.Background())
	require.NoError(t, err)
	assert.Empty(t, k)
}

func TestFor_PrefersConfiguredKey(t *testing.T) {
	k, err := For("gemini", "configured", "http://127.0.0.1:1").APIKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "configured", k)
}
