package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/cory/internal/creature"
	"github.com/kalambet/cory/internal/llm"
	"github.com/kalambet/cory/internal/notify"
)

type fakeChatter struct {
	mu      sync.Mutex
	err     error
	gate    chan struct{}
	system  string
	history []llm.Message
}

func (f *fakeChatter) Chat(_ context.Context, system string, history []llm.Message, user string) (string, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.system = system
	f.history = append([]llm.Message(nil), history...)
	if f.err != nil {
		return "", f.err
	}
	return "re: " + user, nil
}

func (f *fakeChatter) lastHistory() []llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history
}

func mochi() creature.Record {
	return creature.Record{
		ID:          "cory-1",
		Name:        "Mochi",
		Personality: creature.Personality{Traits: []string{"sunny", "bold"}, Description: "Loves warm rocks."},
		Story:       creature.Story{Summary: "Found under a fern.", Lines: []string{"Hi!", "I like ferns."}},
	}
}

func kinds(f *notify.Feed) []notify.Kind {
	var out []notify.Kind
	for _, n := range f.List(0) {
		out = append(out, n.Kind)
	}
	return out
}

func TestSend_UsesBackend(t *testing.T) {
	backend := &fakeChatter{}
	s := NewSession(backend, nil, 0)

	reply, err := s.Send(context.Background(), mochi(), "  hello there ")
	require.NoError(t, err)
	assert.Equal(t, "re: hello there", reply)

	h := s.History()
	require.Len(t, h, 2)
	assert.Equal(t, Message{Speaker: SpeakerUser, Text: "hello there", At: h[0].At}, h[0])
	assert.Equal(t, SpeakerCreature, h[1].Speaker)
	assert.Equal(t, "re: hello there", h[1].Text)
	assert.Contains(t, backend.system, `"Mochi"`)
	assert.Empty(t, backend.lastHistory())

	_, err = s.Send(context.Background(), mochi(), "again")
	require.NoError(t, err)
	prior := backend.lastHistory()
	require.Len(t, prior, 2)
	assert.Equal(t, llm.RoleUser, prior[0].Role)
	assert.Equal(t, llm.RoleAssistant, prior[1].Role)
}

func TestSend_EmptyMessage(t *testing.T) {
	s := NewSession(&fakeChatter{}, nil, 0)
	_, err := s.Send(context.Background(), mochi(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, s.History())
}

func TestSend_ConcurrentSendRejected(t *testing.T) {
	gate := make(chan struct{})
	feed := notify.NewFeed(10)
	s := NewSession(&fakeChatter{gate: gate}, feed, 0)

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = s.Send(context.Background(), mochi(), "first")
	}()

	require.Eventually(t, s.Awaiting, 2*time.Second, time.Millisecond)
	_, err := s.Send(context.Background(), mochi(), "second")
	assert.ErrorIs(t, err, ErrAwaitingResponse)
	assert.Equal(t, []notify.Kind{notify.KindAwaiting}, kinds(feed))

	close(gate)
	wg.Wait()
	require.NoError(t, firstErr)

	h := s.History()
	require.Len(t, h, 2)
	assert.Equal(t, "first", h[0].Text)
	assert.Equal(t, "re: first", h[1].Text)
	assert.False(t, s.Awaiting())
}

func TestSend_ReplyAfterResetIsNotKept(t *testing.T) {
	gate := make(chan struct{})
	s := NewSession(&fakeChatter{gate: gate}, nil, 0)

	done := make(chan string)
	go func() {
		reply, _ := s.Send(context.Background(), mochi(), "hello mochi")
		done <- reply
	}()

	require.Eventually(t, s.Awaiting, 2*time.Second, time.Millisecond)
	s.Reset()
	close(gate)

	assert.Equal(t, "re: hello mochi", <-done)
	assert.Empty(t, s.History())
	assert.False(t, s.Awaiting())

	// The next conversation starts clean.
	_, err := s.Send(context.Background(), mochi(), "hi again")
	require.NoError(t, err)
	assert.Len(t, s.History(), 2)
}

func TestSend_TrimsHistory(t *testing.T) {
	backend := &fakeChatter{}
	s := NewSession(backend, nil, 30)

	for i := 1; i <= 35; i++ {
		_, err := s.Send(context.Background(), mochi(), fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}

	h := s.History()
	require.Len(t, h, 30)
	assert.Equal(t, "msg 21", h[0].Text)
	assert.Equal(t, "re: msg 35", h[29].Text)
	for i := 0; i < len(h); i += 2 {
		assert.Equal(t, SpeakerUser, h[i].Speaker)
		assert.Equal(t, SpeakerCreature, h[i+1].Speaker)
	}
	assert.Len(t, backend.lastHistory(), 30)
}

func TestSend_BackendFailureFallsBack(t *testing.T) {
	feed := notify.NewFeed(10)
	s := NewSession(&fakeChatter{err: &llm.UpstreamError{Provider: "openai", Status: 500, Message: "boom"}}, feed, 0)
	s.pick = func(int) int { return 0 }

	reply, err := s.Send(context.Background(), mochi(), "What's your name?")
	require.NoError(t, err)
	assert.Equal(t, "My name is Mochi!", reply)
	assert.Equal(t, []notify.Kind{notify.KindChatFailed}, kinds(feed))
	assert.Len(t, s.History(), 2)
}

func TestSend_UnconfiguredFallsBackQuietly(t *testing.T) {
	feed := notify.NewFeed(10)
	for _, backend := range []llm.Chatter{nil, &fakeChatter{err: llm.ErrUnconfigured}} {
		s := NewSession(backend, feed, 0)
		s.pick = func(int) int { return 1 }
		reply, err := s.Send(context.Background(), mochi(), "blah")
		require.NoError(t, err)
		assert.Equal(t, defaultReplies[1], reply)
	}
	assert.Empty(t, feed.List(0))
}

func TestSend_EmptyReplyFallsBack(t *testing.T) {
	s := NewSession(chatterFunc(func() (string, error) { return "  ", nil }), nil, 0)
	s.pick = func(int) int { return 0 }
	reply, err := s.Send(context.Background(), mochi(), "thanks!")
	require.NoError(t, err)
	assert.Equal(t, "You're welcome!", reply)
}

type chatterFunc func() (string, error)

func (f chatterFunc) Chat(context.Context, string, []llm.Message, string) (string, error) { return f() }

func TestOpen_GreetsOnce(t *testing.T) {
	s := NewSession(nil, nil, 0)
	h := s.Open(mochi())
	require.Len(t, h, 1)
	assert.Equal(t, greeting, h[0].Text)

	assert.Len(t, s.Open(mochi()), 1)

	s.Reset()
	assert.Empty(t, s.History())
}

func TestFallback_Keywords(t *testing.T) {
	first := func(int) int { return 0 }
	cases := map[string]string{
		"Hello!":             "Hello! How are you feeling today?",
		"are you HUNGRY":     "I love peaches!",
		"let's play":         "Playing together sounds fun!",
		"nice weather":       "The weather is so nice today!",
		"how do you feel":    "I'm always happy!",
		"thank you":          "You're welcome!",
		"I love you":         "I like you too!",
		"quantum chromodyne": defaultReplies[0],
	}
	for in, want := range cases {
		assert.Equal(t, want, Fallback(mochi(), in, first), "input %q", in)
	}
}

func TestPersona(t *testing.T) {
	p := Persona(mochi())
	assert.Contains(t, p, "Personality: sunny, bold")
	assert.Contains(t, p, "Loves warm rocks.")
	assert.Contains(t, p, "- I like ferns.")
}

func TestSend_CancelledContextStillAnswers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewSession(&fakeChatter{err: context.Canceled}, nil, 0)
	reply, err := s.Send(ctx, mochi(), "hi there")
	require.NoError(t, err)
	assert.NotEmpty(t, reply)
	assert.False(t, errors.Is(err, context.Canceled))
}
