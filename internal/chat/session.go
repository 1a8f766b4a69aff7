// Package chat keeps the conversation with the representative creature.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/cory/internal/creature"
	"github.com/kalambet/cory/internal/llm"
	"github.com/kalambet/cory/internal/notify"
)

// DefaultHistoryLimit is how many messages are kept and sent as context.
const DefaultHistoryLimit = 30

const greeting = "Hello! Let's talk!"

var (
	ErrAwaitingResponse = errors.New("still waiting for the previous reply")
	ErrEmptyMessage     = errors.New("message is empty")
)

type Speaker string

const (
	SpeakerUser     Speaker = "user"
	SpeakerCreature Speaker = "cory"
)

type Message struct {
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Session is a single bounded conversation. Only one Send may be in flight.
type Session struct {
	backend  llm.Chatter
	notifier notify.Notifier
	limit    int
	logger   *slog.Logger
	now      func() time.Time
	pick     func(n int) int

	mu       sync.Mutex
	messages []Message
	awaiting bool
	// epoch changes on Reset; a reply begun in an older epoch is not kept.
	epoch uint64
}

// NewSession creates an empty session. A nil backend always uses local
// replies. limit <= 0 uses DefaultHistoryLimit.
func NewSession(backend llm.Chatter, notifier notify.Notifier, limit int) *Session {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Session{
		backend:  backend,
		notifier: notifier,
		limit:    limit,
		logger:   slog.Default(),
		now:      time.Now,
		pick:     rand.IntN,
	}
}

// Send asks c for a reply to text. Backend failures are answered locally and
// are not returned as errors; the only errors are ErrEmptyMessage and
// ErrAwaitingResponse.
func (s *Session) Send(ctx context.Context, c creature.Record, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}

	s.mu.Lock()
	if s.awaiting {
		s.mu.Unlock()
		s.notifier.Notify(notify.Notice{Kind: notify.KindAwaiting, Message: "Waiting for a response..."})
		return "", ErrAwaitingResponse
	}
	s.awaiting = true
	epoch := s.epoch
	history := make([]llm.Message, 0, len(s.messages))
	for _, m := range s.messages {
		role := llm.RoleUser
		if m.Speaker == SpeakerCreature {
			role = llm.RoleAssistant
		}
		history = append(history, llm.Message{Role: role, Content: m.Text})
	}
	s.mu.Unlock()

	sent := s.now()
	reply, err := s.ask(ctx, c, history, text)
	if err != nil {
		if errors.Is(err, llm.ErrUnconfigured) {
			s.logger.Debug("chat backend unconfigured, replying locally")
		} else {
			s.logger.Warn("chat backend failed, replying locally", "error", err)
			s.notifier.Notify(notify.Notice{Kind: notify.KindChatFailed, Message: "Couldn't get a reply. Please try again.", RecordID: c.ID})
		}
		reply = Fallback(c, text, s.pick)
	}

	s.mu.Lock()
	if s.epoch == epoch {
		s.messages = append(s.messages,
			Message{Speaker: SpeakerUser, Text: text, At: sent},
			Message{Speaker: SpeakerCreature, Text: reply, At: s.now()},
		)
		s.trimLocked()
	}
	s.awaiting = false
	s.mu.Unlock()

	return reply, nil
}

func (s *Session) ask(ctx context.Context, c creature.Record, history []llm.Message, text string) (string, error) {
	if s.backend == nil {
		return "", llm.ErrUnconfigured
	}
	reply, err := s.backend.Chat(ctx, Persona(c), history, text)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("empty reply")
	}
	return reply, nil
}

// Open greets the user when the conversation is empty and returns the
// history.
func (s *Session) Open(c creature.Record) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		s.messages = append(s.messages, Message{Speaker: SpeakerCreature, Text: greeting, At: s.now()})
	}
	return append([]Message(nil), s.messages...)
}

func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Awaiting reports whether a reply is in flight.
func (s *Session) Awaiting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.awaiting
}

// Reset clears the conversation, typically when the representative changes.
func (s *Session) Reset() {
	s.mu.Lock()
	s.messages = nil
	s.epoch++
	s.mu.Unlock()
}

func (s *Session) trimLocked() {
	if over := len(s.messages) - s.limit; over > 0 {
		s.messages = append([]Message(nil), s.messages[over:]...)
	}
}

// Persona is the system prompt that makes the backend speak as c.
func Persona(c creature.Record) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a cute Cory named %q.\n\n", c.Name)
	if len(c.Personality.Traits) > 0 {
		fmt.Fprintf(&sb, "Personality: %s\n", strings.Join(c.Personality.Traits, ", "))
	}
	if c.Personality.Description != "" {
		sb.WriteString(c.Personality.Description + "\n\n")
	}
	if len(c.Story.Lines) > 0 {
		sb.WriteString("Your story:\n")
		for _, line := range c.Story.Lines {
			sb.WriteString("- " + line + "\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString(`Role:
- Chat with the user in a friendly way.
- React based on your personality and story.
- Use short, natural, conversational sentences.
- Answer in one to three sentences.
- Reply in the language the user writes in.`)
	return sb.String()
}
