// Package notify holds the toast-style notices raised by the background
// state machines until a presentation layer picks them up.
package notify

import (
	"log/slog"
	"sync"
	"time"
)

type Kind string

const (
	KindReady         Kind = "exploration_ready"
	KindEscaped       Kind = "exploration_escaped"
	KindCancelled     Kind = "exploration_cancelled"
	KindBusy          Kind = "exploration_busy"
	KindMockFallback  Kind = "generation_fallback"
	KindImageFallback Kind = "image_fallback"
	KindImageReady    Kind = "image_ready"
	KindAwaiting      Kind = "chat_awaiting"
	KindChatFailed    Kind = "chat_failed"
)

// Notice is one user-visible, non-blocking message.
type Notice struct {
	ID       int64     `json:"id"`
	Kind     Kind      `json:"kind"`
	Message  string    `json:"message"`
	RecordID string    `json:"recordId,omitempty"`
	At       time.Time `json:"at"`
}

// Notifier receives notices from the state machines.
type Notifier interface {
	Notify(n Notice)
}

// Discard drops every notice.
type Discard struct{}

func (Discard) Notify(Notice) {}

const defaultCapacity = 100

// Feed is a bounded, in-memory notice log. Oldest notices are dropped when
// capacity is reached.
type Feed struct {
	mu       sync.Mutex
	capacity int
	nextID   int64
	notices  []Notice
	readUpTo int64
	subs     []chan Notice
	now      func() time.Time
}

func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Feed{capacity: capacity, now: time.Now}
}

// Notify appends n, assigning its ID and timestamp.
func (f *Feed) Notify(n Notice) {
	f.mu.Lock()
	f.nextID++
	n.ID = f.nextID
	if n.At.IsZero() {
		n.At = f.now().UTC()
	}
	f.notices = append(f.notices, n)
	if over := len(f.notices) - f.capacity; over > 0 {
		f.notices = append([]Notice(nil), f.notices[over:]...)
	}
	for _, ch := range f.subs {
		select {
		case ch <- n:
		default:
		}
	}
	f.mu.Unlock()

	slog.Debug("notice", "kind", n.Kind, "message", n.Message, "record_id", n.RecordID)
}

// List returns notices with an ID greater than since, oldest first.
func (f *Feed) List(since int64) []Notice {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Notice
	for _, n := range f.notices {
		if n.ID > since {
			out = append(out, n)
		}
	}
	return out
}

// HasUnread reports whether any notice arrived after the last MarkRead.
func (f *Feed) HasUnread() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextID > f.readUpTo
}

// MarkRead marks every current notice as read.
func (f *Feed) MarkRead() {
	f.mu.Lock()
	f.readUpTo = f.nextID
	f.mu.Unlock()
}

// Subscribe returns a channel receiving future notices. Slow subscribers miss
// notices rather than blocking publishers. The channel is closed by cancel.
func (f *Feed) Subscribe(buffer int) (<-chan Notice, func()) {
	ch := make(chan Notice, buffer)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			for i, c := range f.subs {
				if c == ch {
					f.subs = append(f.subs[:i], f.subs[i+1:]...)
					break
				}
			}
			f.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
