package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeed_AssignsIDsInOrder(t *testing.T) {
	f := NewFeed(10)
	f.Notify(Notice{Kind: KindReady, Message: "one"})
	f.Notify(Notice{Kind: KindBusy, Message: "two"})

	all := f.List(0)
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0].ID)
	assert.Equal(t, int64(2), all[1].ID)
	assert.False(t, all[0].At.IsZero())

	later := f.List(1)
	require.Len(t, later, 1)
	assert.Equal(t, "two", later[0].Message)
}

func TestFeed_DropsOldest(t *testing.T) {
	f := NewFeed(3)
	for i := 0; i < 5; i++ {
		f.Notify(Notice{Kind: KindReady})
	}
	all := f.List(0)
	require.Len(t, all, 3)
	assert.Equal(t, int64(3), all[0].ID)
}

func TestFeed_Unread(t *testing.T) {
	f := NewFeed(0)
	assert.False(t, f.HasUnread())

	f.Notify(Notice{Kind: KindReady})
	assert.True(t, f.HasUnread())

	f.MarkRead()
	assert.False(t, f.HasUnread())
}

func TestFeed_Subscribe(t *testing.T) {
	f := NewFeed(0)
	ch, cancel := f.Subscribe(1)

	f.Notify(Notice{Kind: KindEscaped, Message: "gone"})
	select {
	case n := <-ch:
		assert.Equal(t, KindEscaped, n.Kind)
	case <-time.After(time.Second):
		t.Fatal("no notice delivered")
	}

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel must not panic.
	f.Notify(Notice{Kind: KindReady})
}
