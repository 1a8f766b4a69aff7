package collection

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/cory/internal/storage"
)

type brokenKV struct{ storage.MemoryKV }

func (*brokenKV) Get(string) (string, bool, error) { return "", false, errors.New("io error") }

func TestSaveLoad_RoundTrip(t *testing.T) {
	s, kv, clock := newTestStore(t)
	s.Add(record("a"))
	s.Add(record("b"))
	s.Add(record("c"))
	s.SetRepresentative("c")
	clock.Advance(5 * time.Minute)
	require.NoError(t, s.Save())

	fresh := NewWithClock("1234567890", kv, clock)
	require.NoError(t, fresh.Load())

	want := s.All()
	got := fresh.All()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].Name, got[i].Name)
		assert.Equal(t, want[i].Color, got[i].Color)
		assert.Equal(t, want[i].Personality, got[i].Personality)
		assert.Equal(t, want[i].Story, got[i].Story)
		assert.Equal(t, want[i].SourcePhoto, got[i].SourcePhoto)
		assert.True(t, want[i].CreatedAt.Equal(got[i].CreatedAt))
		assert.Equal(t, want[i].IsRepresentative, got[i].IsRepresentative)
	}
	rep, _ := fresh.Representative()
	assert.Equal(t, "c", rep.ID)
	assert.Equal(t, 5, fresh.TotalPlayTime())
}

func TestLoad_MismatchedAccountStaysEmpty(t *testing.T) {
	s, kv, clock := newTestStore(t)
	s.Add(record("a"))

	other := NewWithClock("someone-else", kv, clock)
	require.NoError(t, other.Load())
	assert.Equal(t, 0, other.Count())
	_, ok := other.Representative()
	assert.False(t, ok)
}

func TestLoad_CorruptPayloadIsAbsent(t *testing.T) {
	kv := storage.NewMemoryKV()
	kv.Set(StorageKey, "{not json")

	s := New("1234567890", kv)
	require.NoError(t, s.Load())
	assert.Equal(t, 0, s.Count())
}

func TestLoad_Missing(t *testing.T) {
	s := New("1234567890", storage.NewMemoryKV())
	require.NoError(t, s.Load())
	assert.Equal(t, 0, s.Count())
}

func TestLoad_BackendError(t *testing.T) {
	s := New("1234567890", &brokenKV{})
	assert.Error(t, s.Load())
}

func TestLoad_RepairsRepresentative(t *testing.T) {
	kv := storage.NewMemoryKV()
	kv.Set(StorageKey, `{
		"accountId": "1234567890",
		"playTime": 12,
		"coryCollection": [
			{"id": "a", "name": "A", "personality": {"traits": ["x"]}, "isRepresentative": true},
			{"id": "b", "name": "B", "personality": {"traits": ["y"]}, "isRepresentative": true},
			{"id": "a", "name": "A2", "personality": {"traits": ["x"]}}
		],
		"representativeCoryId": "ghost"
	}`)

	s := New("1234567890", kv)
	require.NoError(t, s.Load())

	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, "A2", all[0].Name)
	assert.Equal(t, 1, flaggedCount(all))
	rep, _ := s.Representative()
	assert.Equal(t, "a", rep.ID)
	assert.GreaterOrEqual(t, s.TotalPlayTime(), 12)
}

func TestLoad_DefaultsMissingFields(t *testing.T) {
	kv := storage.NewMemoryKV()
	kv.Set(StorageKey, `{"accountId":"1234567890","coryCollection":[{"id":"a","name":"A","color":{"hex":"#ADD8E6"}}]}`)

	s := New("1234567890", kv)
	require.NoError(t, s.Load())

	rec, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, uint8(173), rec.Color.R)
	assert.NotEmpty(t, rec.Personality.Traits)
	assert.NotEmpty(t, rec.ImageRef)
	assert.True(t, rec.IsRepresentative)
}

func TestSave_WithSQLiteBackend(t *testing.T) {
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := New("acct", db)
	_, err = s.Add(record("a"))
	require.NoError(t, err)

	fresh := New("acct", db)
	require.NoError(t, fresh.Load())
	assert.Equal(t, 1, fresh.Count())
}
