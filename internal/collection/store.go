package collection

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/cory/internal/creature"
)

// KV is the durable key/value backend the store persists into.
// Implemented by storage.Store and storage.MemoryKV.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Store owns the creatures of one account. Every mutation is persisted before
// the lock is released, so readers never observe an unsaved state.
//
// Invariant: when the collection is non-empty exactly one record is flagged
// representative and representativeID names it; when empty, representativeID
// is "".
type Store struct {
	kv     KV
	clock  Clock
	logger *slog.Logger

	mu               sync.RWMutex
	accountID        string
	records          []creature.Record
	representativeID string
	playMinutes      int
	sessionStart     time.Time
	createdAt        time.Time
	lastLogin        time.Time
}

// New creates an empty store for accountID. Call Load to adopt persisted state.
func New(accountID string, kv KV) *Store {
	return NewWithClock(accountID, kv, realClock{})
}

// NewWithClock creates a Store with a custom clock (for testing).
func NewWithClock(accountID string, kv KV, clock Clock) *Store {
	now := clock.Now()
	return &Store{
		kv:           kv,
		clock:        clock,
		logger:       slog.Default(),
		accountID:    accountID,
		sessionStart: now,
		createdAt:    now,
		lastLogin:    now,
	}
}

// AccountID returns the partition key this store persists under.
func (s *Store) AccountID() string {
	return s.accountID
}

// Add inserts rec or replaces the record with the same id in place. The first
// record of an empty collection becomes representative; otherwise the
// representative is unchanged and rec's own flag is ignored.
func (s *Store) Add(rec creature.Record) (creature.Record, error) {
	rec = rec.Clone()
	rec.Normalize(s.clock.Now())
	if err := rec.Validate(); err != nil {
		return creature.Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexLocked(rec.ID); i >= 0 {
		s.records[i] = rec
	} else {
		s.records = append(s.records, rec)
	}
	if s.representativeID == "" {
		s.representativeID = s.records[0].ID
	}
	s.syncFlagsLocked()

	out := s.records[s.indexLocked(rec.ID)].Clone()
	if err := s.persistLocked(); err != nil {
		return out, err
	}
	return out, nil
}

// Remove deletes the record with id. Removing the representative promotes
// the first remaining record. ok is false when no such record exists.
func (s *Store) Remove(id string) (creature.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return creature.Record{}, false, nil
	}
	removed := s.records[i]
	s.records = append(s.records[:i], s.records[i+1:]...)

	if s.representativeID == id {
		s.representativeID = ""
		if len(s.records) > 0 {
			s.representativeID = s.records[0].ID
		}
	}
	s.syncFlagsLocked()
	removed.IsRepresentative = false

	if err := s.persistLocked(); err != nil {
		return removed, true, err
	}
	return removed, true, nil
}

// Update applies fn to the stored record with id and persists the result.
// The id cannot be changed by fn. ok is false when the record is absent, in
// which case fn is not called.
func (s *Store) Update(id string, fn func(*creature.Record)) (creature.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return creature.Record{}, false, nil
	}
	rec := s.records[i].Clone()
	fn(&rec)
	rec.ID = id
	rec.Normalize(s.clock.Now())
	if err := rec.Validate(); err != nil {
		return creature.Record{}, true, err
	}
	s.records[i] = rec
	s.syncFlagsLocked()

	out := s.records[i].Clone()
	if err := s.persistLocked(); err != nil {
		return out, true, err
	}
	return out, true, nil
}

// Rename changes a creature's display name.
func (s *Store) Rename(id, name string) (creature.Record, bool, error) {
	rec, ok, err := s.Update(id, func(r *creature.Record) { r.Name = name })
	if err != nil {
		return creature.Record{}, ok, fmt.Errorf("renaming %s: %w", id, err)
	}
	return rec, ok, nil
}

// Get returns a copy of the record with id.
func (s *Store) Get(id string) (creature.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.records[i].Clone(), true
	}
	return creature.Record{}, false
}

// All returns copies of every record in insertion order.
func (s *Store) All() []creature.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]creature.Record, len(s.records))
	for i, r := range s.records {
		out[i] = r.Clone()
	}
	return out
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// SetRepresentative flags the record with id as representative and clears the
// previous one. It is a no-op returning ok=false when id is unknown.
func (s *Store) SetRepresentative(id string) (creature.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return creature.Record{}, false, nil
	}
	s.representativeID = id
	s.syncFlagsLocked()

	out := s.records[i].Clone()
	if err := s.persistLocked(); err != nil {
		return out, true, err
	}
	return out, true, nil
}

// Representative returns the flagged record, falling back to the first record.
func (s *Store) Representative() (creature.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.IsRepresentative {
			return r.Clone(), true
		}
	}
	if len(s.records) > 0 {
		return s.records[0].Clone(), true
	}
	return creature.Record{}, false
}

// SeedDefault adds the default creature when the collection is empty.
// It reports whether a record was added.
func (s *Store) SeedDefault() (bool, error) {
	if s.Count() > 0 {
		return false, nil
	}
	if _, err := s.Add(creature.Seed(s.clock.Now())); err != nil {
		return false, fmt.Errorf("seeding default creature: %w", err)
	}
	return true, nil
}

// Reset discards every record and the persisted payload, starting a fresh
// account session.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.records = nil
	s.representativeID = ""
	s.playMinutes = 0
	s.sessionStart = now
	s.createdAt = now
	s.lastLogin = now

	if err := s.kv.Delete(StorageKey); err != nil {
		return fmt.Errorf("deleting saved account: %w", err)
	}
	return nil
}

func (s *Store) indexLocked(id string) int {
	for i, r := range s.records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// syncFlagsLocked makes every record's flag agree with representativeID.
func (s *Store) syncFlagsLocked() {
	for i := range s.records {
		s.records[i].IsRepresentative = s.records[i].ID == s.representativeID
	}
}
