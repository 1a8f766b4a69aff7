package collection

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kalambet/cory/internal/creature"
)

// StorageKey is the fixed key the account payload is saved under.
const StorageKey = "cory_account"

type payload struct {
	AccountID            string            `json:"accountId"`
	PlayTime             int               `json:"playTime"`
	CoryCollection       []creature.Record `json:"coryCollection"`
	RepresentativeCoryID *string           `json:"representativeCoryId"`
	CreatedAt            time.Time         `json:"createdAt"`
	LastLogin            time.Time         `json:"lastLogin"`
}

// Save folds elapsed session time into the accumulated play time and writes
// the account payload.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.foldPlayTimeLocked()
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	p := payload{
		AccountID:      s.accountID,
		PlayTime:       s.playMinutes,
		CoryCollection: s.records,
		CreatedAt:      s.createdAt.UTC(),
		LastLogin:      s.lastLogin.UTC(),
	}
	if p.CoryCollection == nil {
		p.CoryCollection = []creature.Record{}
	}
	if s.representativeID != "" {
		id := s.representativeID
		p.RepresentativeCoryID = &id
	}

	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshalling account: %w", err)
	}
	if err := s.kv.Set(StorageKey, string(b)); err != nil {
		return fmt.Errorf("saving account: %w", err)
	}
	return nil
}

// Load replaces the in-memory state with the persisted payload. A missing,
// unparseable or foreign (different accountId) payload leaves the store
// empty; only a failing backend is reported as an error.
func (s *Store) Load() error {
	raw, ok, err := s.kv.Get(StorageKey)
	if err != nil {
		return fmt.Errorf("reading saved account: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.records = nil
	s.representativeID = ""
	s.playMinutes = 0
	s.sessionStart = now
	s.createdAt = now
	s.lastLogin = now

	if !ok {
		return nil
	}

	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		s.logger.Warn("ignoring corrupt saved account", "error", err)
		return nil
	}
	if p.AccountID != s.accountID {
		s.logger.Warn("ignoring saved account for a different account id",
			"saved", p.AccountID, "current", s.accountID)
		return nil
	}

	seen := make(map[string]int, len(p.CoryCollection))
	flagged := ""
	for _, r := range p.CoryCollection {
		r.Normalize(now)
		if err := r.Validate(); err != nil {
			s.logger.Warn("dropping invalid saved creature", "id", r.ID, "error", err)
			continue
		}
		if r.IsRepresentative && flagged == "" {
			flagged = r.ID
		}
		if i, dup := seen[r.ID]; dup {
			s.records[i] = r
			continue
		}
		seen[r.ID] = len(s.records)
		s.records = append(s.records, r)
	}

	switch {
	case p.RepresentativeCoryID != nil && s.indexLocked(*p.RepresentativeCoryID) >= 0:
		s.representativeID = *p.RepresentativeCoryID
	case flagged != "" && s.indexLocked(flagged) >= 0:
		s.representativeID = flagged
	case len(s.records) > 0:
		s.representativeID = s.records[0].ID
	}
	s.syncFlagsLocked()

	if p.PlayTime > 0 {
		s.playMinutes = p.PlayTime
	}
	if !p.CreatedAt.IsZero() {
		s.createdAt = p.CreatedAt
	}
	return nil
}

// RunAutoSave saves every interval until ctx is cancelled, then saves once
// more. Save failures are logged, not returned.
func (s *Store) RunAutoSave(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.Save(); err != nil {
				s.logger.Error("final autosave failed", "error", err)
			}
			return nil
		case <-ticker.C:
			if err := s.Save(); err != nil {
				s.logger.Warn("autosave failed", "error", err)
			}
		}
	}
}
