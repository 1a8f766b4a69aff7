package collection

import "time"

// Summary is the account-level view shown on the profile screen.
type Summary struct {
	AccountID        string    `json:"accountId"`
	Count            int       `json:"count"`
	RepresentativeID string    `json:"representativeId,omitempty"`
	PlayTimeMinutes  int       `json:"playTimeMinutes"`
	CreatedAt        time.Time `json:"createdAt"`
	LastLogin        time.Time `json:"lastLogin"`
}

// TotalPlayTime returns accumulated minutes plus whole minutes elapsed in
// the current session.
func (s *Store) TotalPlayTime() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalPlayTimeLocked()
}

// UpdatePlayTime folds the current session into the accumulated total and
// restarts the session clock.
func (s *Store) UpdatePlayTime() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.foldPlayTimeLocked()
	return s.playMinutes
}

func (s *Store) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Summary{
		AccountID:        s.accountID,
		Count:            len(s.records),
		RepresentativeID: s.representativeID,
		PlayTimeMinutes:  s.totalPlayTimeLocked(),
		CreatedAt:        s.createdAt.UTC(),
		LastLogin:        s.lastLogin.UTC(),
	}
}

func (s *Store) totalPlayTimeLocked() int {
	elapsed := s.clock.Now().Sub(s.sessionStart)
	if elapsed < 0 {
		elapsed = 0
	}
	return s.playMinutes + int(elapsed/time.Minute)
}

// foldPlayTimeLocked only advances the session start by whole minutes so
// partial minutes are not lost across saves.
func (s *Store) foldPlayTimeLocked() {
	elapsed := s.clock.Now().Sub(s.sessionStart)
	if elapsed < time.Minute {
		return
	}
	whole := elapsed / time.Minute
	s.playMinutes += int(whole)
	s.sessionStart = s.sessionStart.Add(whole * time.Minute)
}
