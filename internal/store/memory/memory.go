// Package memory implements an in-memory session store for development and testing.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"tools.zach/dev/tallybot/internal/worklog"
)

// Store keeps session documents in a map guarded by a mutex.
type Store struct {
	mu       sync.Mutex
	sessions map[string]worklog.Session
	// order records insertion order so listings are stable.
	order []string
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{sessions: make(map[string]worklog.Session)}
}

// Ensure interfaces are met.
var _ worklog.Store = (*Store)(nil)

// Insert stores a copy of s under a fresh id.
func (st *Store) Insert(_ context.Context, s worklog.Session) (*worklog.Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s.ID = uuid.NewString()
	s.StartTime = s.StartTime.UTC()
	st.sessions[s.ID] = s
	st.order = append(st.order, s.ID)
	return clone(s), nil
}

// FindOpen returns the first unfinished session for the user.
func (st *Store) FindOpen(_ context.Context, discordID, discriminator string) (*worklog.Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, id := range st.order {
		s := st.sessions[id]
		if s.DiscordID == discordID && s.Discriminator == discriminator && !s.IsFinished {
			return clone(s), nil
		}
	}
	return nil, nil
}

// MarkFinished closes the session with the given id.
func (st *Store) MarkFinished(_ context.Context, id string, endTime time.Time, timeSpentMS int64) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return worklog.ErrSessionNotFound
	}
	end := endTime.UTC()
	s.EndTime = &end
	s.TimeSpent = &timeSpentMS
	s.IsFinished = true
	st.sessions[id] = s
	return nil
}

// ListByUser returns every session owned by discordID in insertion order.
func (st *Store) ListByUser(_ context.Context, discordID string) ([]worklog.Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	var out []worklog.Session
	for _, id := range st.order {
		if s := st.sessions[id]; s.DiscordID == discordID {
			out = append(out, *clone(s))
		}
	}
	return out, nil
}

// LatestEnded returns the user's session with the latest end time.
func (st *Store) LatestEnded(_ context.Context, discordID string) (*worklog.Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	var latest *worklog.Session
	for _, id := range st.order {
		s := st.sessions[id]
		if s.DiscordID != discordID || s.EndTime == nil {
			continue
		}
		if latest == nil || s.EndTime.After(*latest.EndTime) {
			latest = clone(s)
		}
	}
	return latest, nil
}

// Get returns the session with the given id, or nil.
func (st *Store) Get(_ context.Context, id string) (*worklog.Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.sessions[id]; ok {
		return clone(s), nil
	}
	return nil, nil
}

// Delete removes the session with the given id if present.
func (st *Store) Delete(_ context.Context, id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.sessions[id]; !ok {
		return nil
	}
	delete(st.sessions, id)
	for i, o := range st.order {
		if o == id {
			st.order = append(st.order[:i], st.order[i+1:]...)
			break
		}
	}
	return nil
}

// UpdateEndTime overwrites the end time and time spent of a session.
func (st *Store) UpdateEndTime(_ context.Context, id string, endTime time.Time, timeSpentMS int64) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return worklog.ErrSessionNotFound
	}
	end := endTime.UTC()
	s.EndTime = &end
	s.TimeSpent = &timeSpentMS
	st.sessions[id] = s
	return nil
}

// Len returns the number of stored sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// clone deep-copies s so callers never share pointers with the store.
func clone(s worklog.Session) *worklog.Session {
	if s.EndTime != nil {
		end := *s.EndTime
		s.EndTime = &end
	}
	if s.TimeSpent != nil {
		ms := *s.TimeSpent
		s.TimeSpent = &ms
	}
	return &s
}
