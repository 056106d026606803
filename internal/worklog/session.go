// Package worklog records work sessions: tracked intervals of time owned by a
// Discord user and optionally tagged with a subject.
//
// The [Service] implements the session lifecycle on top of a [Store], the
// document-store port. At most one unfinished session per user is expected,
// but that rule is advisory: it is checked with a read followed by a write
// and two concurrent commands for the same user can both pass the check.
package worklog

import (
	"context"
	"errors"
	"time"
)

// ///////////////////////////////////////////////
// Sentinel Errors
// ///////////////////////////////////////////////

// ErrRemoveDenied is returned by [Service.RemoveSessionWithUserID] when the
// session does not exist or belongs to someone else. It carries no detail.
var ErrRemoveDenied = errors.New("session cannot be removed")

// ErrSessionNotFound is returned by updates that matched no document.
var ErrSessionNotFound = errors.New("session not found")

// ///////////////////////////////////////////////
// Data Types
// ///////////////////////////////////////////////

// Session is one tracked work interval.
type Session struct {
	// ID is the store-generated document id.
	ID string
	// DiscordID identifies the owning user. It is not unique per session.
	DiscordID string
	// Username and Discriminator are the user's display identity at creation time.
	Username      string
	Discriminator string
	StartTime     time.Time
	// EndTime is nil until the session is finished.
	EndTime    *time.Time
	IsFinished bool
	// Subject is optional free text; empty means untagged.
	Subject string
	// TimeSpent is the elapsed time in milliseconds, nil until finished.
	TimeSpent *int64
}

// Elapsed returns the recorded time spent, or zero when the session is open.
func (s *Session) Elapsed() time.Duration {
	if s == nil || s.TimeSpent == nil {
		return 0
	}
	return time.Duration(*s.TimeSpent) * time.Millisecond
}

// NewSession holds the fields supplied when a session starts.
type NewSession struct {
	DiscordID     string
	Username      string
	Discriminator string
	StartTime     time.Time
	Subject       string
}

// FinishRequest identifies the user whose open session should be closed.
type FinishRequest struct {
	DiscordID     string
	Discriminator string
	EndTime       time.Time
}

// Finished describes a session closed by [Service.FinishSession].
type Finished struct {
	SessionID   string
	Subject     string
	Elapsed     time.Duration
	TimeSpentMS int64
	// Formatted is the human-readable rendering of Elapsed.
	Formatted string
}

// ///////////////////////////////////////////////
// Store Port
// ///////////////////////////////////////////////

// Store is the persistence port for session documents. Lookups return
// nil, nil when nothing matches; every other error comes from the backing
// store and is passed through unchanged.
type Store interface {
	// Insert stores s and returns it with its new ID.
	Insert(ctx context.Context, s Session) (*Session, error)
	// FindOpen returns one unfinished session for the user.
	FindOpen(ctx context.Context, discordID, discriminator string) (*Session, error)
	// MarkFinished sets endTime, timeSpent and isFinished=true.
	MarkFinished(ctx context.Context, id string, endTime time.Time, timeSpentMS int64) error
	// ListByUser returns every session owned by discordID.
	ListByUser(ctx context.Context, discordID string) ([]Session, error)
	// LatestEnded returns the user's session with the greatest endTime.
	// Sessions without an endTime are not considered.
	LatestEnded(ctx context.Context, discordID string) (*Session, error)
	// Get returns the session with the given id.
	Get(ctx context.Context, id string) (*Session, error)
	// Delete removes the session with the given id. Missing ids are not an error.
	Delete(ctx context.Context, id string) error
	// UpdateEndTime sets endTime and timeSpent. It returns
	// [ErrSessionNotFound] when no document has the id.
	UpdateEndTime(ctx context.Context, id string, endTime time.Time, timeSpentMS int64) error
}
