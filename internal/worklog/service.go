package worklog

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Service encapsulates the work-session use cases.
type Service struct {
	store Store
}

// NewService creates a Service backed by the given store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// SaveNewSession inserts an unfinished session and returns the stored copy.
func (s *Service) SaveNewSession(ctx context.Context, ns NewSession) (*Session, error) {
	if ns.DiscordID == "" {
		return nil, errors.New("discord id is required")
	}
	sess, err := s.store.Insert(ctx, Session{
		DiscordID:     ns.DiscordID,
		Username:      ns.Username,
		Discriminator: ns.Discriminator,
		StartTime:     ns.StartTime,
		Subject:       ns.Subject,
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("session started", "session_id", sess.ID, "discord_id", sess.DiscordID, "subject", sess.Subject)
	return sess, nil
}

// OpenSession returns the user's unfinished session, or nil.
func (s *Service) OpenSession(ctx context.Context, discordID, discriminator string) (*Session, error) {
	return s.store.FindOpen(ctx, discordID, discriminator)
}

// FinishSession closes the user's open session. It returns nil, nil when
// the user has no open session.
//
// The lookup and the update are separate store calls; a concurrent
// SaveNewSession or FinishSession for the same user can interleave.
func (s *Service) FinishSession(ctx context.Context, req FinishRequest) (*Finished, error) {
	open, err := s.store.FindOpen(ctx, req.DiscordID, req.Discriminator)
	if err != nil {
		return nil, err
	}
	if open == nil {
		return nil, nil
	}

	elapsed := req.EndTime.Sub(open.StartTime)
	ms := elapsed.Milliseconds()
	if err := s.store.MarkFinished(ctx, open.ID, req.EndTime, ms); err != nil {
		return nil, err
	}
	slog.Debug("session finished", "session_id", open.ID, "time_spent_ms", ms)

	return &Finished{
		SessionID:   open.ID,
		Subject:     open.Subject,
		Elapsed:     elapsed,
		TimeSpentMS: ms,
		Formatted:   FormatDuration(elapsed),
	}, nil
}

// GetUserSubjects returns each distinct non-empty subject the user has
// tagged a session with, in first-seen order.
func (s *Service) GetUserSubjects(ctx context.Context, discordID string) ([]string, error) {
	sessions, err := s.store.ListByUser(ctx, discordID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(sessions))
	subjects := []string{}
	for _, sess := range sessions {
		if sess.Subject == "" || seen[sess.Subject] {
			continue
		}
		seen[sess.Subject] = true
		subjects = append(subjects, sess.Subject)
	}
	return subjects, nil
}

// GetLatestSession returns the user's most recently ended session, or nil.
func (s *Service) GetLatestSession(ctx context.Context, discordID string) (*Session, error) {
	return s.store.LatestEnded(ctx, discordID)
}

// RemoveSessionWithUserID deletes the session only when userID owns it.
// Any other outcome of the ownership check is reported as [ErrRemoveDenied].
func (s *Service) RemoveSessionWithUserID(ctx context.Context, sessionID, userID string) error {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil || sess.DiscordID != userID {
		return ErrRemoveDenied
	}
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	slog.Debug("session removed", "session_id", sessionID, "discord_id", userID)
	return nil
}

// RemoveSession deletes the session unconditionally.
func (s *Service) RemoveSession(ctx context.Context, sessionID string) error {
	return s.store.Delete(ctx, sessionID)
}

// UpdateSessionEndTime overwrites endTime and timeSpent without checking
// ownership or state.
func (s *Service) UpdateSessionEndTime(ctx context.Context, sessionID string, endTime time.Time, timeSpent time.Duration) error {
	return s.store.UpdateEndTime(ctx, sessionID, endTime, timeSpent.Milliseconds())
}
