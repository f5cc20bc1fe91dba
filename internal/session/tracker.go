// Package session owns the usage-session lifecycle and daily/weekly/monthly
// aggregation for users and application pseudo-users.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/obyrne/wardend/internal/schedule"
	"github.com/obyrne/wardend/internal/storage"
)

// ErrOutsideSchedule is returned by Start when the user's schedule forbids
// usage at the current time. Callers branch on it with errors.Is; the
// engine reacts by requesting a workstation lock.
var ErrOutsideSchedule = errors.New("session: start denied by schedule")

// EndReasonSuperseded marks a session that was implicitly closed because a
// new session was started for the same user.
const EndReasonSuperseded = "superseded by new session"

// Tracker manages usage sessions. At most one session per user is active at
// any time; starting a new one implicitly ends the previous.
type Tracker struct {
	store     storage.SessionStore
	evaluator *schedule.Evaluator
	clock     schedule.Clock
	logger    zerolog.Logger

	mu     sync.Mutex
	active map[string]*storage.UsageSession // userID -> active session
}

// NewTracker creates a session tracker. The evaluator may be nil for
// pseudo-user accounting contexts where no schedule applies.
func NewTracker(store storage.SessionStore, evaluator *schedule.Evaluator, clock schedule.Clock, logger zerolog.Logger) *Tracker {
	if clock == nil {
		clock = schedule.RealClock{}
	}
	return &Tracker{
		store:     store,
		evaluator: evaluator,
		clock:     clock,
		logger:    logger.With().Str("component", "session-tracker").Logger(),
		active:    make(map[string]*storage.UsageSession),
	}
}

// Restore loads active sessions from storage, e.g. after a restart.
func (t *Tracker) Restore(ctx context.Context) error {
	sessions, err := t.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active sessions: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range sessions {
		s := sessions[i]
		t.active[s.UserID] = &s
	}

	if len(sessions) > 0 {
		t.logger.Info().Int("count", len(sessions)).Msg("Restored active sessions")
	}
	return nil
}

// Start opens a session for the user. If a session is already active for the
// user it is ended first, so the one-active-session invariant always holds.
// When the user's schedule forbids usage the start is refused with
// ErrOutsideSchedule and no session is created.
func (t *Tracker) Start(ctx context.Context, userID string) (*storage.UsageSession, error) {
	now := t.clock.Now()

	if t.evaluator != nil {
		decision, err := t.evaluator.IsAllowed(ctx, userID, now)
		if err != nil {
			return nil, err
		}
		if !decision.Allowed {
			t.logger.Info().
				Str("user_id", userID).
				Str("rule_id", decision.RuleID).
				Msg("Session start denied by schedule")
			return nil, ErrOutsideSchedule
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if prior, ok := t.active[userID]; ok {
		if err := t.closeLocked(ctx, prior, now, EndReasonSuperseded); err != nil {
			return nil, err
		}
	}

	session := &storage.UsageSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		StartedAt: now,
		Active:    true,
	}
	if err := t.store.Upsert(ctx, *session); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	t.active[userID] = session

	t.logger.Info().
		Str("session_id", session.ID).
		Str("user_id", userID).
		Msg("Started usage session")

	return session, nil
}

// End closes a session by ID. Ending an unknown or already-closed session is
// a no-op success.
func (t *Tracker) End(ctx context.Context, id, reason string) error {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, session := range t.active {
		if session.ID == id {
			return t.closeLocked(ctx, session, now, reason)
		}
	}

	session, err := t.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !session.Active {
		return nil
	}
	return t.closeLocked(ctx, session, now, reason)
}

// EndForUser closes the user's active session if one exists.
func (t *Tracker) EndForUser(ctx context.Context, userID, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, ok := t.active[userID]
	if !ok {
		return nil
	}
	return t.closeLocked(ctx, session, t.clock.Now(), reason)
}

// closeLocked finalizes a session. Must be called with the tracker lock held.
func (t *Tracker) closeLocked(ctx context.Context, session *storage.UsageSession, at time.Time, reason string) error {
	end := at
	if end.Before(session.StartedAt) {
		end = session.StartedAt
	}
	session.EndedAt = &end
	session.Active = false
	session.EndReason = reason

	if err := t.store.Upsert(ctx, *session); err != nil {
		return fmt.Errorf("persist session end: %w", err)
	}
	delete(t.active, session.UserID)

	t.logger.Info().
		Str("session_id", session.ID).
		Str("user_id", session.UserID).
		Dur("duration", end.Sub(session.StartedAt)).
		Str("reason", reason).
		Msg("Ended usage session")

	return nil
}

// ActiveSession returns a copy of the user's active session, or nil.
func (t *Tracker) ActiveSession(userID string) *storage.UsageSession {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, ok := t.active[userID]
	if !ok {
		return nil
	}
	copied := *session
	return &copied
}

// ActiveSessions returns copies of all active sessions.
func (t *Tracker) ActiveSessions() []storage.UsageSession {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]storage.UsageSession, 0, len(t.active))
	for _, session := range t.active {
		out = append(out, *session)
	}
	return out
}

// RecordInterval persists an already-closed session for a subject. The
// enforcement loop uses this for per-application usage accounting, with the
// application name as a pseudo-user key. No schedule check applies.
func (t *Tracker) RecordInterval(ctx context.Context, subject string, start, end time.Time) error {
	if !end.After(start) {
		return nil
	}
	session := storage.UsageSession{
		ID:        uuid.NewString(),
		UserID:    subject,
		StartedAt: start,
		EndedAt:   &end,
		Active:    false,
	}
	if err := t.store.Upsert(ctx, session); err != nil {
		return fmt.Errorf("persist usage interval: %w", err)
	}
	return nil
}
